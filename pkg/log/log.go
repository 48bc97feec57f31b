// Package log configures the process-wide slog logger. Binaries call Setup
// once at startup; packages derive their own logger through WithModule.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr at the given level and tags every
// record with the service name. Unrecognized levels fall back to info.
func Setup(logLevel string) {
	var level slog.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler).With("service", "conductor"))
}

// WithModule returns the default logger scoped to one conductor module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
