// Package logstep provides the log step executor, mostly useful while
// developing a workflow.
package logstep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledgerflow/conductor/pkg/protocol"
	"github.com/ledgerflow/conductor/pkg/template"
)

type Executor struct {
	logger  *slog.Logger
	message string
	level   slog.Level
}

func newExecutor(config map[string]any, logger *slog.Logger) (*Executor, error) {
	message, _ := config["message"].(string)
	if message == "" {
		message = "{{json .}}"
	}

	level := slog.LevelInfo

	if name, ok := config["level"].(string); ok && name != "" {
		switch name {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			return nil, fmt.Errorf("unknown log level %q", name)
		}
	}

	return &Executor{
		logger:  logger.With("module", "log_step"),
		message: message,
		level:   level,
	}, nil
}

// Execute renders the message over the input, logs it and passes the input
// through unchanged so dependents see the upstream payload.
func (e *Executor) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	message, err := template.RenderString(e.message, input)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message: %w", err)
	}

	e.logger.Log(ctx, e.level, message)

	return input, nil
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "log"
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.StepExecutor, error) {
	return newExecutor(config, logger)
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message template. Defaults to the full step input as JSON.",
			},
			"level": map[string]any{
				"type": "string",
				"enum": []string{"debug", "info", "warn", "error"},
			},
		},
		"additionalProperties": false,
	}
}
