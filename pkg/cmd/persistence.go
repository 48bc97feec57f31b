// Package cmd provides shared initialization for the conductor binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/persistence/file"
	"github.com/ledgerflow/conductor/pkg/persistence/postgresql"
)

// NewPersistence builds the store from the database URL scheme. Postgres URLs
// get the SQL store; anything else is treated as a directory path for the
// JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
