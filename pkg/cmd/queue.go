package cmd

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/ledgerflow/conductor/pkg/queue"
)

// NewQueue connects the redis-backed execution queue from a redis:// URL.
// An empty URL means no queue: dispatch falls back to in-process runs.
func NewQueue(ctx context.Context, logger *slog.Logger, redisURL string) (*queue.Queue, error) {
	if redisURL == "" {
		return nil, nil
	}

	cfg, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}

	return queue.NewQueue(ctx, logger, cfg)
}

func parseRedisURL(redisURL string) (queue.Config, error) {
	parsed, err := url.Parse(redisURL)
	if err != nil {
		return queue.Config{}, err
	}

	cfg := queue.Config{Addr: parsed.Host}

	if parsed.User != nil {
		cfg.Password, _ = parsed.User.Password()
	}

	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		if db, err := strconv.Atoi(path); err == nil {
			cfg.DB = db
		}
	}

	return cfg, nil
}
