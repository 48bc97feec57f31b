// Package queue provides the Redis-backed pending execution queue. Dispatched
// executions wait here until an engine worker picks them up; the monitor reads
// queue depth and age for its health view.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultQueueKey = "conductor:executions:pending"

// priorityBand spaces priority levels far enough apart that the enqueue
// timestamp never crosses into the next band, keeping FIFO order within a
// priority level.
const priorityBand = float64(1 << 41)

// PendingExecution is the queue entry for a dispatched execution.
type PendingExecution struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	TriggerID   string    `json:"trigger_id,omitempty"`
	Priority    int       `json:"priority"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Stats is a point-in-time queue health snapshot.
type Stats struct {
	Depth     int64         `json:"depth"`
	OldestAge time.Duration `json:"oldest_age"`
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Queue is a priority queue on a Redis sorted set. Lower score pops first:
// higher priority entries get a lower band, ties resolve by enqueue time.
type Queue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

// NewQueue connects to Redis and verifies the connection.
func NewQueue(ctx context.Context, logger *slog.Logger, cfg Config) (*Queue, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	key := cfg.Key
	if key == "" {
		key = defaultQueueKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", cfg.DB)

	return &Queue{
		client: client,
		key:    key,
		logger: logger.With("module", "queue"),
	}, nil
}

func score(priority int, enqueuedAt time.Time) float64 {
	return -float64(priority)*priorityBand + float64(enqueuedAt.UnixMilli())
}

// Enqueue adds a pending execution. A re-enqueue of the same execution id
// updates its position instead of duplicating it.
func (q *Queue) Enqueue(ctx context.Context, pending *PendingExecution) error {
	if pending.EnqueuedAt.IsZero() {
		pending.EnqueuedAt = time.Now().UTC()
	}

	member, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending execution: %w", err)
	}

	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  score(pending.Priority, pending.EnqueuedAt),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue execution: %w", err)
	}

	q.logger.DebugContext(ctx, "Enqueued execution",
		"execution_id", pending.ExecutionID,
		"priority", pending.Priority,
	)

	return nil
}

// Dequeue pops the highest-priority, oldest pending execution. Returns nil
// when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*PendingExecution, error) {
	entries, err := q.client.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to dequeue execution: %w", err)
	}

	if len(entries) == 0 {
		return nil, nil
	}

	member, ok := entries[0].Member.(string)
	if !ok {
		return nil, errors.New("unexpected queue member type")
	}

	var pending PendingExecution
	if err := json.Unmarshal([]byte(member), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending execution: %w", err)
	}

	return &pending, nil
}

// Stats reports queue depth and the age of the oldest waiting entry.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	depth, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}

	stats := &Stats{Depth: depth}
	if depth == 0 {
		return stats, nil
	}

	members, err := q.client.ZRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}

	oldest := time.Time{}

	for _, member := range members {
		var pending PendingExecution
		if err := json.Unmarshal([]byte(member), &pending); err != nil {
			continue
		}

		if oldest.IsZero() || pending.EnqueuedAt.Before(oldest) {
			oldest = pending.EnqueuedAt
		}
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}

	return stats, nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	err := q.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
