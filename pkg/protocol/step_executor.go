// Package protocol defines the contracts between the execution core and its external collaborators.
package protocol

import (
	"context"
	"log/slog"
)

// StepExecutor performs a step's domain action. The core treats it as an
// opaque, possibly-failing call; timeouts are enforced by the engine through
// the context.
type StepExecutor interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// StepExecutorFactory creates executors for one executor type from the
// step's configuration payload.
type StepExecutorFactory interface {
	Create(config map[string]any, logger *slog.Logger) (StepExecutor, error)
	ID() string

	// Schema returns the JSON Schema the step configuration must satisfy.
	// A nil schema skips configuration validation for this executor type.
	Schema() map[string]any
}
