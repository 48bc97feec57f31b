package protocol

import (
	"context"
	"time"
)

// ExecutionRequest is the product of trigger evaluation: a workflow to run
// with an input payload.
type ExecutionRequest struct {
	WorkflowID  string         `json:"workflow_id"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	TriggerType string         `json:"trigger_type,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// ExecutionRequestCallback receives execution requests produced by trigger
// evaluation and hands them to the engine.
type ExecutionRequestCallback func(ctx context.Context, request ExecutionRequest) (executionID string, err error)

// TriggerProvider is a restartable background evaluator (schedule scanner,
// periodic threshold/deadline evaluator, event subscriber). Recovery after a
// crash recomputes due work purely from persisted state.
type TriggerProvider interface {
	Start(ctx context.Context, callback ExecutionRequestCallback) error
	Stop(ctx context.Context) error
}
