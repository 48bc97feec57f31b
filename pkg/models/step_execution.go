package models

import "time"

// StepStatus represents the state of one step run within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusRetrying  StepStatus = "retrying" // Failed, waiting out a backoff delay
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped" // Disabled step or dead-letter skip
)

// StepExecution records one node's run within an execution. Input and output
// payloads are opaque to the core.
type StepExecution struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	RetryCount  int            `json:"retry_count"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// Start marks the step running, preserving the first start across retries.
func (s *StepExecution) Start() {
	now := time.Now().UTC()
	s.Status = StepStatusRunning

	if s.StartedAt == nil {
		s.StartedAt = &now
	}
}

// Finish records the terminal step status and duration.
func (s *StepExecution) Finish(status StepStatus, output map[string]any) {
	now := time.Now().UTC()
	s.Status = status
	s.Output = output
	s.FinishedAt = &now

	if s.StartedAt != nil {
		s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
	}
}
