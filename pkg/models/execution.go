package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus represents the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting" // Paused mid-graph on a timer or external input
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// validExecutionTransitions encodes the execution state machine. Status is
// monotonic: terminal states have no outgoing edges; explicit retry creates a
// new execution instead of reviving this one.
var validExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning: {ExecutionStatusWaiting, ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled},
	ExecutionStatusWaiting: {ExecutionStatusRunning, ExecutionStatusFailed, ExecutionStatusCancelled},
}

var ErrInvalidStatusTransition = errors.New("invalid execution status transition")

// Execution is one run of a workflow from trigger to terminal state.
type Execution struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	WorkflowID     string          `json:"workflow_id"`
	TriggerID      string          `json:"trigger_id,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Input          map[string]any  `json:"input,omitempty"`
	Variables      map[string]any  `json:"variables,omitempty"`
	Steps          []*StepExecution `json:"steps,omitempty"`
	Priority       int             `json:"priority"`
	RetryOfID      string          `json:"retry_of_id,omitempty"` // Dead-letter retry lineage
	ResumeFromStep string          `json:"resume_from_step,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TransitionTo enforces the state machine before mutating status.
func (e *Execution) TransitionTo(next ExecutionStatus) error {
	if e.Status == next {
		return nil
	}

	for _, allowed := range validExecutionTransitions[e.Status] {
		if allowed == next {
			e.Status = next
			e.UpdatedAt = time.Now().UTC()

			if next == ExecutionStatusRunning && e.StartedAt == nil {
				started := e.UpdatedAt
				e.StartedAt = &started
			}

			if next.IsTerminal() {
				finished := e.UpdatedAt
				e.FinishedAt = &finished
			}

			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, e.Status, next)
}

// Progress returns completed steps over total steps as an integer percentage.
// Skipped steps count as completed for progress purposes.
func (e *Execution) Progress() int {
	if len(e.Steps) == 0 {
		return 0
	}

	done := 0
	for _, step := range e.Steps {
		if step.Status == StepStatusCompleted || step.Status == StepStatusSkipped {
			done++
		}
	}

	return done * 100 / len(e.Steps)
}

// CurrentSteps returns the most recently started, not yet finished steps.
// More than one entry means parallel branches are in flight.
func (e *Execution) CurrentSteps() []string {
	var current []string

	for _, step := range e.Steps {
		if step.Status == StepStatusRunning {
			current = append(current, step.StepID)
		}
	}

	return current
}

// StepExecutionByID returns the step execution record for a workflow step id.
func (e *Execution) StepExecutionByID(stepID string) *StepExecution {
	for _, step := range e.Steps {
		if step.StepID == stepID {
			return step
		}
	}

	return nil
}

// Duration returns the wall time between start and finish, zero while running.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}

	return e.FinishedAt.Sub(*e.StartedAt)
}
