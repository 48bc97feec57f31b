package models

import "time"

// DeadLetterStatus tracks a dead-letter entry through manual handling.
type DeadLetterStatus string

const (
	DeadLetterStatusPending    DeadLetterStatus = "pending"
	DeadLetterStatusProcessing DeadLetterStatus = "processing"
	DeadLetterStatusResolved   DeadLetterStatus = "resolved"
	DeadLetterStatusSkipped    DeadLetterStatus = "skipped"
	DeadLetterStatusExpired    DeadLetterStatus = "expired"
)

// DeadLetterAction is a manual operation on a dead-letter entry.
type DeadLetterAction string

const (
	DeadLetterActionRetry         DeadLetterAction = "retry"
	DeadLetterActionRetryModified DeadLetterAction = "retry_modified"
	DeadLetterActionSkip          DeadLetterAction = "skip"
	DeadLetterActionResolve       DeadLetterAction = "resolve"
)

// DefaultDeadLetterRetention is the fixed window after which entries expire.
const DefaultDeadLetterRetention = 30 * 24 * time.Hour

// DeadLetterEntry holds a failed execution with full replay context. It owns
// a frozen copy of the execution input and prior step outputs, not live
// references, so it survives execution cleanup.
type DeadLetterEntry struct {
	ID               string           `json:"id"`
	OrganizationID   string           `json:"organization_id"`
	ExecutionID      string           `json:"execution_id"`
	ExecutionErrorID string           `json:"execution_error_id"`
	WorkflowID       string           `json:"workflow_id"`
	FailedStepID     string           `json:"failed_step_id"`
	ErrorKind        ErrorKind        `json:"error_kind"`
	ErrorMessage     string           `json:"error_message"`
	Input            map[string]any   `json:"input,omitempty"`
	StepOutputs      map[string]map[string]any `json:"step_outputs,omitempty"` // Snapshot keyed by step id
	Status           DeadLetterStatus `json:"status"`
	Resolution       string           `json:"resolution,omitempty"`
	ManualRetries    int              `json:"manual_retries"`
	ExpiresAt        time.Time        `json:"expires_at"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsActionable reports whether manual actions still apply.
func (d *DeadLetterEntry) IsActionable() bool {
	return d.Status == DeadLetterStatusPending || d.Status == DeadLetterStatusProcessing
}

// CompensationStatus is the outcome of one compensating action.
type CompensationStatus string

const (
	CompensationStatusSucceeded CompensationStatus = "succeeded"
	CompensationStatusFailed    CompensationStatus = "failed"
	CompensationStatusManual    CompensationStatus = "manual" // Instruction recorded for an operator
)

// CompensationResult records one step's compensation outcome. Results are
// independent: a failed compensation does not stop earlier steps from being
// compensated.
type CompensationResult struct {
	StepID      string             `json:"step_id"`
	Type        CompensationType   `json:"type"`
	Status      CompensationStatus `json:"status"`
	Detail      string             `json:"detail,omitempty"`
	CompensatedAt time.Time        `json:"compensated_at"`
}
