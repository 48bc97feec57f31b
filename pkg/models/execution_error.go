package models

import "time"

// ErrorKind is the classified category of a step failure. Classification is
// deterministic and total; unknown is the catch-all.
type ErrorKind string

const (
	ErrorKindTransient       ErrorKind = "transient"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindRateLimit       ErrorKind = "rate_limit"
	ErrorKindAuthorization   ErrorKind = "authorization"
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindPermanent       ErrorKind = "permanent"
	ErrorKindExternalService ErrorKind = "external_service"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// ErrorStatus tracks the recovery lifecycle of an execution error.
type ErrorStatus string

const (
	ErrorStatusPending    ErrorStatus = "pending"
	ErrorStatusRetrying   ErrorStatus = "retrying"
	ErrorStatusResolved   ErrorStatus = "resolved"
	ErrorStatusEscalated  ErrorStatus = "escalated"
	ErrorStatusDeadLetter ErrorStatus = "dead_letter"
)

// ExecutionError is the single active error record for a failing
// (execution, step) pair. A new attempt supersedes it in place — retry count
// increments, no duplicate rows.
type ExecutionError struct {
	ID          string      `json:"id"`
	ExecutionID string      `json:"execution_id"`
	WorkflowID  string      `json:"workflow_id"`
	StepID      string      `json:"step_id"`
	Kind        ErrorKind   `json:"kind"`
	Message     string      `json:"message"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	NextRetryAt *time.Time  `json:"next_retry_at,omitempty"`
	Status      ErrorStatus `json:"status"`
	Version     int64       `json:"version"` // Optimistic concurrency check
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Supersede folds a fresh failure into the existing record.
func (e *ExecutionError) Supersede(kind ErrorKind, message string) {
	e.Kind = kind
	e.Message = message
	e.UpdatedAt = time.Now().UTC()
}

// ScheduleRetry marks the record retrying and stamps the next attempt time.
func (e *ExecutionError) ScheduleRetry(at time.Time) {
	e.RetryCount++
	e.Status = ErrorStatusRetrying
	e.NextRetryAt = &at
	e.UpdatedAt = time.Now().UTC()
}

// MarkDeadLetter transitions the record to its terminal dead-letter status.
func (e *ExecutionError) MarkDeadLetter() {
	e.Status = ErrorStatusDeadLetter
	e.NextRetryAt = nil
	e.UpdatedAt = time.Now().UTC()
}

// MarkResolved closes the record after a successful retry or manual handling.
func (e *ExecutionError) MarkResolved() {
	e.Status = ErrorStatusResolved
	e.NextRetryAt = nil
	e.UpdatedAt = time.Now().UTC()
}
