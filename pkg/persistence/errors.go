// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTriggerNotFound indicates a trigger was not found by id or webhook token.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDeadLetterNotFound indicates a dead-letter entry was not found.
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrAlertRuleNotFound indicates an alert rule was not found.
	ErrAlertRuleNotFound = errors.New("alert rule not found")

	// ErrAlertEventNotFound indicates an alert event was not found.
	ErrAlertEventNotFound = errors.New("alert event not found")

	// ErrWebhookLogNotFound indicates a webhook request log was not found.
	ErrWebhookLogNotFound = errors.New("webhook request log not found")

	// ErrVersionConflict indicates an optimistic concurrency check failed;
	// the caller should reload and retry its update.
	ErrVersionConflict = errors.New("version conflict")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save")
	Entity string // Entity kind (e.g., "execution", "breaker")
	ID     string // Entity id if applicable
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return errors.Is(e.Err, target) }

// NewStoreError creates a persistence error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsTriggerNotFound checks if an error indicates a trigger was not found.
func IsTriggerNotFound(err error) bool {
	return errors.Is(err, ErrTriggerNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsDeadLetterNotFound checks if an error indicates a dead-letter entry was not found.
func IsDeadLetterNotFound(err error) bool {
	return errors.Is(err, ErrDeadLetterNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic write.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
