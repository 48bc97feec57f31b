package models

import "time"

// BreakerState is the circuit breaker state for one (workflow, step) pair.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	DefaultBreakerThreshold    = 5
	DefaultBreakerResetTimeout = 60 * time.Second
)

// CircuitBreakerState is the single row per (workflow, step). Transition
// helpers are pure state mutations; the persistence layer serializes
// concurrent writers with an atomic version check.
type CircuitBreakerState struct {
	WorkflowID       string       `json:"workflow_id"`
	StepID           string       `json:"step_id"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	SuccessCount     int          `json:"success_count"`
	FailureThreshold int          `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	OpenedAt         *time.Time   `json:"opened_at,omitempty"`
	HalfOpenedAt     *time.Time   `json:"half_opened_at,omitempty"`
	Version          int64        `json:"version"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewCircuitBreakerState returns a closed breaker with default tuning.
func NewCircuitBreakerState(workflowID, stepID string) *CircuitBreakerState {
	return &CircuitBreakerState{
		WorkflowID:       workflowID,
		StepID:           stepID,
		State:            BreakerClosed,
		FailureThreshold: DefaultBreakerThreshold,
		ResetTimeout:     DefaultBreakerResetTimeout,
		UpdatedAt:        time.Now().UTC(),
	}
}

// AllowsCall reports whether a call may proceed at the given time, moving an
// expired open breaker to half-open (the probe call).
func (b *CircuitBreakerState) AllowsCall(now time.Time) bool {
	switch b.State {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.OpenedAt != nil && now.Sub(*b.OpenedAt) >= b.ResetTimeout {
			b.State = BreakerHalfOpen
			halfOpened := now
			b.HalfOpenedAt = &halfOpened
			b.UpdatedAt = now

			return true
		}

		return false
	default:
		return true
	}
}

// RecordFailure increments the failure counter and opens the breaker when the
// threshold is reached. A failure while half-open reopens immediately and
// restarts the reset timer.
func (b *CircuitBreakerState) RecordFailure(now time.Time) {
	b.FailureCount++
	b.UpdatedAt = now

	if b.State == BreakerHalfOpen || b.FailureCount >= b.FailureThreshold {
		b.State = BreakerOpen
		opened := now
		b.OpenedAt = &opened
		b.HalfOpenedAt = nil
	}
}

// RecordSuccess closes a half-open breaker and zeroes the failure counter.
func (b *CircuitBreakerState) RecordSuccess(now time.Time) {
	b.SuccessCount++
	b.UpdatedAt = now

	if b.State == BreakerHalfOpen {
		b.State = BreakerClosed
		b.FailureCount = 0
		b.OpenedAt = nil
		b.HalfOpenedAt = nil
	}
}
