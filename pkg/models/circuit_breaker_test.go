package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	breaker := NewCircuitBreakerState("workflow-1", "step-1")
	breaker.FailureThreshold = 3
	now := time.Now().UTC()

	breaker.RecordFailure(now)
	breaker.RecordFailure(now)
	assert.Equal(t, BreakerClosed, breaker.State)

	breaker.RecordFailure(now)
	assert.Equal(t, BreakerOpen, breaker.State)
	require.NotNil(t, breaker.OpenedAt)
}

func TestCircuitBreaker_FailsFastWhileOpen(t *testing.T) {
	breaker := NewCircuitBreakerState("workflow-1", "step-1")
	breaker.FailureThreshold = 1
	breaker.ResetTimeout = time.Minute

	now := time.Now().UTC()
	breaker.RecordFailure(now)

	assert.False(t, breaker.AllowsCall(now.Add(30*time.Second)))
	assert.Equal(t, BreakerOpen, breaker.State)
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	breaker := NewCircuitBreakerState("workflow-1", "step-1")
	breaker.FailureThreshold = 1
	breaker.ResetTimeout = time.Minute

	now := time.Now().UTC()
	breaker.RecordFailure(now)

	assert.True(t, breaker.AllowsCall(now.Add(61*time.Second)))
	assert.Equal(t, BreakerHalfOpen, breaker.State)
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	breaker := NewCircuitBreakerState("workflow-1", "step-1")
	breaker.FailureThreshold = 1
	breaker.ResetTimeout = time.Minute

	now := time.Now().UTC()
	breaker.RecordFailure(now)
	require.True(t, breaker.AllowsCall(now.Add(2*time.Minute)))

	breaker.RecordSuccess(now.Add(2 * time.Minute))
	assert.Equal(t, BreakerClosed, breaker.State)
	assert.Equal(t, 0, breaker.FailureCount)
	assert.Nil(t, breaker.OpenedAt)
}

func TestCircuitBreaker_HalfOpenFailureReopensImmediately(t *testing.T) {
	breaker := NewCircuitBreakerState("workflow-1", "step-1")
	breaker.FailureThreshold = 5
	breaker.ResetTimeout = time.Minute

	now := time.Now().UTC()
	for range 5 {
		breaker.RecordFailure(now)
	}

	require.True(t, breaker.AllowsCall(now.Add(2*time.Minute)))
	require.Equal(t, BreakerHalfOpen, breaker.State)

	// One failure while half-open reopens regardless of the threshold and
	// restarts the reset timer.
	reopenedAt := now.Add(3 * time.Minute)
	breaker.RecordFailure(reopenedAt)

	assert.Equal(t, BreakerOpen, breaker.State)
	require.NotNil(t, breaker.OpenedAt)
	assert.Equal(t, reopenedAt, *breaker.OpenedAt)
	assert.False(t, breaker.AllowsCall(reopenedAt.Add(30*time.Second)))
}
