package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicy_KindSets(t *testing.T) {
	policy := DefaultRetryPolicy()

	for _, kind := range []ErrorKind{ErrorKindTransient, ErrorKindTimeout, ErrorKindRateLimit, ErrorKindExternalService} {
		assert.True(t, policy.ShouldRetry(kind, 0), "kind %s should retry", kind)
	}

	for _, kind := range []ErrorKind{ErrorKindAuthorization, ErrorKindValidation, ErrorKindPermanent} {
		assert.False(t, policy.ShouldRetry(kind, 0), "kind %s should not retry", kind)
	}

	// Unknown retries by default.
	assert.True(t, policy.ShouldRetry(ErrorKindUnknown, 0))
}

func TestRetryPolicy_EmptyKindSetsInheritDefaults(t *testing.T) {
	// A policy that only tunes counts and delays keeps the default kind
	// semantics instead of retrying everything.
	policy := &RetryPolicy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     time.Minute,
	}

	for _, kind := range []ErrorKind{ErrorKindTransient, ErrorKindTimeout, ErrorKindRateLimit, ErrorKindExternalService} {
		assert.True(t, policy.ShouldRetry(kind, 0), "kind %s should retry", kind)
	}

	for _, kind := range []ErrorKind{ErrorKindAuthorization, ErrorKindValidation, ErrorKindPermanent} {
		assert.False(t, policy.ShouldRetry(kind, 0), "kind %s should not retry", kind)
	}

	assert.True(t, policy.ShouldRetry(ErrorKindUnknown, 0))
}

func TestRetryPolicy_ExplicitKindSetsStillOverride(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		Multiplier:        2.0,
		RetryableKinds:    []ErrorKind{ErrorKindValidation},
		NonRetryableKinds: []ErrorKind{ErrorKindTransient},
	}

	assert.True(t, policy.ShouldRetry(ErrorKindValidation, 0))
	assert.False(t, policy.ShouldRetry(ErrorKindTransient, 0))
	// Not whitelisted and not unknown.
	assert.False(t, policy.ShouldRetry(ErrorKindTimeout, 0))
}

func TestRetryPolicy_ShouldRetry_Exhaustion(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.True(t, policy.ShouldRetry(ErrorKindTransient, 2))
	assert.False(t, policy.ShouldRetry(ErrorKindTransient, 3))
	assert.False(t, policy.ShouldRetry(ErrorKindTransient, 10))
}

func TestRetryPolicy_Delay_MonotonicUntilCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:   10,
		InitialDelay: 5 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
	}

	// Delays grow until the cap, never exceeding MaxDelay. Compare
	// jitter-free bases: each attempt's minimum possible delay must not be
	// below the prior attempt's value before the cap region.
	prev := time.Duration(0)

	for attempt := range 8 {
		delay := policy.Delay(attempt)
		assert.LessOrEqual(t, delay, policy.MaxDelay)

		base := time.Duration(float64(policy.InitialDelay) * pow(policy.Multiplier, attempt))
		if base > policy.MaxDelay {
			base = policy.MaxDelay
		}

		// ±10% jitter band around the capped base.
		assert.GreaterOrEqual(t, float64(delay), float64(base)*0.9-1)
		assert.LessOrEqual(t, float64(delay), float64(base)*1.1+1)

		if base < policy.MaxDelay {
			assert.Greater(t, float64(delay), float64(prev)*0.8)
		}

		prev = delay
	}
}

func pow(multiplier float64, n int) float64 {
	result := 1.0
	for range n {
		result *= multiplier
	}

	return result
}

func TestRetryPolicy_Delay_ExampleScenario(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 5000 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
	}

	expected := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for attempt, want := range expected {
		delay := policy.Delay(attempt)
		assert.InDelta(t, float64(want), float64(delay), float64(want)*0.11)
	}
}

func TestResolveRetryPolicy_Precedence(t *testing.T) {
	stepPolicy := &RetryPolicy{MaxRetries: 1}
	workflowPolicy := &RetryPolicy{MaxRetries: 7}

	step := &WorkflowStep{RetryPolicy: stepPolicy}
	workflow := &Workflow{RetryPolicy: workflowPolicy}

	assert.Equal(t, stepPolicy, ResolveRetryPolicy(step, workflow))
	assert.Equal(t, workflowPolicy, ResolveRetryPolicy(&WorkflowStep{}, workflow))

	fallback := ResolveRetryPolicy(&WorkflowStep{}, &Workflow{})
	require.NotNil(t, fallback)
	assert.Equal(t, 3, fallback.MaxRetries)
	assert.Equal(t, 5*time.Second, fallback.InitialDelay)
}
