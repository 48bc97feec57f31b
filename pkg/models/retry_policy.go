package models

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls retry-with-backoff for step failures. Resolution order
// is step policy, then workflow policy, then DefaultRetryPolicy.
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay"`

	// RetryableKinds overrides which kinds retry; NonRetryableKinds always
	// wins over it. An empty set inherits the system default, so a policy
	// that only tunes counts and delays keeps the default kind semantics.
	// Unknown retries unless explicitly listed as non-retryable.
	RetryableKinds    []ErrorKind `json:"retryable_kinds,omitempty"`
	NonRetryableKinds []ErrorKind `json:"non_retryable_kinds,omitempty"`
}

const backoffJitterFraction = 0.1

var (
	defaultRetryableKinds = []ErrorKind{
		ErrorKindTransient,
		ErrorKindTimeout,
		ErrorKindRateLimit,
		ErrorKindExternalService,
	}
	defaultNonRetryableKinds = []ErrorKind{
		ErrorKindAuthorization,
		ErrorKindValidation,
		ErrorKindPermanent,
	}
)

// DefaultRetryPolicy is the system fallback: 3 attempts, 5s initial delay,
// doubling, capped at 5 minutes.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      5 * time.Second,
		Multiplier:        2.0,
		MaxDelay:          5 * time.Minute,
		RetryableKinds:    defaultRetryableKinds,
		NonRetryableKinds: defaultNonRetryableKinds,
	}
}

// ResolveRetryPolicy picks the effective policy for a step.
func ResolveRetryPolicy(step *WorkflowStep, workflow *Workflow) *RetryPolicy {
	if step != nil && step.RetryPolicy != nil {
		return step.RetryPolicy
	}

	if workflow != nil && workflow.RetryPolicy != nil {
		return workflow.RetryPolicy
	}

	return DefaultRetryPolicy()
}

// ShouldRetry decides whether another attempt is allowed for the given kind
// after retryCount prior attempts.
func (p *RetryPolicy) ShouldRetry(kind ErrorKind, retryCount int) bool {
	if retryCount >= p.MaxRetries {
		return false
	}

	nonRetryable := p.NonRetryableKinds
	if len(nonRetryable) == 0 {
		nonRetryable = defaultNonRetryableKinds
	}

	for _, k := range nonRetryable {
		if k == kind {
			return false
		}
	}

	if kind == ErrorKindUnknown {
		return true
	}

	retryable := p.RetryableKinds
	if len(retryable) == 0 {
		retryable = defaultRetryableKinds
	}

	for _, k := range retryable {
		if k == kind {
			return true
		}
	}

	return false
}

// Delay returns the backoff before attempt retryCount+1:
// initial_delay * multiplier^retry_count, jittered ±10%, capped at MaxDelay.
func (p *RetryPolicy) Delay(retryCount int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}

	jitter := 1 + backoffJitterFraction*(2*rand.Float64()-1)
	delay := time.Duration(base * jitter)

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay
}
