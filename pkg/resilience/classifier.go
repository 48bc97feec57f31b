// Package resilience implements failure handling for step executions: error
// classification, retry with backoff, circuit breaking and dead-letter routing.
package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/ledgerflow/conductor/pkg/models"
)

// KindError lets a step executor declare the error kind explicitly instead of
// relying on message matching.
type KindError struct {
	Kind models.ErrorKind
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err with an explicit classification.
func NewKindError(kind models.ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// classificationRule maps message signals to an error kind. Rules are
// evaluated in order; the first match wins.
type classificationRule struct {
	kind    models.ErrorKind
	signals []string
}

// classificationRules is priority ordered: timeout signals before generic
// network signals, explicit not-found before generic transient. unknown is
// the catch-all, never an error.
var classificationRules = []classificationRule{
	{models.ErrorKindTimeout, []string{
		"deadline exceeded", "timed out", "timeout",
	}},
	{models.ErrorKindRateLimit, []string{
		"rate limit", "too many requests", "429",
	}},
	{models.ErrorKindAuthorization, []string{
		"unauthorized", "forbidden", "permission denied", "authentication failed",
		"invalid credentials", "401", "403",
	}},
	{models.ErrorKindValidation, []string{
		"validation failed", "invalid input", "malformed", "bad request",
		"schema", "400", "422",
	}},
	{models.ErrorKindPermanent, []string{
		"not found", "does not exist", "gone", "404", "410", "unsupported",
	}},
	{models.ErrorKindExternalService, []string{
		"service unavailable", "bad gateway", "upstream",
		"502", "503", "504",
	}},
	{models.ErrorKindTransient, []string{
		"connection refused", "connection reset", "broken pipe", "no such host",
		"network is unreachable", "i/o error", "temporarily", "eof", "tls handshake",
	}},
}

// Classify maps an error to its kind. The function is deterministic and
// total: explicit KindError wins, then context errors, then message signals
// in priority order, falling back to unknown.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindUnknown
	}

	var kindErr *KindError
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}

	message := strings.ToLower(err.Error())

	for _, rule := range classificationRules {
		for _, signal := range rule.signals {
			if strings.Contains(message, signal) {
				return rule.kind
			}
		}
	}

	return models.ErrorKindUnknown
}
