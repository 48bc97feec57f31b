package models

import "time"

// WebhookRequestLog records every inbound webhook call, accepted or not, for
// audit and replay.
type WebhookRequestLog struct {
	ID          string            `json:"id"`
	TriggerID   string            `json:"trigger_id,omitempty"` // Empty when the token matched nothing
	Token       string            `json:"token"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Query       map[string]string `json:"query,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	SourceIP    string            `json:"source_ip"`
	Accepted    bool              `json:"accepted"`
	ExecutionID string            `json:"execution_id,omitempty"`
	ErrorNote   string            `json:"error_note,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// PeriodicFireMarker makes threshold and deadline evaluation idempotent per
// (trigger, period): the evaluator fires only if no marker exists yet.
type PeriodicFireMarker struct {
	TriggerID string    `json:"trigger_id"`
	Period    string    `json:"period"` // e.g. "2026-08-24" for daily evaluation
	FiredAt   time.Time `json:"fired_at"`
}
