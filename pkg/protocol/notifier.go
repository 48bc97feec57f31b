package protocol

import "context"

// Notification is a request handed to the external notification dispatcher.
// Delivery and delivery retries are out of scope for the core.
type Notification struct {
	Channel    string         `json:"channel"`
	Template   string         `json:"template"`
	Data       map[string]any `json:"data,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
}

// Notifier dispatches notifications for the error-notification path and the
// alert evaluator.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// NopNotifier discards notifications. Used in tests and when no dispatcher
// is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, notification Notification) error { return nil }
