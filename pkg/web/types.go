// Package web provides HTTP request and response types for the management API.
package web

import (
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
)

// CreateTriggerRequest creates a trigger of one variant. Exactly one of the
// config fields must be set, matching Type; models.Trigger.Validate enforces
// the variant rules.
type CreateTriggerRequest struct {
	OrganizationID string             `json:"organization_id" validate:"required"`
	WorkflowID     string             `json:"workflow_id"     validate:"required"`
	Name           string             `json:"name"            validate:"required,min=3"`
	Type           models.TriggerType `json:"type"            validate:"required,oneof=manual schedule webhook event threshold deadline"`
	Active         bool               `json:"active"`

	Schedule  *models.ScheduleConfig  `json:"schedule,omitempty"`
	Webhook   *models.WebhookConfig   `json:"webhook,omitempty"`
	Event     *models.EventConfig     `json:"event,omitempty"`
	Threshold *models.ThresholdConfig `json:"threshold,omitempty"`
	Deadline  *models.DeadlineConfig  `json:"deadline,omitempty"`
}

// UpdateTriggerRequest applies partial changes. The trigger type is fixed at
// creation; only the matching config section may be replaced.
type UpdateTriggerRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=3"`
	Active *bool   `json:"active,omitempty"`

	Schedule  *models.ScheduleConfig  `json:"schedule,omitempty"`
	Webhook   *models.WebhookConfig   `json:"webhook,omitempty"`
	Event     *models.EventConfig     `json:"event,omitempty"`
	Threshold *models.ThresholdConfig `json:"threshold,omitempty"`
	Deadline  *models.DeadlineConfig  `json:"deadline,omitempty"`
}

// TestTriggerRequest previews what a trigger would dispatch.
type TestTriggerRequest struct {
	SampleInput map[string]any `json:"sample_input,omitempty"`
}

// ExecuteRequest starts a workflow directly.
type ExecuteRequest struct {
	Input     map[string]any `json:"input,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Priority  int            `json:"priority,omitempty"`
}

// ProcessDeadLetterRequest applies a manual action to a dead-letter entry.
type ProcessDeadLetterRequest struct {
	Action        models.DeadLetterAction `json:"action" validate:"required,oneof=retry retry_modified skip resolve"`
	ModifiedInput map[string]any          `json:"modified_input,omitempty"`
	Note          string                  `json:"note,omitempty"`
}

// CreateAlertRuleRequest creates an alert rule.
type CreateAlertRuleRequest struct {
	OrganizationID   string                `json:"organization_id"`
	Name             string                `json:"name"      validate:"required,min=3"`
	Condition        models.AlertCondition `json:"condition" validate:"required,oneof=execution_failed consecutive_failures slow_execution high_error_rate"`
	WorkflowID       string                `json:"workflow_id,omitempty"`
	Severity         models.AlertSeverity  `json:"severity" validate:"omitempty,oneof=info warning critical"`
	Enabled          bool                  `json:"enabled"`
	ConsecutiveCount int                   `json:"consecutive_count,omitempty" validate:"omitempty,min=1"`
	DurationLimitMs  int64                 `json:"duration_limit_ms,omitempty" validate:"omitempty,min=1"`
	ErrorRateLimit   float64               `json:"error_rate_limit,omitempty"  validate:"omitempty,gt=0,lte=1"`
	RateWindowMs     int64                 `json:"rate_window_ms,omitempty"    validate:"omitempty,min=1"`
	MinSamples       int                   `json:"min_samples,omitempty"       validate:"omitempty,min=1"`
	CooldownMs       int64                 `json:"cooldown_ms,omitempty"       validate:"omitempty,min=0"`
	Channels         []string              `json:"channels,omitempty"`
}

func (r CreateAlertRuleRequest) toRule(id string) *models.AlertRule {
	severity := r.Severity
	if severity == "" {
		severity = models.AlertSeverityWarning
	}

	return &models.AlertRule{
		ID:               id,
		OrganizationID:   r.OrganizationID,
		Name:             r.Name,
		Condition:        r.Condition,
		WorkflowID:       r.WorkflowID,
		Severity:         severity,
		Enabled:          r.Enabled,
		ConsecutiveCount: r.ConsecutiveCount,
		DurationLimit:    time.Duration(r.DurationLimitMs) * time.Millisecond,
		ErrorRateLimit:   r.ErrorRateLimit,
		RateWindow:       time.Duration(r.RateWindowMs) * time.Millisecond,
		MinSamples:       r.MinSamples,
		Cooldown:         time.Duration(r.CooldownMs) * time.Millisecond,
		Channels:         r.Channels,
	}
}

// AcknowledgeAlertRequest records who acknowledged the alert.
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" validate:"required"`
}
