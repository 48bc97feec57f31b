package models

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// TriggerType discriminates the closed set of trigger variants.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeSchedule  TriggerType = "schedule"
	TriggerTypeWebhook   TriggerType = "webhook"
	TriggerTypeEvent     TriggerType = "event"
	TriggerTypeThreshold TriggerType = "threshold"
	TriggerTypeDeadline  TriggerType = "deadline"
)

// WebhookAuthMode selects how inbound webhook calls are authenticated.
type WebhookAuthMode string

const (
	WebhookAuthNone   WebhookAuthMode = "none"
	WebhookAuthBasic  WebhookAuthMode = "basic"
	WebhookAuthBearer WebhookAuthMode = "bearer"
	WebhookAuthAPIKey WebhookAuthMode = "api_key"
)

// ThresholdOperator compares a monitored value against the configured one.
type ThresholdOperator string

const (
	ThresholdGreaterThan   ThresholdOperator = "gt"
	ThresholdGreaterOrEqual ThresholdOperator = "gte"
	ThresholdLessThan      ThresholdOperator = "lt"
	ThresholdLessOrEqual   ThresholdOperator = "lte"
	ThresholdEqual         ThresholdOperator = "eq"
)

// Trigger binds a stimulus to exactly one workflow. Exactly one of the
// type-specific config fields is set, matching Type.
type Trigger struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id" validate:"required"`
	WorkflowID     string      `json:"workflow_id"     validate:"required"`
	Name           string      `json:"name"            validate:"required,min=3"`
	Type           TriggerType `json:"type"            validate:"required"`
	Active         bool        `json:"active"`

	Schedule  *ScheduleConfig  `json:"schedule,omitempty"`
	Webhook   *WebhookConfig   `json:"webhook,omitempty"`
	Event     *EventConfig     `json:"event,omitempty"`
	Threshold *ThresholdConfig `json:"threshold,omitempty"`
	Deadline  *DeadlineConfig  `json:"deadline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleConfig holds the schedule-trigger settings; the runtime Schedule row
// derived from it carries the precomputed next-run state.
type ScheduleConfig struct {
	CronExpression string   `json:"cron_expression" validate:"required"`
	Timezone       string   `json:"timezone,omitempty"`
	SkipWeekends   bool     `json:"skip_weekends,omitempty"`
	SkipDates      []string `json:"skip_dates,omitempty"` // "2006-01-02" holiday dates
	AllowOverlap   bool     `json:"allow_overlap,omitempty"`
}

type WebhookConfig struct {
	Token      string          `json:"token"     validate:"required"`
	AuthMode   WebhookAuthMode `json:"auth_mode" validate:"required,oneof=none basic bearer api_key"`
	AuthSecret string          `json:"auth_secret,omitempty"` // user:pass, bearer token or api key depending on AuthMode
	AllowedIPs []string        `json:"allowed_ips,omitempty"`
}

// EventConfig subscribes the trigger to published domain events. Filters are
// equality predicates on payload fields; numeric range filters use
// "<field>_min" / "<field>_max" keys.
type EventConfig struct {
	EventTypes []string       `json:"event_types" validate:"required,min=1"`
	Filters    map[string]any `json:"filters,omitempty"`
}

type ThresholdConfig struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ThresholdOperator `json:"operator" validate:"required,oneof=gt gte lt lte eq"`
	Value    float64           `json:"value"`
}

// DeadlineConfig fires when today plus one of the offsets lands on the target
// date carried by the monitored payload field.
type DeadlineConfig struct {
	DateField  string `json:"date_field"  validate:"required"`
	OffsetDays []int  `json:"offset_days" validate:"required,min=1"`
}

var (
	ErrTriggerConfigMissing  = errors.New("trigger configuration missing for declared type")
	ErrTriggerConfigConflict = errors.New("trigger carries configuration for a different type")
	ErrInvalidTriggerConfig  = errors.New("invalid trigger configuration")
)

// Validate checks variant consistency and type-specific configuration.
// Malformed configuration is rejected here, at creation time, never at
// evaluation time.
func (t *Trigger) Validate() error {
	if err := t.validateVariant(); err != nil {
		return err
	}

	switch t.Type {
	case TriggerTypeManual:
		return nil
	case TriggerTypeSchedule:
		return t.Schedule.validate()
	case TriggerTypeWebhook:
		return t.Webhook.validate()
	case TriggerTypeEvent:
		return nil
	case TriggerTypeThreshold:
		return nil
	case TriggerTypeDeadline:
		return t.Deadline.validate()
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTriggerConfig, t.Type)
	}
}

func (t *Trigger) validateVariant() error {
	configs := map[TriggerType]bool{
		TriggerTypeSchedule:  t.Schedule != nil,
		TriggerTypeWebhook:   t.Webhook != nil,
		TriggerTypeEvent:     t.Event != nil,
		TriggerTypeThreshold: t.Threshold != nil,
		TriggerTypeDeadline:  t.Deadline != nil,
	}

	for typ, present := range configs {
		if typ == t.Type && !present {
			return fmt.Errorf("%w: %s", ErrTriggerConfigMissing, t.Type)
		}

		if typ != t.Type && present {
			return fmt.Errorf("%w: unexpected %s config on %s trigger", ErrTriggerConfigConflict, typ, t.Type)
		}
	}

	return nil
}

func (c *ScheduleConfig) validate() error {
	if _, err := parseCron(c.CronExpression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTriggerConfig, err)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidTriggerConfig, c.Timezone)
		}
	}

	for _, d := range c.SkipDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("%w: bad skip date %q", ErrInvalidTriggerConfig, d)
		}
	}

	return nil
}

func (c *WebhookConfig) validate() error {
	if c.AuthMode != WebhookAuthNone && c.AuthSecret == "" {
		return fmt.Errorf("%w: auth mode %s requires a secret", ErrInvalidTriggerConfig, c.AuthMode)
	}

	for _, ip := range c.AllowedIPs {
		if net.ParseIP(ip) == nil {
			if _, _, err := net.ParseCIDR(ip); err != nil {
				return fmt.Errorf("%w: bad allowed ip %q", ErrInvalidTriggerConfig, ip)
			}
		}
	}

	return nil
}

func (c *DeadlineConfig) validate() error {
	for _, offset := range c.OffsetDays {
		if offset < 0 {
			return fmt.Errorf("%w: negative deadline offset %d", ErrInvalidTriggerConfig, offset)
		}
	}

	return nil
}
