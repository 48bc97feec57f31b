package models

import "time"

// AlertCondition is the closed set of rule conditions the evaluator knows.
type AlertCondition string

const (
	AlertConditionExecutionFailed     AlertCondition = "execution_failed"
	AlertConditionConsecutiveFailures AlertCondition = "consecutive_failures"
	AlertConditionSlowExecution       AlertCondition = "slow_execution"
	AlertConditionHighErrorRate       AlertCondition = "high_error_rate"
)

// AlertSeverity grades alert events for routing.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertRule binds a condition to notification targets. A rule fires at most
// once per cooldown window per (rule, workflow) pair.
type AlertRule struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"      validate:"required,min=3"`
	Condition      AlertCondition `json:"condition" validate:"required,oneof=execution_failed consecutive_failures slow_execution high_error_rate"`
	WorkflowID     string         `json:"workflow_id,omitempty"` // Empty matches all workflows
	Severity       AlertSeverity  `json:"severity"`
	Enabled        bool           `json:"enabled"`

	// Condition tuning. Unused fields are zero for conditions that do not
	// read them.
	ConsecutiveCount int           `json:"consecutive_count,omitempty"`
	DurationLimit    time.Duration `json:"duration_limit,omitempty"`
	ErrorRateLimit   float64       `json:"error_rate_limit,omitempty"` // 0..1 failure ratio
	RateWindow       time.Duration `json:"rate_window,omitempty"`
	MinSamples       int           `json:"min_samples,omitempty"`

	Cooldown  time.Duration `json:"cooldown"`
	Channels  []string      `json:"channels,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// AlertEventStatus is the acknowledge/resolve lifecycle of a fired alert.
type AlertEventStatus string

const (
	AlertEventStatusFiring       AlertEventStatus = "firing"
	AlertEventStatusAcknowledged AlertEventStatus = "acknowledged"
	AlertEventStatusResolved     AlertEventStatus = "resolved"
)

// AlertEvent is the materialized firing of a rule.
type AlertEvent struct {
	ID             string           `json:"id"`
	RuleID         string           `json:"rule_id"`
	OrganizationID string           `json:"organization_id"`
	WorkflowID     string           `json:"workflow_id,omitempty"`
	ExecutionID    string           `json:"execution_id,omitempty"`
	Condition      AlertCondition   `json:"condition"`
	Severity       AlertSeverity    `json:"severity"`
	Message        string           `json:"message"`
	Context        map[string]any   `json:"context,omitempty"`
	Status         AlertEventStatus `json:"status"`
	AcknowledgedBy string           `json:"acknowledged_by,omitempty"`
	FiredAt        time.Time        `json:"fired_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}
