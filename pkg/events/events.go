// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
)

type EventType string

// Topics.
const (
	Topic             = "conductor.events"        // Execution lifecycle and resilience events
	DomainEventsTopic = "conductor.domain.events" // Business events consumed by event triggers
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionWaitingEvent   EventType = "execution.waiting"

	// Step lifecycle events.
	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"

	// Resilience events.
	StepRetryScheduledEvent EventType = "step.retry.scheduled"
	ExecutionDeadLetteredEvent EventType = "execution.dead_lettered"
	CircuitOpenedEvent      EventType = "circuit.opened"
	CircuitClosedEvent      EventType = "circuit.closed"

	// Monitoring events.
	AlertFiredEvent EventType = "alert.fired"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	TriggerType string         `json:"trigger_type,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	TotalSteps  int            `json:"total_steps"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string         `json:"execution_id"`
	DurationMs    int64          `json:"duration_ms"`
	StepsExecuted int            `json:"steps_executed"`
	FinalOutputs  map[string]any `json:"final_outputs,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string           `json:"execution_id"`
	FailedStepID string           `json:"failed_step_id"`
	ErrorKind    models.ErrorKind `json:"error_kind"`
	Error        string           `json:"error"`
	DurationMs   int64            `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason"` // "retry_backoff" or "external_input"
	StepID      string `json:"step_id,omitempty"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
}

func (e ExecutionWaiting) GetType() EventType { return ExecutionWaitingEvent }

type StepStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Input       map[string]any `json:"input,omitempty"`
	Attempt     int            `json:"attempt"` // 0 on the first try
}

func (e StepStarted) GetType() EventType { return StepStartedEvent }

type StepCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	ExecutionID string           `json:"execution_id"`
	StepID      string           `json:"step_id"`
	ErrorKind   models.ErrorKind `json:"error_kind"`
	Error       string           `json:"error"`
	RetryCount  int              `json:"retry_count"`
	DurationMs  int64            `json:"duration_ms"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepRetryScheduled struct {
	BaseEvent

	ExecutionID string           `json:"execution_id"`
	StepID      string           `json:"step_id"`
	ErrorKind   models.ErrorKind `json:"error_kind"`
	RetryCount  int              `json:"retry_count"`
	MaxRetries  int              `json:"max_retries"`
	DelayMs     int64            `json:"delay_ms"`
	NextRetryAt time.Time        `json:"next_retry_at"`
}

func (e StepRetryScheduled) GetType() EventType { return StepRetryScheduledEvent }

type ExecutionDeadLettered struct {
	BaseEvent

	ExecutionID       string           `json:"execution_id"`
	DeadLetterEntryID string           `json:"dead_letter_entry_id"`
	FailedStepID      string           `json:"failed_step_id"`
	ErrorKind         models.ErrorKind `json:"error_kind"`
	Error             string           `json:"error"`
	RetriesAttempted  int              `json:"retries_attempted"`
}

func (e ExecutionDeadLettered) GetType() EventType { return ExecutionDeadLetteredEvent }

type CircuitOpened struct {
	BaseEvent

	StepID       string    `json:"step_id"`
	FailureCount int       `json:"failure_count"`
	OpenedAt     time.Time `json:"opened_at"`
}

func (e CircuitOpened) GetType() EventType { return CircuitOpenedEvent }

type CircuitClosed struct {
	BaseEvent

	StepID   string    `json:"step_id"`
	ClosedAt time.Time `json:"closed_at"`
}

func (e CircuitClosed) GetType() EventType { return CircuitClosedEvent }

type AlertFired struct {
	BaseEvent

	AlertEventID string                `json:"alert_event_id"`
	RuleID       string                `json:"rule_id"`
	Condition    models.AlertCondition `json:"condition"`
	Severity     models.AlertSeverity  `json:"severity"`
	Message      string                `json:"message"`
	ExecutionID  string                `json:"execution_id,omitempty"`
}

func (e AlertFired) GetType() EventType { return AlertFiredEvent }

// DomainEvent is a business event published by external collaborators and
// matched by event triggers.
type DomainEvent struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
