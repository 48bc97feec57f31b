// Package persistence provides the data storage abstraction for the execution core.
package persistence

import (
	"context"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
)

// Persistence groups the repositories the core depends on. Implementations
// are the file store (development, tests) and PostgreSQL.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TriggerRepository() TriggerRepository
	ScheduleRepository() ScheduleRepository
	ExecutionRepository() ExecutionRepository
	ResilienceRepository() ResilienceRepository
	DeadLetterRepository() DeadLetterRepository
	AlertRepository() AlertRepository
	WebhookLogRepository() WebhookLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

type TriggerRepository interface {
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	GetByWebhookToken(ctx context.Context, token string) (*models.Trigger, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error)
	ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
	Save(ctx context.Context, trigger *models.Trigger) error

	// Delete cascades the trigger's schedule rows.
	Delete(ctx context.Context, id string) error

	// MarkPeriodFired records that a threshold/deadline trigger fired for
	// the given period. Returns false without error when a marker already
	// exists, making periodic evaluation idempotent per (trigger, period).
	MarkPeriodFired(ctx context.Context, triggerID, period string) (bool, error)
}

type ScheduleRepository interface {
	GetByTriggerID(ctx context.Context, triggerID string) (*models.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)
	Save(ctx context.Context, schedule *models.Schedule) error
	DeleteByTriggerID(ctx context.Context, triggerID string) error

	RecordMissedRun(ctx context.Context, missed *models.MissedRun) error
	MissedRuns(ctx context.Context, triggerID string) ([]*models.MissedRun, error)
}

type ExecutionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	Save(ctx context.Context, execution *models.Execution) error

	// SaveStep persists a single step execution record. Step outputs must be
	// durable before dependent steps are scheduled.
	SaveStep(ctx context.Context, step *models.StepExecution) error

	// RunningForTrigger returns the id of a non-terminal execution for the
	// trigger, or empty. Used for schedule overlap suppression.
	RunningForTrigger(ctx context.Context, triggerID string) (string, error)

	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
}

type ResilienceRepository interface {
	// GetError returns the active error record for (execution, step), or nil.
	GetError(ctx context.Context, executionID, stepID string) (*models.ExecutionError, error)

	// SaveError persists the record with an optimistic version check; a
	// stale version returns ErrVersionConflict. The stored version is
	// incremented on success.
	SaveError(ctx context.Context, execErr *models.ExecutionError) error

	// GetBreaker returns the breaker row for (workflow, step), creating a
	// closed one if none exists.
	GetBreaker(ctx context.Context, workflowID, stepID string) (*models.CircuitBreakerState, error)

	// SaveBreaker persists the breaker with an optimistic version check so
	// concurrent failures on the same step resolve deterministically.
	SaveBreaker(ctx context.Context, breaker *models.CircuitBreakerState) error
}

type DeadLetterRepository interface {
	GetByID(ctx context.Context, id string) (*models.DeadLetterEntry, error)
	Save(ctx context.Context, entry *models.DeadLetterEntry) error
	ListActive(ctx context.Context, workflowID string) ([]*models.DeadLetterEntry, error)

	// ExpireBefore marks active entries whose expiry passed the cutoff as
	// expired and returns how many were transitioned.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type AlertRepository interface {
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	Rules(ctx context.Context) ([]*models.AlertRule, error)
	SaveRule(ctx context.Context, rule *models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error

	GetEvent(ctx context.Context, id string) (*models.AlertEvent, error)
	SaveEvent(ctx context.Context, event *models.AlertEvent) error
	ListEvents(ctx context.Context, status models.AlertEventStatus, limit int) ([]*models.AlertEvent, error)
}

type WebhookLogRepository interface {
	GetByID(ctx context.Context, id string) (*models.WebhookRequestLog, error)
	Save(ctx context.Context, log *models.WebhookRequestLog) error
	ListByTrigger(ctx context.Context, triggerID string, limit int) ([]*models.WebhookRequestLog, error)
}
