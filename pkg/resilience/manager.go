package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/eventbus"
	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

// Action is the failure-handling outcome handed back to the engine.
type Action string

const (
	ActionRetry       Action = "retry"
	ActionDeadLetter  Action = "dead_letter"
	ActionCircuitOpen Action = "circuit_open"
)

// Decision carries the chosen action plus the retry delay when applicable.
type Decision struct {
	Action          Action
	Kind            models.ErrorKind
	Delay           time.Duration
	DeadLetterEntry *models.DeadLetterEntry
}

// versionRetries bounds the reload-and-retry loop around optimistic saves.
const versionRetries = 3

// Manager intercepts step failures. It owns the execution error and circuit
// breaker rows; concurrent failures on the same step resolve through the
// persistence layer's version checks, not locks.
type Manager struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	notifier    protocol.Notifier
	logger      *slog.Logger
}

func NewManager(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventPublisher,
	notifier protocol.Notifier,
) *Manager {
	if notifier == nil {
		notifier = protocol.NopNotifier{}
	}

	return &Manager{
		persistence: persistence,
		eventBus:    eventBus,
		notifier:    notifier,
		logger:      logger.With("module", "resilience"),
	}
}

// AllowsCall reports whether the breaker for (workflow, step) permits a call
// right now. An open breaker past its reset timeout moves to half-open, which
// admits the probe call.
func (m *Manager) AllowsCall(ctx context.Context, workflowID, stepID string) (bool, error) {
	repo := m.persistence.ResilienceRepository()

	for attempt := 0; attempt < versionRetries; attempt++ {
		breaker, err := repo.GetBreaker(ctx, workflowID, stepID)
		if err != nil {
			return false, fmt.Errorf("failed to load circuit breaker: %w", err)
		}

		before := breaker.State
		allowed := breaker.AllowsCall(time.Now().UTC())

		if breaker.State == before {
			return allowed, nil
		}

		err = repo.SaveBreaker(ctx, breaker)
		if err == nil {
			return allowed, nil
		}

		if !persistence.IsVersionConflict(err) {
			return false, fmt.Errorf("failed to save circuit breaker: %w", err)
		}
	}

	return false, fmt.Errorf("circuit breaker contention on %s/%s", workflowID, stepID)
}

// HandleFailure classifies the step failure, updates the error record and the
// circuit breaker, and decides between retry, dead-letter and fail-fast.
func (m *Manager) HandleFailure(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	step *models.WorkflowStep,
	stepErr error,
) (*Decision, error) {
	kind := Classify(stepErr)
	now := time.Now().UTC()

	logger := m.logger.With(
		"execution_id", execution.ID,
		"step_id", step.ID,
		"error_kind", kind,
	)
	logger.WarnContext(ctx, "Handling step failure", "error", stepErr)

	execErr, err := m.supersedeError(ctx, execution, workflow, step, kind, stepErr)
	if err != nil {
		return nil, err
	}

	breaker, opened, err := m.recordBreakerFailure(ctx, workflow.ID, step.ID, now)
	if err != nil {
		return nil, err
	}

	if opened {
		m.publish(ctx, execution.ID, events.CircuitOpened{
			BaseEvent:    events.NewBaseEvent(events.CircuitOpenedEvent, workflow.ID),
			StepID:       step.ID,
			FailureCount: breaker.FailureCount,
			OpenedAt:     now,
		})
	}

	// An open circuit short-circuits the retry decision entirely.
	if breaker.State == models.BreakerOpen {
		execErr.Status = models.ErrorStatusEscalated
		if err := m.saveError(ctx, execErr); err != nil {
			return nil, err
		}

		logger.WarnContext(ctx, "Circuit open, failing fast", "failure_count", breaker.FailureCount)

		return &Decision{Action: ActionCircuitOpen, Kind: kind}, nil
	}

	policy := models.ResolveRetryPolicy(step, workflow)

	if policy.ShouldRetry(kind, execErr.RetryCount) {
		delay := policy.Delay(execErr.RetryCount)
		retryAt := now.Add(delay)

		execErr.MaxRetries = policy.MaxRetries
		execErr.ScheduleRetry(retryAt)

		if err := m.saveError(ctx, execErr); err != nil {
			return nil, err
		}

		m.publish(ctx, execution.ID, events.StepRetryScheduled{
			BaseEvent:   events.NewBaseEvent(events.StepRetryScheduledEvent, workflow.ID),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			ErrorKind:   kind,
			RetryCount:  execErr.RetryCount,
			MaxRetries:  policy.MaxRetries,
			DelayMs:     delay.Milliseconds(),
			NextRetryAt: retryAt,
		})

		logger.InfoContext(ctx, "Retry scheduled",
			"retry_count", execErr.RetryCount,
			"max_retries", policy.MaxRetries,
			"delay", delay,
		)

		return &Decision{Action: ActionRetry, Kind: kind, Delay: delay}, nil
	}

	entry, err := m.deadLetter(ctx, execution, workflow, step, execErr)
	if err != nil {
		return nil, err
	}

	logger.ErrorContext(ctx, "Execution dead-lettered",
		"dead_letter_id", entry.ID,
		"retries_attempted", execErr.RetryCount,
	)

	return &Decision{Action: ActionDeadLetter, Kind: kind, DeadLetterEntry: entry}, nil
}

// RecordSuccess feeds a successful step call to the breaker. A success while
// half-open closes the circuit.
func (m *Manager) RecordSuccess(ctx context.Context, workflowID, stepID string) error {
	repo := m.persistence.ResilienceRepository()

	for attempt := 0; attempt < versionRetries; attempt++ {
		breaker, err := repo.GetBreaker(ctx, workflowID, stepID)
		if err != nil {
			return fmt.Errorf("failed to load circuit breaker: %w", err)
		}

		wasHalfOpen := breaker.State == models.BreakerHalfOpen
		now := time.Now().UTC()
		breaker.RecordSuccess(now)

		err = repo.SaveBreaker(ctx, breaker)
		if err == nil {
			if wasHalfOpen {
				m.publish(ctx, "", events.CircuitClosed{
					BaseEvent: events.NewBaseEvent(events.CircuitClosedEvent, workflowID),
					StepID:    stepID,
					ClosedAt:  now,
				})
			}

			return nil
		}

		if !persistence.IsVersionConflict(err) {
			return fmt.Errorf("failed to save circuit breaker: %w", err)
		}
	}

	return fmt.Errorf("circuit breaker contention on %s/%s", workflowID, stepID)
}

// ResolveError closes the active error record after a successful retry.
func (m *Manager) ResolveError(ctx context.Context, executionID, stepID string) error {
	execErr, err := m.persistence.ResilienceRepository().GetError(ctx, executionID, stepID)
	if err != nil {
		return fmt.Errorf("failed to load execution error: %w", err)
	}

	if execErr == nil {
		return nil
	}

	execErr.MarkResolved()

	return m.saveError(ctx, execErr)
}

// supersedeError folds the failure into the existing error row, creating it
// on the first failure.
func (m *Manager) supersedeError(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	step *models.WorkflowStep,
	kind models.ErrorKind,
	stepErr error,
) (*models.ExecutionError, error) {
	repo := m.persistence.ResilienceRepository()

	execErr, err := repo.GetError(ctx, execution.ID, step.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution error: %w", err)
	}

	if execErr == nil {
		execErr = &models.ExecutionError{
			ID:          uuid.New().String(),
			ExecutionID: execution.ID,
			WorkflowID:  workflow.ID,
			StepID:      step.ID,
			Kind:        kind,
			Message:     stepErr.Error(),
			Status:      models.ErrorStatusPending,
		}
	} else {
		execErr.Supersede(kind, stepErr.Error())
	}

	return execErr, nil
}

// recordBreakerFailure increments the failure counter with a version-checked
// save, retrying on contention. Returns the saved breaker and whether this
// failure opened it.
func (m *Manager) recordBreakerFailure(ctx context.Context, workflowID, stepID string, now time.Time) (*models.CircuitBreakerState, bool, error) {
	repo := m.persistence.ResilienceRepository()

	for attempt := 0; attempt < versionRetries; attempt++ {
		breaker, err := repo.GetBreaker(ctx, workflowID, stepID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load circuit breaker: %w", err)
		}

		wasOpen := breaker.State == models.BreakerOpen
		breaker.RecordFailure(now)

		err = repo.SaveBreaker(ctx, breaker)
		if err == nil {
			return breaker, !wasOpen && breaker.State == models.BreakerOpen, nil
		}

		if !persistence.IsVersionConflict(err) {
			return nil, false, fmt.Errorf("failed to save circuit breaker: %w", err)
		}
	}

	return nil, false, fmt.Errorf("circuit breaker contention on %s/%s", workflowID, stepID)
}

// deadLetter transitions the error row and creates the dead-letter entry with
// a frozen copy of the execution context.
func (m *Manager) deadLetter(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	step *models.WorkflowStep,
	execErr *models.ExecutionError,
) (*models.DeadLetterEntry, error) {
	execErr.MarkDeadLetter()

	if err := m.saveError(ctx, execErr); err != nil {
		return nil, err
	}

	stepOutputs := make(map[string]map[string]any)

	for _, stepExec := range execution.Steps {
		if stepExec.Status == models.StepStatusCompleted && stepExec.Output != nil {
			stepOutputs[stepExec.StepID] = stepExec.Output
		}
	}

	entry := &models.DeadLetterEntry{
		ID:               uuid.New().String(),
		OrganizationID:   execution.OrganizationID,
		ExecutionID:      execution.ID,
		ExecutionErrorID: execErr.ID,
		WorkflowID:       workflow.ID,
		FailedStepID:     step.ID,
		ErrorKind:        execErr.Kind,
		ErrorMessage:     execErr.Message,
		Input:            execution.Input,
		StepOutputs:      stepOutputs,
		Status:           models.DeadLetterStatusPending,
	}

	if err := m.persistence.DeadLetterRepository().Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save dead letter entry: %w", err)
	}

	m.publish(ctx, execution.ID, events.ExecutionDeadLettered{
		BaseEvent:         events.NewBaseEvent(events.ExecutionDeadLetteredEvent, workflow.ID),
		ExecutionID:       execution.ID,
		DeadLetterEntryID: entry.ID,
		FailedStepID:      step.ID,
		ErrorKind:         execErr.Kind,
		Error:             execErr.Message,
		RetriesAttempted:  execErr.RetryCount,
	})

	notifyErr := m.notifier.Notify(ctx, protocol.Notification{
		Channel:  "errors",
		Template: "execution_dead_lettered",
		Data: map[string]any{
			"execution_id":   execution.ID,
			"workflow_id":    workflow.ID,
			"workflow_name":  workflow.Name,
			"failed_step_id": step.ID,
			"error_kind":     string(execErr.Kind),
			"error_message":  execErr.Message,
		},
	})
	if notifyErr != nil {
		m.logger.ErrorContext(ctx, "Failed to dispatch error notification", "error", notifyErr)
	}

	return entry, nil
}

func (m *Manager) saveError(ctx context.Context, execErr *models.ExecutionError) error {
	err := m.persistence.ResilienceRepository().SaveError(ctx, execErr)
	if err != nil {
		return fmt.Errorf("failed to save execution error: %w", err)
	}

	return nil
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.eventBus == nil {
		return
	}

	err := m.eventBus.Publish(ctx, key, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
