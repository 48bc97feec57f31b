// Package engine drives workflow executions: DAG scheduling on a bounded
// worker pool, per-step timeouts, and handoff of failures to the resilience
// manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerflow/conductor/pkg/eventbus"
	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/registry"
	"github.com/ledgerflow/conductor/pkg/resilience"
)

const defaultMaxWorkers = 4

var (
	ErrWorkflowNotExecutable = errors.New("workflow is not executable")
	ErrExecutionFinished     = errors.New("execution already finished")
)

// Options carries trigger context and overrides for one execution.
type Options struct {
	OrganizationID string
	TriggerID      string
	TriggerType    string
	Priority       int
	Variables      map[string]any

	// RetryOfID and ResumeFromStep link a dead-letter retry back to the
	// original execution and restart the graph at the failed step.
	RetryOfID      string
	ResumeFromStep string

	// Seeded step records (completed outputs from a frozen snapshot).
	SeedSteps []*models.StepExecution
}

// Config tunes the engine.
type Config struct {
	// MaxWorkers bounds how many steps of one execution run concurrently.
	MaxWorkers int
}

// Status is the point-in-time view of an execution.
type Status struct {
	ExecutionID  string                  `json:"execution_id"`
	Status       models.ExecutionStatus  `json:"status"`
	Progress     int                     `json:"progress"`
	CurrentSteps []string                `json:"current_steps"`
	Steps        []*models.StepExecution `json:"steps"`
}

// Engine runs workflow executions. One Engine instance serves many concurrent
// executions; per-execution scheduling state lives in a run.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	resilience  *resilience.Manager
	eventBus    eventbus.EventPublisher
	tracer      trace.Tracer
	maxWorkers  int

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewEngine(
	logger *slog.Logger,
	persistence persistence.Persistence,
	reg *registry.Registry,
	resilienceManager *resilience.Manager,
	eventBus eventbus.EventPublisher,
	cfg Config,
) *Engine {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: persistence,
		registry:    reg,
		resilience:  resilienceManager,
		eventBus:    eventBus,
		tracer:      otel.Tracer("conductor.engine"),
		maxWorkers:  maxWorkers,
		running:     make(map[string]context.CancelFunc),
	}
}

// Prepare creates and persists a pending execution for the workflow without
// running it. Used by dispatchers that hand the execution to a queue.
func (e *Engine) Prepare(ctx context.Context, workflowID string, input map[string]any, opts Options) (*models.Execution, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if !workflow.IsExecutable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowNotExecutable, workflowID, workflow.Status)
	}

	if err := workflow.ValidateGraph(); err != nil {
		return nil, fmt.Errorf("workflow graph is invalid: %w", err)
	}

	now := time.Now().UTC()
	execution := &models.Execution{
		ID:             uuid.New().String(),
		OrganizationID: opts.OrganizationID,
		WorkflowID:     workflowID,
		TriggerID:      opts.TriggerID,
		Status:         models.ExecutionStatusPending,
		Input:          input,
		Variables:      opts.Variables,
		Priority:       opts.Priority,
		RetryOfID:      opts.RetryOfID,
		ResumeFromStep: opts.ResumeFromStep,
		Steps:          opts.SeedSteps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if execution.OrganizationID == "" {
		execution.OrganizationID = workflow.OrganizationID
	}

	for _, seed := range execution.Steps {
		seed.ExecutionID = execution.ID
	}

	if err := e.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution created",
		"execution_id", execution.ID,
		"workflow_id", workflowID,
		"trigger_id", opts.TriggerID,
	)

	return execution, nil
}

// Execute creates an execution for the workflow and drives it to a terminal
// state. A failed execution is not an error return; errors report engine or
// store problems.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any, opts Options) (string, error) {
	execution, err := e.Prepare(ctx, workflowID, input, opts)
	if err != nil {
		return "", err
	}

	if err := e.Run(ctx, execution.ID); err != nil {
		return execution.ID, err
	}

	return execution.ID, nil
}

// Run drives a prepared execution through the DAG until it reaches a terminal
// state or the context is cancelled.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrExecutionFinished, executionID, execution.Status)
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.running[executionID] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, executionID)
		e.mu.Unlock()
	}()

	r := newRun(e, execution, workflow)

	return r.loop(runCtx)
}

// Cancel requests cooperative cancellation. A locally running execution has
// its context cancelled and finishes through the run loop; a pending or
// waiting execution owned by no engine is transitioned directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	cancel, ok := e.running[executionID]
	e.mu.Unlock()

	if ok {
		cancel()
		e.logger.InfoContext(ctx, "Cancellation requested", "execution_id", executionID)

		return nil
	}

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrExecutionFinished, executionID, execution.Status)
	}

	if err := execution.TransitionTo(models.ExecutionStatusCancelled); err != nil {
		return err
	}

	if err := e.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	e.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID: executionID,
		Reason:      "cancelled before start",
		DurationMs:  execution.Duration().Milliseconds(),
	})

	return nil
}

// Status returns the durable view of an execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*Status, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	return &Status{
		ExecutionID:  execution.ID,
		Status:       execution.Status,
		Progress:     execution.Progress(),
		CurrentSteps: execution.CurrentSteps(),
		Steps:        execution.Steps,
	}, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
