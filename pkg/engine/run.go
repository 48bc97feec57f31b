package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/otelhelper"
	"github.com/ledgerflow/conductor/pkg/resilience"
)

// stepResult is what a worker reports back to the run loop. A nil err means
// the step completed. action distinguishes a terminal step failure from an
// engine-side error; cancellation is reported with ctx's error.
type stepResult struct {
	step     *models.WorkflowStep
	stepExec *models.StepExecution
	err      error
	kind     models.ErrorKind
	action   resilience.Action
}

// run holds the scheduling state for one execution. The mutex guards the
// execution record and its step executions; workers and the loop both touch
// them.
type run struct {
	engine    *Engine
	execution *models.Execution
	workflow  *models.Workflow
	logger    *slog.Logger

	mu          sync.Mutex
	activeCalls int // Executor invocations in flight, excluding backoff waits

	sem       chan struct{}
	results   chan stepResult
	inFlight  int
	failure   *stepResult
	cancelled bool
}

func newRun(e *Engine, execution *models.Execution, workflow *models.Workflow) *run {
	return &run{
		engine:    e,
		execution: execution,
		workflow:  workflow,
		logger: e.logger.With(
			"execution_id", execution.ID,
			"workflow_id", workflow.ID,
		),
		sem:     make(chan struct{}, e.maxWorkers),
		results: make(chan stepResult, len(workflow.Steps)+1),
	}
}

func (r *run) loop(ctx context.Context) error {
	spanCtx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "execution.run",
		attribute.String(otelhelper.WorkflowIDKey, r.workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, r.workflow.Name),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
	)
	defer span.End()

	if err := r.start(spanCtx); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	for {
		if !r.cancelled && r.failure == nil {
			if err := r.dispatch(spanCtx); err != nil {
				otelhelper.SetError(span, err)

				return err
			}
		}

		if r.inFlight == 0 {
			return r.finish(spanCtx, span)
		}

		if r.cancelled {
			// Only drain; workers observe the dead context and report back.
			res := <-r.results
			r.collect(res)

			continue
		}

		select {
		case res := <-r.results:
			r.collect(res)
		case <-spanCtx.Done():
			r.cancelled = true
		}
	}
}

func (r *run) collect(res stepResult) {
	r.inFlight--

	if res.err == nil {
		return
	}

	if errors.Is(res.err, context.Canceled) {
		r.cancelled = true

		return
	}

	if r.failure == nil {
		r.failure = &res
	}
}

// start transitions the execution to running, materializes step records and
// announces the lifecycle event.
func (r *run) start(ctx context.Context) error {
	if err := r.execution.TransitionTo(models.ExecutionStatusRunning); err != nil {
		return err
	}

	r.ensureStepRecords()

	// One save persists the status change and the fresh step records; from
	// here on individual steps go through SaveStep.
	if err := r.saveExecution(ctx); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Execution started", "total_steps", len(r.workflow.Steps))

	r.engine.publish(ctx, r.execution.ID, newExecutionStarted(r.execution, r.workflow))

	return nil
}

// ensureStepRecords creates a pending step execution for every workflow step
// that has none yet. Seeded records (dead-letter retries resume with the
// frozen snapshot) are left untouched; disabled steps are skipped outright.
func (r *run) ensureStepRecords() {
	for _, step := range r.workflow.Steps {
		if existing := r.execution.StepExecutionByID(step.ID); existing != nil {
			continue
		}

		stepExec := &models.StepExecution{
			ID:          uuid.New().String(),
			ExecutionID: r.execution.ID,
			StepID:      step.ID,
			Status:      models.StepStatusPending,
		}

		if !step.Enabled {
			stepExec.Finish(models.StepStatusSkipped, nil)
		}

		r.execution.Steps = append(r.execution.Steps, stepExec)
	}
}

// dispatch launches every ready step the pool has room for. A step is ready
// when it is pending and all of its dependencies finished.
func (r *run) dispatch(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, step := range r.workflow.Steps {
		stepExec := r.execution.StepExecutionByID(step.ID)
		if stepExec == nil || stepExec.Status != models.StepStatusPending {
			continue
		}

		if !r.depsDoneLocked(step) {
			continue
		}

		select {
		case r.sem <- struct{}{}:
		default:
			return nil // Pool full; the next result frees a slot
		}

		stepExec.Status = models.StepStatusRunning
		r.inFlight++

		go r.runStep(ctx, step, stepExec)
	}

	if r.inFlight == 0 && r.failure == nil && !r.cancelled && !r.allDoneLocked() {
		return fmt.Errorf("execution %s stalled with no runnable step", r.execution.ID)
	}

	return nil
}

func (r *run) depsDoneLocked(step *models.WorkflowStep) bool {
	for _, dep := range step.DependsOn {
		depExec := r.execution.StepExecutionByID(dep)
		if depExec == nil {
			return false
		}

		if depExec.Status != models.StepStatusCompleted && depExec.Status != models.StepStatusSkipped {
			return false
		}
	}

	return true
}

func (r *run) allDoneLocked() bool {
	for _, stepExec := range r.execution.Steps {
		if stepExec.Status != models.StepStatusCompleted && stepExec.Status != models.StepStatusSkipped {
			return false
		}
	}

	return true
}

// finish resolves the run's terminal state once no worker is in flight.
func (r *run) finish(ctx context.Context, span trace.Span) error {
	// Persist with a live context even when the run's was cancelled.
	saveCtx := context.WithoutCancel(ctx)

	switch {
	case r.cancelled:
		return r.finishCancelled(saveCtx)
	case r.failure != nil:
		otelhelper.SetError(span, r.failure.err)

		return r.finishFailed(saveCtx)
	default:
		return r.finishCompleted(saveCtx)
	}
}

func (r *run) finishCompleted(ctx context.Context) error {
	if err := r.execution.TransitionTo(models.ExecutionStatusCompleted); err != nil {
		return err
	}

	if err := r.saveExecution(ctx); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Execution completed", "duration_ms", r.execution.Duration().Milliseconds())

	r.engine.publish(ctx, r.execution.ID, newExecutionCompleted(r.execution, r.workflow))

	return nil
}

func (r *run) finishFailed(ctx context.Context) error {
	if err := r.execution.TransitionTo(models.ExecutionStatusFailed); err != nil {
		return err
	}

	if err := r.saveExecution(ctx); err != nil {
		return err
	}

	failure := r.failure
	r.logger.ErrorContext(ctx, "Execution failed",
		"failed_step_id", failure.step.ID,
		"error_kind", failure.kind,
		"error", failure.err,
	)

	r.engine.publish(ctx, r.execution.ID, newExecutionFailed(r.execution, failure))

	return nil
}

func (r *run) finishCancelled(ctx context.Context) error {
	if err := r.execution.TransitionTo(models.ExecutionStatusCancelled); err != nil {
		return err
	}

	if err := r.saveExecution(ctx); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Execution cancelled")

	r.engine.publish(ctx, r.execution.ID, newExecutionCancelled(r.execution, "context cancelled"))

	return nil
}

// markWaiting flips the execution to waiting while a retry backoff is the
// only thing happening. With other steps actively executing the status stays
// running.
func (r *run) markWaiting(ctx context.Context, stepID string, resumeAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCalls > 0 || r.execution.Status != models.ExecutionStatusRunning {
		return
	}

	if err := r.execution.TransitionTo(models.ExecutionStatusWaiting); err != nil {
		return
	}

	if err := r.saveExecution(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist waiting status", "error", err)
	}

	r.engine.publish(ctx, r.execution.ID, newExecutionWaiting(r.execution, stepID, resumeAt))
}

// markRunning resumes a waiting execution before the next attempt.
func (r *run) markRunning(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.execution.Status != models.ExecutionStatusWaiting {
		return
	}

	if err := r.execution.TransitionTo(models.ExecutionStatusRunning); err != nil {
		return
	}

	if err := r.saveExecution(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist running status", "error", err)
	}
}

// stepInput assembles the executor payload: the trigger input, merged
// variables, and the outputs of the step's dependencies under "steps".
func (r *run) stepInput(step *models.WorkflowStep) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	input := make(map[string]any, len(r.execution.Input)+2)
	maps.Copy(input, r.execution.Input)

	variables := make(map[string]any)
	maps.Copy(variables, r.workflow.Variables)
	maps.Copy(variables, r.execution.Variables)

	if len(variables) > 0 {
		input["variables"] = variables
	}

	depOutputs := make(map[string]any)

	for _, dep := range step.DependsOn {
		depExec := r.execution.StepExecutionByID(dep)
		if depExec != nil && len(depExec.Output) > 0 {
			depOutputs[dep] = depExec.Output
		}
	}

	if len(depOutputs) > 0 {
		input["steps"] = depOutputs
	}

	return input
}

func (r *run) saveExecution(ctx context.Context) error {
	err := r.engine.persistence.ExecutionRepository().Save(ctx, r.execution)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *run) saveStep(ctx context.Context, stepExec *models.StepExecution) error {
	err := r.engine.persistence.ExecutionRepository().SaveStep(ctx, stepExec)
	if err != nil {
		return fmt.Errorf("failed to save step execution: %w", err)
	}

	return nil
}
