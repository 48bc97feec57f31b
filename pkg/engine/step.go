package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/otelhelper"
	"github.com/ledgerflow/conductor/pkg/resilience"
)

// runStep is the worker for one step. It owns the step execution record for
// the duration of the run, retrying in place on backoff decisions and
// reporting a single result to the loop when the step settles.
func (r *run) runStep(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution) {
	logger := r.logger.With("step_id", step.ID, "executor_type", step.ExecutorType)

	for {
		allowed, err := r.engine.resilience.AllowsCall(ctx, r.workflow.ID, step.ID)
		if err != nil {
			r.reportEngineError(ctx, step, stepExec, err)

			return
		}

		if !allowed {
			logger.WarnContext(ctx, "Circuit breaker open, failing fast")
			r.failStep(ctx, step, stepExec, stepResult{
				step:     step,
				stepExec: stepExec,
				err:      fmt.Errorf("circuit breaker open for step %s", step.ID),
				kind:     models.ErrorKindExternalService,
				action:   resilience.ActionCircuitOpen,
			})

			return
		}

		output, stepErr := r.invoke(ctx, step, stepExec, logger)

		if stepErr == nil {
			r.completeStep(ctx, step, stepExec, output, logger)

			return
		}

		if errors.Is(ctx.Err(), context.Canceled) {
			r.release()
			r.results <- stepResult{step: step, stepExec: stepExec, err: context.Canceled}

			return
		}

		kind := resilience.Classify(stepErr)
		logger.WarnContext(ctx, "Step failed", "error_kind", kind, "error", stepErr, "retry_count", stepExec.RetryCount)

		r.engine.publish(ctx, r.execution.ID, newStepFailed(r.execution, step, stepExec, kind, stepErr))

		decision, err := r.engine.resilience.HandleFailure(ctx, r.execution, r.workflow, step, stepErr)
		if err != nil {
			r.reportEngineError(ctx, step, stepExec, err)

			return
		}

		if decision.Action != resilience.ActionRetry {
			r.failStep(ctx, step, stepExec, stepResult{
				step:     step,
				stepExec: stepExec,
				err:      stepErr,
				kind:     decision.Kind,
				action:   decision.Action,
			})

			return
		}

		if !r.awaitRetry(ctx, step, stepExec, decision.Delay) {
			return
		}
	}
}

// invoke runs the executor once with the step's timeout applied.
func (r *run) invoke(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution, logger *slog.Logger) (map[string]any, error) {
	input := r.stepInput(step)

	r.mu.Lock()
	stepExec.Input = input
	stepExec.Start()
	r.mu.Unlock()

	if err := r.saveStep(ctx, stepExec); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Step started", "attempt", stepExec.RetryCount)
	r.engine.publish(ctx, r.execution.ID, newStepStarted(r.execution, step, stepExec, input))

	spanCtx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "step.execute",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.ExecutorTypeKey, step.ExecutorType),
	)
	defer span.End()

	executor, err := r.engine.registry.CreateExecutor(step.ExecutorType, step.Configuration)
	if err != nil {
		otelhelper.SetError(span, err)

		// A step whose executor cannot be built will never succeed.
		return nil, resilience.NewKindError(models.ErrorKindPermanent, err)
	}

	callCtx := spanCtx

	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(spanCtx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	r.mu.Lock()
	r.activeCalls++
	r.mu.Unlock()

	output, stepErr := executor.Execute(callCtx, input)

	r.mu.Lock()
	r.activeCalls--
	r.mu.Unlock()

	if stepErr != nil {
		otelhelper.SetError(span, stepErr)

		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("step timed out after %ds: %w", step.TimeoutSeconds, context.DeadlineExceeded)
		}
	}

	return output, stepErr
}

func (r *run) completeStep(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution, output map[string]any, logger *slog.Logger) {
	r.mu.Lock()
	stepExec.Finish(models.StepStatusCompleted, output)
	r.mu.Unlock()

	// The output must be durable before dependents may observe it.
	if err := r.saveStep(ctx, stepExec); err != nil {
		r.reportEngineError(ctx, step, stepExec, err)

		return
	}

	if err := r.engine.resilience.RecordSuccess(ctx, r.workflow.ID, step.ID); err != nil {
		logger.ErrorContext(ctx, "Failed to record breaker success", "error", err)
	}

	if stepExec.RetryCount > 0 {
		if err := r.engine.resilience.ResolveError(ctx, r.execution.ID, step.ID); err != nil {
			logger.ErrorContext(ctx, "Failed to resolve execution error", "error", err)
		}
	}

	logger.InfoContext(ctx, "Step completed", "duration_ms", stepExec.DurationMs)
	r.engine.publish(ctx, r.execution.ID, newStepCompleted(r.execution, step, stepExec))

	r.release()
	r.results <- stepResult{step: step, stepExec: stepExec}
}

// awaitRetry parks the worker for the backoff delay, giving its pool slot
// back while it sleeps. Returns false when the run was cancelled meanwhile.
func (r *run) awaitRetry(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution, delay time.Duration) bool {
	r.mu.Lock()
	stepExec.Status = models.StepStatusRetrying
	stepExec.RetryCount++
	r.mu.Unlock()

	if err := r.saveStep(ctx, stepExec); err != nil {
		r.reportEngineError(ctx, step, stepExec, err)

		return false
	}

	resumeAt := time.Now().UTC().Add(delay)
	r.markWaiting(ctx, step.ID, resumeAt)

	r.release()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		r.results <- stepResult{step: step, stepExec: stepExec, err: context.Canceled}

		return false
	}

	// Reacquire a slot before the next attempt.
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.results <- stepResult{step: step, stepExec: stepExec, err: context.Canceled}

		return false
	}

	r.markRunning(ctx)

	return true
}

// failStep records the terminal failed state and reports it to the loop.
func (r *run) failStep(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution, res stepResult) {
	r.mu.Lock()
	stepExec.Finish(models.StepStatusFailed, nil)
	r.mu.Unlock()

	if err := r.saveStep(ctx, stepExec); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist failed step", "step_id", step.ID, "error", err)
	}

	r.release()
	r.results <- res
}

// reportEngineError surfaces a store or infrastructure error, which fails the
// whole run rather than the step.
func (r *run) reportEngineError(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution, err error) {
	r.logger.ErrorContext(ctx, "Engine error while running step", "step_id", step.ID, "error", err)

	r.release()
	r.results <- stepResult{
		step:     step,
		stepExec: stepExec,
		err:      err,
		kind:     models.ErrorKindUnknown,
		action:   resilience.ActionDeadLetter,
	}
}

func (r *run) release() {
	<-r.sem
}
