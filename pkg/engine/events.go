package engine

import (
	"time"

	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
)

func newExecutionStarted(execution *models.Execution, workflow *models.Workflow) events.ExecutionStarted {
	return events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		TriggerID:   execution.TriggerID,
		Input:       execution.Input,
		TotalSteps:  len(workflow.Steps),
	}
}

func newExecutionCompleted(execution *models.Execution, workflow *models.Workflow) events.ExecutionCompleted {
	executed := 0

	for _, stepExec := range execution.Steps {
		if stepExec.Status == models.StepStatusCompleted {
			executed++
		}
	}

	return events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, workflow.ID),
		ExecutionID:   execution.ID,
		DurationMs:    execution.Duration().Milliseconds(),
		StepsExecuted: executed,
		FinalOutputs:  finalOutputs(execution, workflow),
	}
}

// finalOutputs collects the outputs of completed leaf steps, the ones no
// other step depends on.
func finalOutputs(execution *models.Execution, workflow *models.Workflow) map[string]any {
	hasDependents := make(map[string]bool)

	for _, step := range workflow.Steps {
		for _, dep := range step.DependsOn {
			hasDependents[dep] = true
		}
	}

	outputs := make(map[string]any)

	for _, stepExec := range execution.Steps {
		if hasDependents[stepExec.StepID] || stepExec.Status != models.StepStatusCompleted {
			continue
		}

		if len(stepExec.Output) > 0 {
			outputs[stepExec.StepID] = stepExec.Output
		}
	}

	if len(outputs) == 0 {
		return nil
	}

	return outputs
}

func newExecutionFailed(execution *models.Execution, failure *stepResult) events.ExecutionFailed {
	return events.ExecutionFailed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID:  execution.ID,
		FailedStepID: failure.step.ID,
		ErrorKind:    failure.kind,
		Error:        failure.err.Error(),
		DurationMs:   execution.Duration().Milliseconds(),
	}
}

func newExecutionCancelled(execution *models.Execution, reason string) events.ExecutionCancelled {
	return events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Reason:      reason,
		DurationMs:  execution.Duration().Milliseconds(),
	}
}

func newExecutionWaiting(execution *models.Execution, stepID string, resumeAt time.Time) events.ExecutionWaiting {
	return events.ExecutionWaiting{
		BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Reason:      "retry_backoff",
		StepID:      stepID,
		ResumeAt:    &resumeAt,
	}
}

func newStepStarted(execution *models.Execution, step *models.WorkflowStep, stepExec *models.StepExecution, input map[string]any) events.StepStarted {
	return events.StepStarted{
		BaseEvent:   events.NewBaseEvent(events.StepStartedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		Input:       input,
		Attempt:     stepExec.RetryCount,
	}
}

func newStepCompleted(execution *models.Execution, step *models.WorkflowStep, stepExec *models.StepExecution) events.StepCompleted {
	return events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		Output:      stepExec.Output,
		DurationMs:  stepExec.DurationMs,
	}
}

func newStepFailed(execution *models.Execution, step *models.WorkflowStep, stepExec *models.StepExecution, kind models.ErrorKind, stepErr error) events.StepFailed {
	return events.StepFailed{
		BaseEvent:   events.NewBaseEvent(events.StepFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		ErrorKind:   kind,
		Error:       stepErr.Error(),
		RetryCount:  stepExec.RetryCount,
		DurationMs:  stepExec.DurationMs,
	}
}
