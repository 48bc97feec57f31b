package deadletter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

// CompensationHandler executes one compensation type. Handlers receive the
// step's compensation configuration and the output the step produced.
type CompensationHandler interface {
	Compensate(ctx context.Context, step *models.WorkflowStep, output map[string]any) error
}

// RegisterCompensationHandler installs the handler for a compensation type,
// replacing any previous one.
func (s *Service) RegisterCompensationHandler(compType models.CompensationType, handler CompensationHandler) {
	s.handlers[compType] = handler
}

// Compensate runs the registered compensating action of every completed step
// of the execution, in reverse completion order. A failing compensation is
// recorded and the loop continues; results come back in the order they ran.
func (s *Service) Compensate(ctx context.Context, executionID string) ([]models.CompensationResult, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	targets := compensationTargets(execution, workflow)

	results := make([]models.CompensationResult, 0, len(targets))

	for _, target := range targets {
		result := s.compensateStep(ctx, target.step, target.stepExec)
		results = append(results, result)

		s.logger.InfoContext(ctx, "Compensation executed",
			"execution_id", executionID,
			"step_id", target.step.ID,
			"compensation_type", result.Type,
			"status", result.Status,
		)
	}

	return results, nil
}

type compensationTarget struct {
	step     *models.WorkflowStep
	stepExec *models.StepExecution
}

// compensationTargets selects completed steps carrying a compensation,
// ordered by completion time descending: undo happens in reverse.
func compensationTargets(execution *models.Execution, workflow *models.Workflow) []compensationTarget {
	var targets []compensationTarget

	for _, stepExec := range execution.Steps {
		if stepExec.Status != models.StepStatusCompleted {
			continue
		}

		step, err := workflow.StepByID(stepExec.StepID)
		if err != nil || step.Compensation == nil {
			continue
		}

		targets = append(targets, compensationTarget{step: step, stepExec: stepExec})
	}

	sort.Slice(targets, func(i, j int) bool {
		a, b := targets[i].stepExec.FinishedAt, targets[j].stepExec.FinishedAt

		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	return targets
}

func (s *Service) compensateStep(ctx context.Context, step *models.WorkflowStep, stepExec *models.StepExecution) models.CompensationResult {
	comp := step.Compensation
	result := models.CompensationResult{
		StepID:        step.ID,
		Type:          comp.Type,
		CompensatedAt: time.Now().UTC(),
	}

	if handler, ok := s.handlers[comp.Type]; ok {
		if err := handler.Compensate(ctx, step, stepExec.Output); err != nil {
			result.Status = models.CompensationStatusFailed
			result.Detail = err.Error()

			return result
		}

		result.Status = models.CompensationStatusSucceeded

		return result
	}

	// No handler registered: manual compensations record their instruction,
	// notifications go through the notifier, anything else fails.
	switch comp.Type {
	case models.CompensationTypeManual:
		result.Status = models.CompensationStatusManual
		if instructions, ok := comp.Configuration["instructions"].(string); ok {
			result.Detail = instructions
		}
	case models.CompensationTypeNotification:
		err := s.notifier.Notify(ctx, protocol.Notification{
			Channel:  "compensations",
			Template: "step_compensation",
			Data: map[string]any{
				"step_id":       step.ID,
				"step_name":     step.Name,
				"configuration": comp.Configuration,
				"output":        stepExec.Output,
			},
		})
		if err != nil {
			result.Status = models.CompensationStatusFailed
			result.Detail = err.Error()
		} else {
			result.Status = models.CompensationStatusSucceeded
		}
	default:
		result.Status = models.CompensationStatusFailed
		result.Detail = fmt.Sprintf("no compensation handler registered for type %s", comp.Type)
	}

	return result
}
