package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const executionCollection = "executions"

// ExecutionRepository stores each execution with its step executions embedded
// in one document, matching the one-writer-per-execution access pattern of
// the engine.
type ExecutionRepository struct {
	store *Persistence
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getByID(id)
}

func (r *ExecutionRepository) getByID(id string) (*models.Execution, error) {
	var execution models.Execution

	err := r.store.read(executionCollection, id, &execution)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "execution", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution.UpdatedAt = time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = execution.UpdatedAt
	}

	if err := r.store.write(executionCollection, execution.ID, execution); err != nil {
		return persistence.NewStoreError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) SaveStep(ctx context.Context, step *models.StepExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, err := r.getByID(step.ExecutionID)
	if err != nil {
		return err
	}

	found := false

	for i, existing := range execution.Steps {
		if existing.StepID == step.StepID {
			execution.Steps[i] = step
			found = true

			break
		}
	}

	if !found {
		return persistence.NewStoreError("SaveStep", "step_execution", step.StepID,
			fmt.Errorf("step %s not part of execution %s", step.StepID, step.ExecutionID))
	}

	execution.UpdatedAt = time.Now().UTC()

	if err := r.store.write(executionCollection, execution.ID, execution); err != nil {
		return persistence.NewStoreError("SaveStep", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) RunningForTrigger(ctx context.Context, triggerID string) (string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	executions, err := readAll[models.Execution](r.store, executionCollection)
	if err != nil {
		return "", persistence.NewStoreError("RunningForTrigger", "execution", triggerID, err)
	}

	for _, execution := range executions {
		if execution.TriggerID == triggerID && !execution.Status.IsTerminal() {
			return execution.ID, nil
		}
	}

	return "", nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	executions, err := readAll[models.Execution](r.store, executionCollection)
	if err != nil {
		return nil, persistence.NewStoreError("ListByWorkflow", "execution", workflowID, err)
	}

	matched := executions[:0]
	for _, execution := range executions {
		if execution.WorkflowID == workflowID {
			matched = append(matched, execution)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}
