package file

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const workflowCollection = "workflows"

type WorkflowRepository struct {
	store *Persistence
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflows, err := readAll[models.Workflow](r.store, workflowCollection)
	if err != nil {
		return nil, persistence.NewStoreError("GetAll", "workflow", "", err)
	}

	active := workflows[:0]
	for _, w := range workflows {
		if w.DeletedAt == nil {
			active = append(active, w)
		}
	}

	return active, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var workflow models.Workflow

	err := r.store.read(workflowCollection, id, &workflow)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "workflow", id, err)
	}

	if workflow.DeletedAt != nil {
		return nil, persistence.NewStoreError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	workflow.UpdatedAt = time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = workflow.UpdatedAt
	}

	if err := r.store.write(workflowCollection, workflow.ID, workflow); err != nil {
		return persistence.NewStoreError("Save", "workflow", workflow.ID, err)
	}

	return nil
}

// Delete soft deletes by stamping DeletedAt.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var workflow models.Workflow

	err := r.store.read(workflowCollection, id, &workflow)
	if errors.Is(err, os.ErrNotExist) {
		return persistence.NewStoreError("Delete", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewStoreError("Delete", "workflow", id, err)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	if err := r.store.write(workflowCollection, id, &workflow); err != nil {
		return persistence.NewStoreError("Delete", "workflow", id, err)
	}

	return nil
}
