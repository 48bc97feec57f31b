package file

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const (
	errorCollection   = "execution_errors"
	breakerCollection = "circuit_breakers"
)

// ResilienceRepository owns the two rows mutated by more than one actor:
// execution errors and breaker states. The store mutex plus a version check
// gives single-writer-per-row semantics.
type ResilienceRepository struct {
	store *Persistence
}

func errorDocID(executionID, stepID string) string {
	return executionID + "-" + stepID
}

func breakerDocID(workflowID, stepID string) string {
	return workflowID + "-" + stepID
}

func (r *ResilienceRepository) GetError(ctx context.Context, executionID, stepID string) (*models.ExecutionError, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var execErr models.ExecutionError

	err := r.store.read(errorCollection, errorDocID(executionID, stepID), &execErr)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetError", "execution_error", stepID, err)
	}

	return &execErr, nil
}

func (r *ResilienceRepository) SaveError(ctx context.Context, execErr *models.ExecutionError) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id := errorDocID(execErr.ExecutionID, execErr.StepID)

	var stored models.ExecutionError

	err := r.store.read(errorCollection, id, &stored)

	switch {
	case errors.Is(err, os.ErrNotExist):
		if execErr.ID == "" {
			execErr.ID = uuid.New().String()
		}

		if execErr.CreatedAt.IsZero() {
			execErr.CreatedAt = time.Now().UTC()
		}
	case err != nil:
		return persistence.NewStoreError("SaveError", "execution_error", id, err)
	default:
		if stored.Version != execErr.Version {
			return persistence.NewStoreError("SaveError", "execution_error", id, persistence.ErrVersionConflict)
		}
	}

	execErr.Version++

	if err := r.store.write(errorCollection, id, execErr); err != nil {
		return persistence.NewStoreError("SaveError", "execution_error", id, err)
	}

	return nil
}

func (r *ResilienceRepository) GetBreaker(ctx context.Context, workflowID, stepID string) (*models.CircuitBreakerState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id := breakerDocID(workflowID, stepID)

	var breaker models.CircuitBreakerState

	err := r.store.read(breakerCollection, id, &breaker)
	if errors.Is(err, os.ErrNotExist) {
		created := models.NewCircuitBreakerState(workflowID, stepID)
		if err := r.store.write(breakerCollection, id, created); err != nil {
			return nil, persistence.NewStoreError("GetBreaker", "breaker", id, err)
		}

		return created, nil
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetBreaker", "breaker", id, err)
	}

	return &breaker, nil
}

func (r *ResilienceRepository) SaveBreaker(ctx context.Context, breaker *models.CircuitBreakerState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id := breakerDocID(breaker.WorkflowID, breaker.StepID)

	var stored models.CircuitBreakerState

	err := r.store.read(breakerCollection, id, &stored)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return persistence.NewStoreError("SaveBreaker", "breaker", id, err)
	}

	if err == nil && stored.Version != breaker.Version {
		return persistence.NewStoreError("SaveBreaker", "breaker", id, persistence.ErrVersionConflict)
	}

	breaker.Version++

	if err := r.store.write(breakerCollection, id, breaker); err != nil {
		return persistence.NewStoreError("SaveBreaker", "breaker", id, err)
	}

	return nil
}
