package file

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const deadLetterCollection = "dead_letters"

type DeadLetterRepository struct {
	store *Persistence
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var entry models.DeadLetterEntry

	err := r.store.read(deadLetterCollection, id, &entry)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetByID", "dead_letter", id, persistence.ErrDeadLetterNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "dead_letter", id, err)
	}

	return &entry, nil
}

func (r *DeadLetterRepository) Save(ctx context.Context, entry *models.DeadLetterEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entry.UpdatedAt = time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.UpdatedAt
	}

	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.CreatedAt.Add(models.DefaultDeadLetterRetention)
	}

	if err := r.store.write(deadLetterCollection, entry.ID, entry); err != nil {
		return persistence.NewStoreError("Save", "dead_letter", entry.ID, err)
	}

	return nil
}

func (r *DeadLetterRepository) ListActive(ctx context.Context, workflowID string) ([]*models.DeadLetterEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries, err := readAll[models.DeadLetterEntry](r.store, deadLetterCollection)
	if err != nil {
		return nil, persistence.NewStoreError("ListActive", "dead_letter", workflowID, err)
	}

	matched := entries[:0]
	for _, entry := range entries {
		if !entry.IsActionable() {
			continue
		}

		if workflowID != "" && entry.WorkflowID != workflowID {
			continue
		}

		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched, nil
}

func (r *DeadLetterRepository) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entries, err := readAll[models.DeadLetterEntry](r.store, deadLetterCollection)
	if err != nil {
		return 0, persistence.NewStoreError("ExpireBefore", "dead_letter", "", err)
	}

	expired := 0

	for _, entry := range entries {
		if !entry.IsActionable() || !entry.ExpiresAt.Before(cutoff) {
			continue
		}

		entry.Status = models.DeadLetterStatusExpired
		entry.UpdatedAt = time.Now().UTC()

		if err := r.store.write(deadLetterCollection, entry.ID, entry); err != nil {
			return expired, persistence.NewStoreError("ExpireBefore", "dead_letter", entry.ID, err)
		}

		expired++
	}

	return expired, nil
}
