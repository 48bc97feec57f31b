package file

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const webhookLogCollection = "webhook_logs"

type WebhookLogRepository struct {
	store *Persistence
}

func (r *WebhookLogRepository) GetByID(ctx context.Context, id string) (*models.WebhookRequestLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var log models.WebhookRequestLog

	err := r.store.read(webhookLogCollection, id, &log)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetByID", "webhook_log", id, persistence.ErrWebhookLogNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "webhook_log", id, err)
	}

	return &log, nil
}

func (r *WebhookLogRepository) Save(ctx context.Context, log *models.WebhookRequestLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	if log.ReceivedAt.IsZero() {
		log.ReceivedAt = time.Now().UTC()
	}

	if err := r.store.write(webhookLogCollection, log.ID, log); err != nil {
		return persistence.NewStoreError("Save", "webhook_log", log.ID, err)
	}

	return nil
}

func (r *WebhookLogRepository) ListByTrigger(ctx context.Context, triggerID string, limit int) ([]*models.WebhookRequestLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	logs, err := readAll[models.WebhookRequestLog](r.store, webhookLogCollection)
	if err != nil {
		return nil, persistence.NewStoreError("ListByTrigger", "webhook_log", triggerID, err)
	}

	matched := logs[:0]
	for _, log := range logs {
		if log.TriggerID == triggerID {
			matched = append(matched, log)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}
