package file

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const (
	triggerCollection    = "triggers"
	fireMarkerCollection = "fire_markers"
)

type TriggerRepository struct {
	store *Persistence
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getByID(id)
}

func (r *TriggerRepository) getByID(id string) (*models.Trigger, error) {
	var trigger models.Trigger

	err := r.store.read(triggerCollection, id, &trigger)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetByID", "trigger", id, persistence.ErrTriggerNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "trigger", id, err)
	}

	return &trigger, nil
}

func (r *TriggerRepository) GetByWebhookToken(ctx context.Context, token string) (*models.Trigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	triggers, err := readAll[models.Trigger](r.store, triggerCollection)
	if err != nil {
		return nil, persistence.NewStoreError("GetByWebhookToken", "trigger", "", err)
	}

	for _, trigger := range triggers {
		if trigger.Type == models.TriggerTypeWebhook && trigger.Webhook != nil && trigger.Webhook.Token == token {
			return trigger, nil
		}
	}

	return nil, persistence.NewStoreError("GetByWebhookToken", "trigger", token, persistence.ErrTriggerNotFound)
}

func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	triggers, err := readAll[models.Trigger](r.store, triggerCollection)
	if err != nil {
		return nil, persistence.NewStoreError("ListByWorkflow", "trigger", workflowID, err)
	}

	matched := triggers[:0]
	for _, trigger := range triggers {
		if trigger.WorkflowID == workflowID {
			matched = append(matched, trigger)
		}
	}

	return matched, nil
}

func (r *TriggerRepository) ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	triggers, err := readAll[models.Trigger](r.store, triggerCollection)
	if err != nil {
		return nil, persistence.NewStoreError("ListActiveByType", "trigger", string(triggerType), err)
	}

	matched := triggers[:0]
	for _, trigger := range triggers {
		if trigger.Active && trigger.Type == triggerType {
			matched = append(matched, trigger)
		}
	}

	return matched, nil
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	trigger.UpdatedAt = time.Now().UTC()
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = trigger.UpdatedAt
	}

	if err := r.store.write(triggerCollection, trigger.ID, trigger); err != nil {
		return persistence.NewStoreError("Save", "trigger", trigger.ID, err)
	}

	return nil
}

// Delete removes the trigger and cascades its schedule rows.
func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.remove(triggerCollection, id); err != nil {
		return persistence.NewStoreError("Delete", "trigger", id, err)
	}

	schedules, err := readAll[models.Schedule](r.store, scheduleCollection)
	if err != nil {
		return persistence.NewStoreError("Delete", "trigger", id, err)
	}

	for _, schedule := range schedules {
		if schedule.TriggerID == id {
			if err := r.store.remove(scheduleCollection, schedule.ID); err != nil {
				return persistence.NewStoreError("Delete", "schedule", schedule.ID, err)
			}
		}
	}

	return nil
}

func (r *TriggerRepository) MarkPeriodFired(ctx context.Context, triggerID, period string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	markerID := triggerID + "-" + period

	var existing models.PeriodicFireMarker

	err := r.store.read(fireMarkerCollection, markerID, &existing)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return false, persistence.NewStoreError("MarkPeriodFired", "fire_marker", markerID, err)
	}

	marker := models.PeriodicFireMarker{
		TriggerID: triggerID,
		Period:    period,
		FiredAt:   time.Now().UTC(),
	}

	if err := r.store.write(fireMarkerCollection, markerID, &marker); err != nil {
		return false, persistence.NewStoreError("MarkPeriodFired", "fire_marker", markerID, err)
	}

	return true, nil
}
