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

const (
	alertRuleCollection  = "alert_rules"
	alertEventCollection = "alert_events"
)

type AlertRepository struct {
	store *Persistence
}

func (r *AlertRepository) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var rule models.AlertRule

	err := r.store.read(alertRuleCollection, id, &rule)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetRule", "alert_rule", id, persistence.ErrAlertRuleNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetRule", "alert_rule", id, err)
	}

	return &rule, nil
}

func (r *AlertRepository) Rules(ctx context.Context) ([]*models.AlertRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rules, err := readAll[models.AlertRule](r.store, alertRuleCollection)
	if err != nil {
		return nil, persistence.NewStoreError("Rules", "alert_rule", "", err)
	}

	return rules, nil
}

func (r *AlertRepository) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rule.UpdatedAt = time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = rule.UpdatedAt
	}

	if err := r.store.write(alertRuleCollection, rule.ID, rule); err != nil {
		return persistence.NewStoreError("SaveRule", "alert_rule", rule.ID, err)
	}

	return nil
}

func (r *AlertRepository) DeleteRule(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.remove(alertRuleCollection, id); err != nil {
		return persistence.NewStoreError("DeleteRule", "alert_rule", id, err)
	}

	return nil
}

func (r *AlertRepository) GetEvent(ctx context.Context, id string) (*models.AlertEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var event models.AlertEvent

	err := r.store.read(alertEventCollection, id, &event)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("GetEvent", "alert_event", id, persistence.ErrAlertEventNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetEvent", "alert_event", id, err)
	}

	return &event, nil
}

func (r *AlertRepository) SaveEvent(ctx context.Context, event *models.AlertEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.write(alertEventCollection, event.ID, event); err != nil {
		return persistence.NewStoreError("SaveEvent", "alert_event", event.ID, err)
	}

	return nil
}

func (r *AlertRepository) ListEvents(ctx context.Context, status models.AlertEventStatus, limit int) ([]*models.AlertEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	events, err := readAll[models.AlertEvent](r.store, alertEventCollection)
	if err != nil {
		return nil, persistence.NewStoreError("ListEvents", "alert_event", "", err)
	}

	matched := events[:0]
	for _, event := range events {
		if status != "" && event.Status != status {
			continue
		}

		matched = append(matched, event)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].FiredAt.After(matched[j].FiredAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}
