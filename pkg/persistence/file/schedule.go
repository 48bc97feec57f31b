package file

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

const (
	scheduleCollection  = "schedules"
	missedRunCollection = "missed_runs"
)

type ScheduleRepository struct {
	store *Persistence
}

func (r *ScheduleRepository) GetByTriggerID(ctx context.Context, triggerID string) (*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	schedules, err := readAll[models.Schedule](r.store, scheduleCollection)
	if err != nil {
		return nil, persistence.NewStoreError("GetByTriggerID", "schedule", triggerID, err)
	}

	for _, schedule := range schedules {
		if schedule.TriggerID == triggerID {
			return schedule, nil
		}
	}

	return nil, nil
}

func (r *ScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	schedules, err := readAll[models.Schedule](r.store, scheduleCollection)
	if err != nil {
		return nil, persistence.NewStoreError("DueSchedules", "schedule", "", err)
	}

	due := schedules[:0]
	for _, schedule := range schedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	return due, nil
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.write(scheduleCollection, schedule.ID, schedule); err != nil {
		return persistence.NewStoreError("Save", "schedule", schedule.ID, err)
	}

	return nil
}

func (r *ScheduleRepository) DeleteByTriggerID(ctx context.Context, triggerID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	schedules, err := readAll[models.Schedule](r.store, scheduleCollection)
	if err != nil {
		return persistence.NewStoreError("DeleteByTriggerID", "schedule", triggerID, err)
	}

	for _, schedule := range schedules {
		if schedule.TriggerID == triggerID {
			if err := r.store.remove(scheduleCollection, schedule.ID); err != nil {
				return persistence.NewStoreError("DeleteByTriggerID", "schedule", schedule.ID, err)
			}
		}
	}

	return nil
}

func (r *ScheduleRepository) RecordMissedRun(ctx context.Context, missed *models.MissedRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if missed.ID == "" {
		missed.ID = uuid.New().String()
	}

	if missed.RecordedAt.IsZero() {
		missed.RecordedAt = time.Now().UTC()
	}

	if err := r.store.write(missedRunCollection, missed.ID, missed); err != nil {
		return persistence.NewStoreError("RecordMissedRun", "missed_run", missed.ID, err)
	}

	return nil
}

func (r *ScheduleRepository) MissedRuns(ctx context.Context, triggerID string) ([]*models.MissedRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	missed, err := readAll[models.MissedRun](r.store, missedRunCollection)
	if err != nil {
		return nil, persistence.NewStoreError("MissedRuns", "missed_run", triggerID, err)
	}

	matched := missed[:0]
	for _, m := range missed {
		if m.TriggerID == triggerID {
			matched = append(matched, m)
		}
	}

	return matched, nil
}
