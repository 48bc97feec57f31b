package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
)

type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const scheduleColumns = `
	id
  , trigger_id
  , workflow_id
  , cron_expression
  , timezone
  , skip_weekends
  , skip_dates
  , allow_overlap
  , next_run_at
  , last_run_at
  , active
  , created_at
  , updated_at
`

func (r *ScheduleRepository) GetByTriggerID(ctx context.Context, triggerID string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE trigger_id = $1`

	schedule, err := r.scanSchedule(r.db.QueryRowContext(ctx, query, triggerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return schedule, nil
}

// DueSchedules returns active schedules whose next run time has passed.
func (r *ScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE active AND next_run_at <= $1 ORDER BY next_run_at`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	skipDatesJSON, err := json.Marshal(schedule.SkipDates)
	if err != nil {
		return fmt.Errorf("failed to marshal skip dates: %w", err)
	}

	query := `
		INSERT INTO schedules (id, trigger_id, workflow_id, cron_expression, timezone,
	skip_weekends, skip_dates, allow_overlap, next_run_at, last_run_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			skip_weekends = EXCLUDED.skip_weekends,
			skip_dates = EXCLUDED.skip_dates,
			allow_overlap = EXCLUDED.allow_overlap,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.TriggerID,
		schedule.WorkflowID,
		schedule.CronExpression,
		schedule.Timezone,
		schedule.SkipWeekends,
		skipDatesJSON,
		schedule.AllowOverlap,
		schedule.NextRunAt,
		schedule.LastRunAt,
		schedule.Active,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

func (r *ScheduleRepository) DeleteByTriggerID(ctx context.Context, triggerID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE trigger_id = $1", triggerID)
	if err != nil {
		return fmt.Errorf("failed to delete schedules: %w", err)
	}

	return nil
}

func (r *ScheduleRepository) RecordMissedRun(ctx context.Context, missed *models.MissedRun) error {
	if missed.ID == "" {
		missed.ID = uuid.New().String()
	}

	if missed.RecordedAt.IsZero() {
		missed.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO missed_runs (id, schedule_id, trigger_id, workflow_id, due_at, recorded_at, blocked_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		missed.ID,
		missed.ScheduleID,
		missed.TriggerID,
		missed.WorkflowID,
		missed.DueAt,
		missed.RecordedAt,
		missed.BlockedByID,
	)
	if err != nil {
		return fmt.Errorf("failed to record missed run: %w", err)
	}

	return nil
}

func (r *ScheduleRepository) MissedRuns(ctx context.Context, triggerID string) ([]*models.MissedRun, error) {
	query := `
		SELECT id, schedule_id, trigger_id, workflow_id, due_at, recorded_at, blocked_by_id
		FROM missed_runs
		WHERE trigger_id = $1
		ORDER BY due_at
	`

	rows, err := r.db.QueryContext(ctx, query, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query missed runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	missed := make([]*models.MissedRun, 0)

	for rows.Next() {
		var m models.MissedRun

		err := rows.Scan(&m.ID, &m.ScheduleID, &m.TriggerID, &m.WorkflowID, &m.DueAt, &m.RecordedAt, &m.BlockedByID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan missed run: %w", err)
		}

		missed = append(missed, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missed runs: %w", err)
	}

	return missed, nil
}

func (r *ScheduleRepository) scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*models.Schedule, error) {
	var (
		schedule      models.Schedule
		skipDatesJSON []byte
	)

	err := scanner.Scan(
		&schedule.ID,
		&schedule.TriggerID,
		&schedule.WorkflowID,
		&schedule.CronExpression,
		&schedule.Timezone,
		&schedule.SkipWeekends,
		&skipDatesJSON,
		&schedule.AllowOverlap,
		&schedule.NextRunAt,
		&schedule.LastRunAt,
		&schedule.Active,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(skipDatesJSON, &schedule.SkipDates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skip dates: %w", err)
	}

	return &schedule, nil
}
