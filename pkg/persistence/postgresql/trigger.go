package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

// triggerConfig is the JSONB column payload carrying the variant configs.
type triggerConfig struct {
	Schedule  *models.ScheduleConfig  `json:"schedule,omitempty"`
	Webhook   *models.WebhookConfig   `json:"webhook,omitempty"`
	Event     *models.EventConfig     `json:"event,omitempty"`
	Threshold *models.ThresholdConfig `json:"threshold,omitempty"`
	Deadline  *models.DeadlineConfig  `json:"deadline,omitempty"`
}

// TriggerRepository handles trigger-related database operations. The webhook
// token is extracted into its own unique column for the gateway lookup.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const triggerColumns = `
	id
  , organization_id
  , workflow_id
  , name
  , type
  , active
  , config
  , created_at
  , updated_at
`

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE id = $1`

	trigger, err := r.scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "trigger", id, persistence.ErrTriggerNotFound)
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

func (r *TriggerRepository) GetByWebhookToken(ctx context.Context, token string) (*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE webhook_token = $1`

	trigger, err := r.scanTrigger(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByWebhookToken", "trigger", token, persistence.ErrTriggerNotFound)
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE workflow_id = $1 ORDER BY created_at`

	return r.queryTriggers(ctx, query, workflowID)
}

func (r *TriggerRepository) ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE type = $1 AND active ORDER BY created_at`

	return r.queryTriggers(ctx, query, triggerType)
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	now := time.Now().UTC()

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	trigger.UpdatedAt = now

	configJSON, err := json.Marshal(triggerConfig{
		Schedule:  trigger.Schedule,
		Webhook:   trigger.Webhook,
		Event:     trigger.Event,
		Threshold: trigger.Threshold,
		Deadline:  trigger.Deadline,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	var webhookToken *string
	if trigger.Webhook != nil && trigger.Webhook.Token != "" {
		webhookToken = &trigger.Webhook.Token
	}

	query := `
		INSERT INTO triggers (id, organization_id, workflow_id, name, type, active,
	webhook_token, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			workflow_id = EXCLUDED.workflow_id,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			active = EXCLUDED.active,
			webhook_token = EXCLUDED.webhook_token,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.OrganizationID,
		trigger.WorkflowID,
		trigger.Name,
		trigger.Type,
		trigger.Active,
		webhookToken,
		configJSON,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

// Delete removes the trigger and cascades its schedule rows.
func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM schedules WHERE trigger_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger schedules: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkPeriodFired inserts the (trigger, period) marker; a conflicting insert
// means the period already fired.
func (r *TriggerRepository) MarkPeriodFired(ctx context.Context, triggerID, period string) (bool, error) {
	query := `
		INSERT INTO fire_markers (trigger_id, period, fired_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (trigger_id, period) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, triggerID, period)
	if err != nil {
		return false, fmt.Errorf("failed to mark period fired: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, query string, args ...any) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := r.scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

func (r *TriggerRepository) scanTrigger(scanner interface {
	Scan(dest ...any) error
}) (*models.Trigger, error) {
	var (
		trigger    models.Trigger
		configJSON []byte
	)

	err := scanner.Scan(
		&trigger.ID,
		&trigger.OrganizationID,
		&trigger.WorkflowID,
		&trigger.Name,
		&trigger.Type,
		&trigger.Active,
		&configJSON,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if configJSON != nil {
		var config triggerConfig
		if err := json.Unmarshal(configJSON, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}

		trigger.Schedule = config.Schedule
		trigger.Webhook = config.Webhook
		trigger.Event = config.Event
		trigger.Threshold = config.Threshold
		trigger.Deadline = config.Deadline
	}

	return &trigger, nil
}
