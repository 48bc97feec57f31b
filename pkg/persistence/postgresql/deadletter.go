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

type DeadLetterRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const deadLetterColumns = `
	id
  , organization_id
  , execution_id
  , execution_error_id
  , workflow_id
  , failed_step_id
  , error_kind
  , error_message
  , input
  , step_outputs
  , status
  , resolution
  , manual_retries
  , expires_at
  , created_at
  , updated_at
`

func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`

	entry, err := r.scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "dead_letter", id, persistence.ErrDeadLetterNotFound)
		}

		return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
	}

	return entry, nil
}

func (r *DeadLetterRepository) Save(ctx context.Context, entry *models.DeadLetterEntry) error {
	now := time.Now().UTC()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.CreatedAt.Add(models.DefaultDeadLetterRetention)
	}

	entry.UpdatedAt = now

	inputJSON, err := json.Marshal(entry.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	stepOutputsJSON, err := json.Marshal(entry.StepOutputs)
	if err != nil {
		return fmt.Errorf("failed to marshal step outputs: %w", err)
	}

	query := `
		INSERT INTO dead_letters (id, organization_id, execution_id, execution_error_id,
	workflow_id, failed_step_id, error_kind, error_message, input, step_outputs, status,
	resolution, manual_retries, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			resolution = EXCLUDED.resolution,
			manual_retries = EXCLUDED.manual_retries,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.OrganizationID,
		entry.ExecutionID,
		entry.ExecutionErrorID,
		entry.WorkflowID,
		entry.FailedStepID,
		entry.ErrorKind,
		entry.ErrorMessage,
		inputJSON,
		stepOutputsJSON,
		entry.Status,
		entry.Resolution,
		entry.ManualRetries,
		entry.ExpiresAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter entry: %w", err)
	}

	return nil
}

func (r *DeadLetterRepository) ListActive(ctx context.Context, workflowID string) ([]*models.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE status IN ('pending', 'processing')`
	args := []any{}

	if workflowID != "" {
		query += ` AND workflow_id = $1`
		args = append(args, workflowID)
	}

	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter entries: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.DeadLetterEntry, 0)

	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter entries: %w", err)
	}

	return entries, nil
}

// ExpireBefore transitions active entries past their retention to expired.
func (r *DeadLetterRepository) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE dead_letters
		SET status = 'expired', updated_at = NOW()
		WHERE status IN ('pending', 'processing') AND expires_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire dead letter entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

func (r *DeadLetterRepository) scanEntry(scanner interface {
	Scan(dest ...any) error
}) (*models.DeadLetterEntry, error) {
	var (
		entry                      models.DeadLetterEntry
		inputJSON, stepOutputsJSON []byte
	)

	err := scanner.Scan(
		&entry.ID,
		&entry.OrganizationID,
		&entry.ExecutionID,
		&entry.ExecutionErrorID,
		&entry.WorkflowID,
		&entry.FailedStepID,
		&entry.ErrorKind,
		&entry.ErrorMessage,
		&inputJSON,
		&stepOutputsJSON,
		&entry.Status,
		&entry.Resolution,
		&entry.ManualRetries,
		&entry.ExpiresAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(inputJSON, &entry.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	if err := unmarshalNullable(stepOutputsJSON, &entry.StepOutputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step outputs: %w", err)
	}

	return &entry, nil
}
