package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

// ResilienceRepository handles execution error and circuit breaker rows. Both
// use optimistic version checks in the WHERE clause, so concurrent writers
// resolve at the database without advisory locks.
type ResilienceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ResilienceRepository) GetError(ctx context.Context, executionID, stepID string) (*models.ExecutionError, error) {
	query := `
		SELECT id, execution_id, workflow_id, step_id, kind, message, retry_count,
	max_retries, next_retry_at, status, version, created_at, updated_at
		FROM execution_errors
		WHERE execution_id = $1 AND step_id = $2
	`

	var execErr models.ExecutionError

	err := r.db.QueryRowContext(ctx, query, executionID, stepID).Scan(
		&execErr.ID,
		&execErr.ExecutionID,
		&execErr.WorkflowID,
		&execErr.StepID,
		&execErr.Kind,
		&execErr.Message,
		&execErr.RetryCount,
		&execErr.MaxRetries,
		&execErr.NextRetryAt,
		&execErr.Status,
		&execErr.Version,
		&execErr.CreatedAt,
		&execErr.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan execution error: %w", err)
	}

	return &execErr, nil
}

func (r *ResilienceRepository) SaveError(ctx context.Context, execErr *models.ExecutionError) error {
	now := time.Now().UTC()

	if execErr.ID == "" {
		execErr.ID = uuid.New().String()
	}

	if execErr.CreatedAt.IsZero() {
		execErr.CreatedAt = now
	}

	execErr.UpdatedAt = now

	if execErr.Version == 0 {
		query := `
			INSERT INTO execution_errors (id, execution_id, workflow_id, step_id, kind,
	message, retry_count, max_retries, next_retry_at, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
			ON CONFLICT (execution_id, step_id) DO NOTHING
		`

		result, err := r.db.ExecContext(ctx, query,
			execErr.ID,
			execErr.ExecutionID,
			execErr.WorkflowID,
			execErr.StepID,
			execErr.Kind,
			execErr.Message,
			execErr.RetryCount,
			execErr.MaxRetries,
			execErr.NextRetryAt,
			execErr.Status,
			execErr.CreatedAt,
			execErr.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert execution error: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return persistence.NewStoreError("SaveError", "execution_error", execErr.ID, persistence.ErrVersionConflict)
		}

		execErr.Version = 1

		return nil
	}

	query := `
		UPDATE execution_errors SET
			kind = $1,
			message = $2,
			retry_count = $3,
			max_retries = $4,
			next_retry_at = $5,
			status = $6,
			version = version + 1,
			updated_at = $7
		WHERE execution_id = $8 AND step_id = $9 AND version = $10
	`

	result, err := r.db.ExecContext(ctx, query,
		execErr.Kind,
		execErr.Message,
		execErr.RetryCount,
		execErr.MaxRetries,
		execErr.NextRetryAt,
		execErr.Status,
		execErr.UpdatedAt,
		execErr.ExecutionID,
		execErr.StepID,
		execErr.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewStoreError("SaveError", "execution_error", execErr.ID, persistence.ErrVersionConflict)
	}

	execErr.Version++

	return nil
}

func (r *ResilienceRepository) GetBreaker(ctx context.Context, workflowID, stepID string) (*models.CircuitBreakerState, error) {
	breaker, err := r.queryBreaker(ctx, workflowID, stepID)
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return breaker, err
	}

	// Create a closed row; a racing creator wins harmlessly.
	created := models.NewCircuitBreakerState(workflowID, stepID)

	insertQuery := `
		INSERT INTO circuit_breakers (workflow_id, step_id, state, failure_count, success_count,
	failure_threshold, reset_timeout_ms, version, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, 0, $6)
		ON CONFLICT (workflow_id, step_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, insertQuery,
		created.WorkflowID,
		created.StepID,
		created.State,
		created.FailureThreshold,
		created.ResetTimeout.Milliseconds(),
		created.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
	}

	breaker, err = r.queryBreaker(ctx, workflowID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload circuit breaker: %w", err)
	}

	return breaker, nil
}

func (r *ResilienceRepository) SaveBreaker(ctx context.Context, breaker *models.CircuitBreakerState) error {
	query := `
		UPDATE circuit_breakers SET
			state = $1,
			failure_count = $2,
			success_count = $3,
			failure_threshold = $4,
			reset_timeout_ms = $5,
			opened_at = $6,
			half_opened_at = $7,
			version = version + 1,
			updated_at = $8
		WHERE workflow_id = $9 AND step_id = $10 AND version = $11
	`

	result, err := r.db.ExecContext(ctx, query,
		breaker.State,
		breaker.FailureCount,
		breaker.SuccessCount,
		breaker.FailureThreshold,
		breaker.ResetTimeout.Milliseconds(),
		breaker.OpenedAt,
		breaker.HalfOpenedAt,
		breaker.UpdatedAt,
		breaker.WorkflowID,
		breaker.StepID,
		breaker.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update circuit breaker: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewStoreError("SaveBreaker", "breaker", breaker.WorkflowID+"-"+breaker.StepID, persistence.ErrVersionConflict)
	}

	breaker.Version++

	return nil
}

func (r *ResilienceRepository) queryBreaker(ctx context.Context, workflowID, stepID string) (*models.CircuitBreakerState, error) {
	query := `
		SELECT workflow_id, step_id, state, failure_count, success_count,
	failure_threshold, reset_timeout_ms, opened_at, half_opened_at, version, updated_at
		FROM circuit_breakers
		WHERE workflow_id = $1 AND step_id = $2
	`

	var (
		breaker        models.CircuitBreakerState
		resetTimeoutMs int64
	)

	err := r.db.QueryRowContext(ctx, query, workflowID, stepID).Scan(
		&breaker.WorkflowID,
		&breaker.StepID,
		&breaker.State,
		&breaker.FailureCount,
		&breaker.SuccessCount,
		&breaker.FailureThreshold,
		&resetTimeoutMs,
		&breaker.OpenedAt,
		&breaker.HalfOpenedAt,
		&breaker.Version,
		&breaker.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	breaker.ResetTimeout = time.Duration(resetTimeoutMs) * time.Millisecond

	return &breaker, nil
}
