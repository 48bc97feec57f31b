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

// ExecutionRepository handles execution and step-execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id
  , organization_id
  , workflow_id
  , trigger_id
  , status
  , input
  , variables
  , priority
  , retry_of_id
  , resume_from_step
  , started_at
  , finished_at
  , created_at
  , updated_at
`

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := r.loadSteps(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to load step executions: %w", err)
	}

	return execution, nil
}

// Save upserts the execution base row and its step rows in one transaction.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	inputJSON, err := json.Marshal(execution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	variablesJSON, err := json.Marshal(execution.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO executions (id, organization_id, workflow_id, trigger_id, status,
	input, variables, priority, retry_of_id, resume_from_step, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			variables = EXCLUDED.variables,
			resume_from_step = EXCLUDED.resume_from_step,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		execution.ID,
		execution.OrganizationID,
		execution.WorkflowID,
		execution.TriggerID,
		execution.Status,
		inputJSON,
		variablesJSON,
		execution.Priority,
		execution.RetryOfID,
		execution.ResumeFromStep,
		execution.StartedAt,
		execution.FinishedAt,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	for _, step := range execution.Steps {
		if err = saveStepTx(ctx, tx, step); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SaveStep upserts one step execution row.
func (r *ExecutionRepository) SaveStep(ctx context.Context, step *models.StepExecution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = saveStepTx(ctx, tx, step); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func saveStepTx(ctx context.Context, tx *sql.Tx, step *models.StepExecution) error {
	inputJSON, err := json.Marshal(step.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	outputJSON, err := json.Marshal(step.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_executions (id, execution_id, step_id, status, input, output,
	retry_count, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id, step_id) DO UPDATE SET
			status = EXCLUDED.status,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			retry_count = EXCLUDED.retry_count,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms
	`

	_, err = tx.ExecContext(ctx, query,
		step.ID,
		step.ExecutionID,
		step.StepID,
		step.Status,
		inputJSON,
		outputJSON,
		step.RetryCount,
		step.StartedAt,
		step.FinishedAt,
		step.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to save step execution: %w", err)
	}

	return nil
}

// RunningForTrigger returns the id of a non-terminal execution for the
// trigger, or empty.
func (r *ExecutionRepository) RunningForTrigger(ctx context.Context, triggerID string) (string, error) {
	query := `
		SELECT id FROM executions
		WHERE trigger_id = $1 AND status IN ('pending', 'running', 'waiting')
		LIMIT 1
	`

	var id string

	err := r.db.QueryRowContext(ctx, query, triggerID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to query running execution: %w", err)
	}

	return id, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE workflow_id = $1 ORDER BY created_at DESC`
	args := []any{workflowID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	for _, execution := range executions {
		if err := r.loadSteps(ctx, execution); err != nil {
			return nil, fmt.Errorf("failed to load step executions: %w", err)
		}
	}

	return executions, nil
}

func (r *ExecutionRepository) loadSteps(ctx context.Context, execution *models.Execution) error {
	query := `
		SELECT id, execution_id, step_id, status, input, output, retry_count, started_at, finished_at, duration_ms
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY started_at NULLS LAST, id
	`

	rows, err := r.db.QueryContext(ctx, query, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to query step executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var steps []*models.StepExecution

	for rows.Next() {
		var (
			step                  models.StepExecution
			inputJSON, outputJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.ExecutionID,
			&step.StepID,
			&step.Status,
			&inputJSON,
			&outputJSON,
			&step.RetryCount,
			&step.StartedAt,
			&step.FinishedAt,
			&step.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step execution: %w", err)
		}

		if err := unmarshalNullable(inputJSON, &step.Input); err != nil {
			return fmt.Errorf("failed to unmarshal step input: %w", err)
		}

		if err := unmarshalNullable(outputJSON, &step.Output); err != nil {
			return fmt.Errorf("failed to unmarshal step output: %w", err)
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating step executions: %w", err)
	}

	execution.Steps = steps

	return nil
}

func (r *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.Execution, error) {
	var (
		execution                models.Execution
		inputJSON, variablesJSON []byte
		triggerID                sql.NullString
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.OrganizationID,
		&execution.WorkflowID,
		&triggerID,
		&execution.Status,
		&inputJSON,
		&variablesJSON,
		&execution.Priority,
		&execution.RetryOfID,
		&execution.ResumeFromStep,
		&execution.StartedAt,
		&execution.FinishedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerID = triggerID.String

	if err := unmarshalNullable(inputJSON, &execution.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	if err := unmarshalNullable(variablesJSON, &execution.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	return &execution, nil
}
