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

// WorkflowRepository handles workflow-related database operations. Steps are
// normalized into workflow_steps and rewritten on every save.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// GetAll returns all non-deleted workflows.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , organization_id
		  , name
		  , description
		  , status
		  , retry_policy
		  , variables
		  , metadata
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadSteps(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow steps: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , organization_id
		  , name
		  , description
		  , status
		  , retry_policy
		  , variables
		  , metadata
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow steps: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow base row and rewrites its step rows.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	retryPolicyJSON, err := marshalNullable(workflow.RetryPolicy)
	if err != nil {
		return fmt.Errorf("failed to marshal retry policy: %w", err)
	}

	variablesJSON, err := json.Marshal(workflow.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	metadataJSON, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	workflowQuery := `
		INSERT INTO workflows (id, organization_id, name, description, status,
	retry_policy, variables, metadata, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			retry_policy = EXCLUDED.retry_policy,
			variables = EXCLUDED.variables,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.OrganizationID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		retryPolicyJSON,
		variablesJSON,
		metadataJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	if err = r.saveSteps(ctx, tx, workflow); err != nil {
		return fmt.Errorf("failed to save workflow steps: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewStoreError("Delete", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.Workflow) error {
	query := `
		SELECT id, uid, name, executor_type, configuration, depends_on,
	retry_policy, timeout_seconds, compensation, enabled
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var steps []*models.WorkflowStep

	for rows.Next() {
		var (
			step                                                      models.WorkflowStep
			configJSON, dependsJSON, retryPolicyJSON, compensationJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.UID,
			&step.Name,
			&step.ExecutorType,
			&configJSON,
			&dependsJSON,
			&retryPolicyJSON,
			&step.TimeoutSeconds,
			&compensationJSON,
			&step.Enabled,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		if err := unmarshalNullable(configJSON, &step.Configuration); err != nil {
			return fmt.Errorf("failed to unmarshal step configuration: %w", err)
		}

		if err := unmarshalNullable(dependsJSON, &step.DependsOn); err != nil {
			return fmt.Errorf("failed to unmarshal step dependencies: %w", err)
		}

		if retryPolicyJSON != nil {
			step.RetryPolicy = &models.RetryPolicy{}
			if err := json.Unmarshal(retryPolicyJSON, step.RetryPolicy); err != nil {
				return fmt.Errorf("failed to unmarshal step retry policy: %w", err)
			}
		}

		if compensationJSON != nil {
			step.Compensation = &models.Compensation{}
			if err := json.Unmarshal(compensationJSON, step.Compensation); err != nil {
				return fmt.Errorf("failed to unmarshal step compensation: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	workflow.Steps = steps

	return nil
}

func (r *WorkflowRepository) saveSteps(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	for position, step := range workflow.Steps {
		configJSON, err := json.Marshal(step.Configuration)
		if err != nil {
			return fmt.Errorf("failed to marshal step configuration: %w", err)
		}

		dependsJSON, err := json.Marshal(step.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to marshal step dependencies: %w", err)
		}

		retryPolicyJSON, err := marshalNullable(step.RetryPolicy)
		if err != nil {
			return fmt.Errorf("failed to marshal step retry policy: %w", err)
		}

		compensationJSON, err := marshalNullable(step.Compensation)
		if err != nil {
			return fmt.Errorf("failed to marshal step compensation: %w", err)
		}

		query := `
			INSERT INTO workflow_steps (workflow_id, id, uid, name, executor_type,
	configuration, depends_on, retry_policy, timeout_seconds, compensation, enabled, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`

		_, err = tx.ExecContext(ctx, query,
			workflow.ID,
			step.ID,
			step.UID,
			step.Name,
			step.ExecutorType,
			configJSON,
			dependsJSON,
			retryPolicyJSON,
			step.TimeoutSeconds,
			compensationJSON,
			step.Enabled,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to save step: %w", err)
		}
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflowBase(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow                                   models.Workflow
		retryPolicyJSON, variablesJSON, metadataJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.OrganizationID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&retryPolicyJSON,
		&variablesJSON,
		&metadataJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if retryPolicyJSON != nil {
		workflow.RetryPolicy = &models.RetryPolicy{}
		if err := json.Unmarshal(retryPolicyJSON, workflow.RetryPolicy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
		}
	}

	if err := unmarshalNullable(variablesJSON, &workflow.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if err := unmarshalNullable(metadataJSON, &workflow.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &workflow, nil
}

// marshalNullable marshals v, mapping nil pointers to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *models.RetryPolicy:
		if value == nil {
			return nil, nil
		}
	case *models.Compensation:
		if value == nil {
			return nil, nil
		}
	}

	return json.Marshal(v)
}

func unmarshalNullable(data []byte, v any) error {
	if data == nil {
		return nil
	}

	return json.Unmarshal(data, v)
}
