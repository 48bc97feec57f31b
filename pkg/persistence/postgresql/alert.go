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

type AlertRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const alertRuleColumns = `
	id
  , organization_id
  , name
  , condition
  , workflow_id
  , severity
  , enabled
  , consecutive_count
  , duration_limit_ms
  , error_rate_limit
  , rate_window_ms
  , min_samples
  , cooldown_ms
  , channels
  , created_at
  , updated_at
`

func (r *AlertRepository) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE id = $1`

	rule, err := r.scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetRule", "alert_rule", id, persistence.ErrAlertRuleNotFound)
		}

		return nil, fmt.Errorf("failed to scan alert rule: %w", err)
	}

	return rule, nil
}

func (r *AlertRepository) Rules(ctx context.Context) ([]*models.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	rules := make([]*models.AlertRule, 0)

	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rules: %w", err)
	}

	return rules, nil
}

func (r *AlertRepository) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	now := time.Now().UTC()

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, organization_id, name, condition, workflow_id, severity,
	enabled, consecutive_count, duration_limit_ms, error_rate_limit, rate_window_ms, min_samples,
	cooldown_ms, channels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			condition = EXCLUDED.condition,
			workflow_id = EXCLUDED.workflow_id,
			severity = EXCLUDED.severity,
			enabled = EXCLUDED.enabled,
			consecutive_count = EXCLUDED.consecutive_count,
			duration_limit_ms = EXCLUDED.duration_limit_ms,
			error_rate_limit = EXCLUDED.error_rate_limit,
			rate_window_ms = EXCLUDED.rate_window_ms,
			min_samples = EXCLUDED.min_samples,
			cooldown_ms = EXCLUDED.cooldown_ms,
			channels = EXCLUDED.channels,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.OrganizationID,
		rule.Name,
		rule.Condition,
		rule.WorkflowID,
		rule.Severity,
		rule.Enabled,
		rule.ConsecutiveCount,
		rule.DurationLimit.Milliseconds(),
		rule.ErrorRateLimit,
		rule.RateWindow.Milliseconds(),
		rule.MinSamples,
		rule.Cooldown.Milliseconds(),
		channelsJSON,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert rule: %w", err)
	}

	return nil
}

func (r *AlertRepository) DeleteRule(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}

	return nil
}

const alertEventColumns = `
	id
  , rule_id
  , organization_id
  , workflow_id
  , execution_id
  , condition
  , severity
  , message
  , context
  , status
  , acknowledged_by
  , fired_at
  , resolved_at
`

func (r *AlertRepository) GetEvent(ctx context.Context, id string) (*models.AlertEvent, error) {
	query := `SELECT ` + alertEventColumns + ` FROM alert_events WHERE id = $1`

	event, err := r.scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetEvent", "alert_event", id, persistence.ErrAlertEventNotFound)
		}

		return nil, fmt.Errorf("failed to scan alert event: %w", err)
	}

	return event, nil
}

func (r *AlertRepository) SaveEvent(ctx context.Context, event *models.AlertEvent) error {
	contextJSON, err := json.Marshal(event.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	query := `
		INSERT INTO alert_events (id, rule_id, organization_id, workflow_id, execution_id,
	condition, severity, message, context, status, acknowledged_by, fired_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			acknowledged_by = EXCLUDED.acknowledged_by,
			resolved_at = EXCLUDED.resolved_at
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.RuleID,
		event.OrganizationID,
		event.WorkflowID,
		event.ExecutionID,
		event.Condition,
		event.Severity,
		event.Message,
		contextJSON,
		event.Status,
		event.AcknowledgedBy,
		event.FiredAt,
		event.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert event: %w", err)
	}

	return nil
}

func (r *AlertRepository) ListEvents(ctx context.Context, status models.AlertEventStatus, limit int) ([]*models.AlertEvent, error) {
	query := `SELECT ` + alertEventColumns + ` FROM alert_events`
	args := []any{}

	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}

	query += ` ORDER BY fired_at DESC`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.AlertEvent, 0)

	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert events: %w", err)
	}

	return events, nil
}

func (r *AlertRepository) scanRule(scanner interface {
	Scan(dest ...any) error
}) (*models.AlertRule, error) {
	var (
		rule                                     models.AlertRule
		durationMs, rateWindowMs, cooldownMs     int64
		channelsJSON                             []byte
	)

	err := scanner.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&rule.Condition,
		&rule.WorkflowID,
		&rule.Severity,
		&rule.Enabled,
		&rule.ConsecutiveCount,
		&durationMs,
		&rule.ErrorRateLimit,
		&rateWindowMs,
		&rule.MinSamples,
		&cooldownMs,
		&channelsJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.DurationLimit = time.Duration(durationMs) * time.Millisecond
	rule.RateWindow = time.Duration(rateWindowMs) * time.Millisecond
	rule.Cooldown = time.Duration(cooldownMs) * time.Millisecond

	if err := unmarshalNullable(channelsJSON, &rule.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}

	return &rule, nil
}

func (r *AlertRepository) scanEvent(scanner interface {
	Scan(dest ...any) error
}) (*models.AlertEvent, error) {
	var (
		event       models.AlertEvent
		contextJSON []byte
	)

	err := scanner.Scan(
		&event.ID,
		&event.RuleID,
		&event.OrganizationID,
		&event.WorkflowID,
		&event.ExecutionID,
		&event.Condition,
		&event.Severity,
		&event.Message,
		&contextJSON,
		&event.Status,
		&event.AcknowledgedBy,
		&event.FiredAt,
		&event.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(contextJSON, &event.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	return &event, nil
}
