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
	"github.com/ledgerflow/conductor/pkg/persistence"
)

type WebhookLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const webhookLogColumns = `
	id
  , trigger_id
  , token
  , method
  , headers
  , query
  , body
  , source_ip
  , accepted
  , execution_id
  , error_note
  , received_at
`

func (r *WebhookLogRepository) GetByID(ctx context.Context, id string) (*models.WebhookRequestLog, error) {
	query := `SELECT ` + webhookLogColumns + ` FROM webhook_logs WHERE id = $1`

	log, err := r.scanLog(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "webhook_log", id, persistence.ErrWebhookLogNotFound)
		}

		return nil, fmt.Errorf("failed to scan webhook log: %w", err)
	}

	return log, nil
}

func (r *WebhookLogRepository) Save(ctx context.Context, log *models.WebhookRequestLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	if log.ReceivedAt.IsZero() {
		log.ReceivedAt = time.Now().UTC()
	}

	headersJSON, err := json.Marshal(log.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	queryJSON, err := json.Marshal(log.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	query := `
		INSERT INTO webhook_logs (id, trigger_id, token, method, headers, query, body,
	source_ip, accepted, execution_id, error_note, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.TriggerID,
		log.Token,
		log.Method,
		headersJSON,
		queryJSON,
		log.Body,
		log.SourceIP,
		log.Accepted,
		log.ExecutionID,
		log.ErrorNote,
		log.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save webhook log: %w", err)
	}

	return nil
}

func (r *WebhookLogRepository) ListByTrigger(ctx context.Context, triggerID string, limit int) ([]*models.WebhookRequestLog, error) {
	query := `SELECT ` + webhookLogColumns + ` FROM webhook_logs WHERE trigger_id = $1 ORDER BY received_at DESC`
	args := []any{triggerID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.WebhookRequestLog, 0)

	for rows.Next() {
		log, err := r.scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook log: %w", err)
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook logs: %w", err)
	}

	return logs, nil
}

func (r *WebhookLogRepository) scanLog(scanner interface {
	Scan(dest ...any) error
}) (*models.WebhookRequestLog, error) {
	var (
		log                    models.WebhookRequestLog
		headersJSON, queryJSON []byte
	)

	err := scanner.Scan(
		&log.ID,
		&log.TriggerID,
		&log.Token,
		&log.Method,
		&headersJSON,
		&queryJSON,
		&log.Body,
		&log.SourceIP,
		&log.Accepted,
		&log.ExecutionID,
		&log.ErrorNote,
		&log.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(headersJSON, &log.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}

	if err := unmarshalNullable(queryJSON, &log.Query); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query: %w", err)
	}

	return &log, nil
}
