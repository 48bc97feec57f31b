// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo   *WorkflowRepository
	triggerRepo    *TriggerRepository
	scheduleRepo   *ScheduleRepository
	executionRepo  *ExecutionRepository
	resilienceRepo *ResilienceRepository
	deadLetterRepo *DeadLetterRepository
	alertRepo      *AlertRepository
	webhookLogRepo *WebhookLogRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger,
	}
	p.workflowRepo = &WorkflowRepository{db: database, logger: logger}
	p.triggerRepo = &TriggerRepository{db: database, logger: logger}
	p.scheduleRepo = &ScheduleRepository{db: database, logger: logger}
	p.executionRepo = &ExecutionRepository{db: database, logger: logger}
	p.resilienceRepo = &ResilienceRepository{db: database, logger: logger}
	p.deadLetterRepo = &DeadLetterRepository{db: database, logger: logger}
	p.alertRepo = &AlertRepository{db: database, logger: logger}
	p.webhookLogRepo = &WebhookLogRepository{db: database, logger: logger}

	return p, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository     { return p.workflowRepo }
func (p *Persistence) TriggerRepository() persistence.TriggerRepository       { return p.triggerRepo }
func (p *Persistence) ScheduleRepository() persistence.ScheduleRepository     { return p.scheduleRepo }
func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository   { return p.executionRepo }
func (p *Persistence) ResilienceRepository() persistence.ResilienceRepository { return p.resilienceRepo }
func (p *Persistence) DeadLetterRepository() persistence.DeadLetterRepository { return p.deadLetterRepo }
func (p *Persistence) AlertRepository() persistence.AlertRepository           { return p.alertRepo }
func (p *Persistence) WebhookLogRepository() persistence.WebhookLogRepository {
	return p.webhookLogRepo
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// closeRows is the shared rows cleanup used by all repositories.
func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
