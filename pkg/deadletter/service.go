// Package deadletter implements manual handling of dead-lettered executions:
// retry from the frozen snapshot, skip, resolve, compensation and expiry.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

var (
	ErrEntryNotActionable = errors.New("dead letter entry is not actionable")
	ErrUnknownAction      = errors.New("unknown dead letter action")
)

// ProcessRequest is one manual operation on a dead-letter entry.
type ProcessRequest struct {
	Action models.DeadLetterAction

	// ModifiedInput replaces the frozen input for retry_modified.
	ModifiedInput map[string]any

	// Note is recorded as the resolution text for skip and resolve.
	Note string
}

// ProcessResult reports what the operation did.
type ProcessResult struct {
	Entry *models.DeadLetterEntry `json:"entry"`

	// RetryExecutionID is set when the action started a new execution.
	RetryExecutionID string `json:"retry_execution_id,omitempty"`
}

// Service owns the dead-letter lifecycle. Retries go back through the engine
// with the entry's frozen snapshot seeded as completed steps.
type Service struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	notifier    protocol.Notifier

	handlers map[models.CompensationType]CompensationHandler
}

func NewService(
	logger *slog.Logger,
	p persistence.Persistence,
	eng *engine.Engine,
	notifier protocol.Notifier,
) *Service {
	if notifier == nil {
		notifier = protocol.NopNotifier{}
	}

	return &Service{
		logger:      logger.With("module", "deadletter"),
		persistence: p,
		engine:      eng,
		notifier:    notifier,
		handlers:    make(map[models.CompensationType]CompensationHandler),
	}
}

// Process applies a manual action. Repeating skip or resolve on an entry that
// already carries that status is a no-op, not an error.
func (s *Service) Process(ctx context.Context, entryID string, req ProcessRequest) (*ProcessResult, error) {
	entry, err := s.persistence.DeadLetterRepository().GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter entry: %w", err)
	}

	switch req.Action {
	case models.DeadLetterActionRetry, models.DeadLetterActionRetryModified:
		return s.retry(ctx, entry, req)
	case models.DeadLetterActionSkip:
		return s.close(ctx, entry, models.DeadLetterStatusSkipped, req.Note)
	case models.DeadLetterActionResolve:
		return s.close(ctx, entry, models.DeadLetterStatusResolved, req.Note)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
}

// retry seeds a new execution from the entry's frozen snapshot and runs it.
// The graph resumes at the failed step; completed outputs are not recomputed.
func (s *Service) retry(ctx context.Context, entry *models.DeadLetterEntry, req ProcessRequest) (*ProcessResult, error) {
	if !entry.IsActionable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrEntryNotActionable, entry.ID, entry.Status)
	}

	input := entry.Input
	if req.Action == models.DeadLetterActionRetryModified && req.ModifiedInput != nil {
		input = req.ModifiedInput
	}

	seeds := make([]*models.StepExecution, 0, len(entry.StepOutputs))

	for stepID, output := range entry.StepOutputs {
		seed := &models.StepExecution{
			ID:     uuid.New().String(),
			StepID: stepID,
			Output: output,
		}
		seed.Finish(models.StepStatusCompleted, output)

		seeds = append(seeds, seed)
	}

	execution, err := s.engine.Prepare(ctx, entry.WorkflowID, input, engine.Options{
		OrganizationID: entry.OrganizationID,
		RetryOfID:      entry.ExecutionID,
		ResumeFromStep: entry.FailedStepID,
		SeedSteps:      seeds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare retry execution: %w", err)
	}

	entry.Status = models.DeadLetterStatusProcessing
	entry.ManualRetries++

	if err := s.saveEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Dead letter retry started",
		"entry_id", entry.ID,
		"execution_id", execution.ID,
		"retry_of", entry.ExecutionID,
		"resume_from", entry.FailedStepID,
		"manual_retries", entry.ManualRetries,
	)

	if err := s.engine.Run(ctx, execution.ID); err != nil {
		return nil, fmt.Errorf("failed to run retry execution: %w", err)
	}

	retried, err := s.persistence.ExecutionRepository().GetByID(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load retry execution: %w", err)
	}

	// A successful rerun closes the entry; a failed one dead-letters the new
	// execution separately and leaves this entry in processing.
	if retried.Status == models.ExecutionStatusCompleted {
		entry.Status = models.DeadLetterStatusResolved
		entry.Resolution = fmt.Sprintf("resolved by retry execution %s", execution.ID)

		if err := s.resolveOriginatingError(ctx, entry); err != nil {
			return nil, err
		}

		if err := s.saveEntry(ctx, entry); err != nil {
			return nil, err
		}
	}

	return &ProcessResult{Entry: entry, RetryExecutionID: execution.ID}, nil
}

func (s *Service) close(ctx context.Context, entry *models.DeadLetterEntry, status models.DeadLetterStatus, note string) (*ProcessResult, error) {
	if entry.Status == status {
		return &ProcessResult{Entry: entry}, nil
	}

	if !entry.IsActionable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrEntryNotActionable, entry.ID, entry.Status)
	}

	entry.Status = status
	entry.Resolution = note

	if err := s.resolveOriginatingError(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.saveEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Dead letter entry closed", "entry_id", entry.ID, "status", status)

	return &ProcessResult{Entry: entry}, nil
}

// resolveOriginatingError closes the execution error record the entry was cut
// from, so the error row does not stay dead_letter after manual handling.
func (s *Service) resolveOriginatingError(ctx context.Context, entry *models.DeadLetterEntry) error {
	repo := s.persistence.ResilienceRepository()

	execErr, err := repo.GetError(ctx, entry.ExecutionID, entry.FailedStepID)
	if err != nil {
		return fmt.Errorf("failed to load execution error: %w", err)
	}

	if execErr == nil || execErr.Status == models.ErrorStatusResolved {
		return nil
	}

	execErr.MarkResolved()

	if err := repo.SaveError(ctx, execErr); err != nil {
		return fmt.Errorf("failed to resolve execution error: %w", err)
	}

	return nil
}

// ExpireOlder sweeps actionable entries past their retention window.
func (s *Service) ExpireOlder(ctx context.Context, now time.Time) (int, error) {
	count, err := s.persistence.DeadLetterRepository().ExpireBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire dead letter entries: %w", err)
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "Expired dead letter entries", "count", count)
	}

	return count, nil
}

func (s *Service) saveEntry(ctx context.Context, entry *models.DeadLetterEntry) error {
	err := s.persistence.DeadLetterRepository().Save(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to save dead letter entry: %w", err)
	}

	return nil
}
