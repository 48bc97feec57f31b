package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

const defaultScanInterval = 5 * time.Second

var ErrScannerRunning = errors.New("schedule scanner already running")

// Scanner polls due schedules and fires their triggers. It keeps no timers of
// its own: due work is recomputed from persisted NextRunAt on every tick, so
// a restarted scanner picks up exactly where the last one stopped.
type Scanner struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	evaluator   *Evaluator
	interval    time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewScanner(logger *slog.Logger, p persistence.Persistence, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = defaultScanInterval
	}

	return &Scanner{
		logger:      logger.With("module", "schedule_scanner"),
		persistence: p,
		evaluator:   NewEvaluator(logger, p),
		interval:    interval,
	}
}

// Start launches the scan loop. The scanner is restartable: Stop then Start
// resumes from persisted schedule state.
func (s *Scanner) Start(ctx context.Context, callback protocol.ExecutionRequestCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrScannerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastErr = nil

	go s.loop(runCtx, callback)

	s.logger.InfoContext(ctx, "Schedule scanner started", "interval", s.interval)

	return nil
}

// Stop halts the loop and waits for an in-flight scan to finish.
func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	s.logger.InfoContext(ctx, "Schedule scanner stopped")

	return nil
}

// Err reports why the loop halted, if it halted on its own.
func (s *Scanner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr
}

func (s *Scanner) loop(ctx context.Context, callback protocol.ExecutionRequestCallback) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.scan(ctx, callback); err != nil {
				// A store failure means due work cannot be determined;
				// continuing would silently drop ticks.
				s.logger.ErrorContext(ctx, "Scan failed, halting scanner", "error", err)

				s.mu.Lock()
				s.lastErr = err
				s.cancel = nil
				s.mu.Unlock()

				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) scan(ctx context.Context, callback protocol.ExecutionRequestCallback) error {
	now := time.Now().UTC()

	due, err := s.persistence.ScheduleRepository().DueSchedules(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to query due schedules: %w", err)
	}

	for _, schedule := range due {
		if err := s.fire(ctx, schedule, now, callback); err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire schedule",
				"schedule_id", schedule.ID,
				"trigger_id", schedule.TriggerID,
				"error", err,
			)
		}
	}

	return nil
}

func (s *Scanner) fire(ctx context.Context, schedule *models.Schedule, now time.Time, callback protocol.ExecutionRequestCallback) error {
	dueAt := schedule.NextRunAt

	if !schedule.AllowOverlap {
		runningID, err := s.persistence.ExecutionRepository().RunningForTrigger(ctx, schedule.TriggerID)
		if err != nil {
			return fmt.Errorf("failed to check running execution: %w", err)
		}

		if runningID != "" {
			return s.suppress(ctx, schedule, dueAt, runningID)
		}
	}

	request, err := s.evaluator.Evaluate(ctx, Stimulus{
		Kind:      StimulusScheduleDue,
		TriggerID: schedule.TriggerID,
		Payload:   map[string]any{"scheduled_for": dueAt.Format(time.RFC3339)},
		At:        now,
	})
	if err != nil {
		return err
	}

	// Deactivated or deleted trigger: advance past the tick without firing.
	if request != nil {
		executionID, err := callback(ctx, *request)
		if err != nil {
			return fmt.Errorf("failed to dispatch scheduled execution: %w", err)
		}

		s.logger.InfoContext(ctx, "Schedule fired",
			"trigger_id", schedule.TriggerID,
			"execution_id", executionID,
			"due_at", dueAt,
		)
	}

	if err := schedule.MarkFired(now); err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	return s.saveSchedule(ctx, schedule)
}

// suppress records a missed run for a due tick blocked by a still-running
// execution and advances the schedule past it.
func (s *Scanner) suppress(ctx context.Context, schedule *models.Schedule, dueAt time.Time, blockedBy string) error {
	missed := &models.MissedRun{
		ID:          uuid.New().String(),
		ScheduleID:  schedule.ID,
		TriggerID:   schedule.TriggerID,
		WorkflowID:  schedule.WorkflowID,
		DueAt:       dueAt,
		RecordedAt:  time.Now().UTC(),
		BlockedByID: blockedBy,
	}

	if err := s.persistence.ScheduleRepository().RecordMissedRun(ctx, missed); err != nil {
		return fmt.Errorf("failed to record missed run: %w", err)
	}

	s.logger.WarnContext(ctx, "Schedule tick suppressed, prior run still active",
		"trigger_id", schedule.TriggerID,
		"due_at", dueAt,
		"blocked_by", blockedBy,
	)

	if err := schedule.AdvanceNextRunAt(); err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	return s.saveSchedule(ctx, schedule)
}

func (s *Scanner) saveSchedule(ctx context.Context, schedule *models.Schedule) error {
	err := s.persistence.ScheduleRepository().Save(ctx, schedule)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}
