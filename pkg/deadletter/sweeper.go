package deadletter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultSweepInterval = time.Hour

// Sweeper periodically expires dead-letter entries past their retention.
type Sweeper struct {
	logger   *slog.Logger
	service  *Service
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(logger *slog.Logger, service *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		logger:   logger.With("module", "deadletter_sweeper"),
		service:  service,
		interval: interval,
	}
}

// Start runs the sweep loop until Stop or context cancellation. One sweep
// runs immediately on start.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.sweep(runCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(runCtx)
			case <-runCtx.Done():
				return
			}
		}
	}()

	s.logger.InfoContext(ctx, "Dead letter sweeper started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.service.ExpireOlder(ctx, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Dead letter sweep failed", "error", err)
	}
}
