package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerflow/conductor/pkg/queue"
)

const defaultPollInterval = time.Second

// Worker pulls pending executions off the Redis queue and runs them. Several
// workers may share one queue; ZPOPMIN hands each entry to exactly one of
// them.
type Worker struct {
	logger      *slog.Logger
	engine      *Engine
	queue       *queue.Queue
	concurrency int
	poll        time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(logger *slog.Logger, engine *Engine, q *queue.Queue, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		logger:      logger.With("module", "engine_worker"),
		engine:      engine,
		queue:       q,
		concurrency: concurrency,
		poll:        defaultPollInterval,
	}
}

// Start launches the consumer goroutines. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)

		go func() {
			defer w.wg.Done()
			w.consume(runCtx)
		}()
	}

	w.logger.InfoContext(ctx, "Engine workers started", "concurrency", w.concurrency)
}

// Stop cancels the consumers and waits for in-flight executions to settle.
func (w *Worker) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}

	w.wg.Wait()
	w.logger.InfoContext(ctx, "Engine workers stopped")
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		pending, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to dequeue execution", "error", err)
			w.sleep(ctx)

			continue
		}

		if pending == nil {
			w.sleep(ctx)

			continue
		}

		if err := w.engine.Run(ctx, pending.ExecutionID); err != nil {
			w.logger.ErrorContext(ctx, "Execution run failed",
				"execution_id", pending.ExecutionID,
				"error", err,
			)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
