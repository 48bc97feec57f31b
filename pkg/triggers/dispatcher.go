package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/protocol"
	"github.com/ledgerflow/conductor/pkg/queue"
)

// Dispatcher turns execution requests into executions. With a queue attached
// the execution is enqueued for the engine workers; without one it runs in
// the background in-process.
type Dispatcher struct {
	logger *slog.Logger
	engine *engine.Engine
	queue  *queue.Queue
}

func NewDispatcher(logger *slog.Logger, eng *engine.Engine, q *queue.Queue) *Dispatcher {
	return &Dispatcher{
		logger: logger.With("module", "trigger_dispatcher"),
		engine: eng,
		queue:  q,
	}
}

// Dispatch creates the execution and hands it off. Returns the execution id
// as soon as it is durable; the run happens asynchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, request protocol.ExecutionRequest) (string, error) {
	execution, err := d.engine.Prepare(ctx, request.WorkflowID, request.Input, engine.Options{
		TriggerID:   request.TriggerID,
		TriggerType: request.TriggerType,
		Priority:    request.Priority,
	})
	if err != nil {
		return "", fmt.Errorf("failed to prepare execution: %w", err)
	}

	if d.queue != nil {
		err = d.queue.Enqueue(ctx, &queue.PendingExecution{
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			TriggerID:   execution.TriggerID,
			Priority:    execution.Priority,
			EnqueuedAt:  time.Now().UTC(),
		})
		if err != nil {
			return "", fmt.Errorf("failed to enqueue execution: %w", err)
		}

		return execution.ID, nil
	}

	runCtx := context.WithoutCancel(ctx)

	go func() {
		if err := d.engine.Run(runCtx, execution.ID); err != nil {
			d.logger.ErrorContext(runCtx, "Dispatched execution failed to run",
				"execution_id", execution.ID,
				"error", err,
			)
		}
	}()

	return execution.ID, nil
}

// Callback adapts the dispatcher to the trigger-provider callback contract.
func (d *Dispatcher) Callback() protocol.ExecutionRequestCallback {
	return func(ctx context.Context, request protocol.ExecutionRequest) (string, error) {
		return d.Dispatch(ctx, request)
	}
}
