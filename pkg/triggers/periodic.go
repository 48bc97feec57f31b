package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

const (
	defaultPeriodicInterval = time.Minute
	dailyPeriodLayout       = "2006-01-02"
)

// SampleSource produces the current monitored values for a threshold or
// deadline trigger, for example a metrics query or a ledger balance lookup.
type SampleSource interface {
	Sample(ctx context.Context, trigger *models.Trigger) (map[string]any, error)
}

// SampleSourceFunc adapts a function to SampleSource.
type SampleSourceFunc func(ctx context.Context, trigger *models.Trigger) (map[string]any, error)

func (f SampleSourceFunc) Sample(ctx context.Context, trigger *models.Trigger) (map[string]any, error) {
	return f(ctx, trigger)
}

// WorkflowVariablesSource samples the variables of the trigger's workflow.
// It is the default source: external processes keep the monitored values
// current by updating the workflow, and the evaluator reads them here.
func WorkflowVariablesSource(p persistence.Persistence) SampleSourceFunc {
	return func(ctx context.Context, trigger *models.Trigger) (map[string]any, error) {
		workflow, err := p.WorkflowRepository().GetByID(ctx, trigger.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow for sampling: %w", err)
		}

		return workflow.Variables, nil
	}
}

// PeriodicEvaluator polls threshold and deadline triggers against a sample
// source. A trigger whose condition holds fires at most once per daily period;
// the fired marker is persisted, so restarts do not re-fire.
type PeriodicEvaluator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	source      SampleSource
	interval    time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPeriodicEvaluator(logger *slog.Logger, p persistence.Persistence, source SampleSource, interval time.Duration) *PeriodicEvaluator {
	if interval <= 0 {
		interval = defaultPeriodicInterval
	}

	return &PeriodicEvaluator{
		logger:      logger.With("module", "periodic_evaluator"),
		persistence: p,
		source:      source,
		interval:    interval,
	}
}

func (p *PeriodicEvaluator) Start(ctx context.Context, callback protocol.ExecutionRequestCallback) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)

	go p.loop(runCtx, callback)

	p.logger.InfoContext(ctx, "Periodic evaluator started", "interval", p.interval)

	return nil
}

func (p *PeriodicEvaluator) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	p.logger.InfoContext(ctx, "Periodic evaluator stopped")

	return nil
}

func (p *PeriodicEvaluator) loop(ctx context.Context, callback protocol.ExecutionRequestCallback) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep(ctx, callback)
		case <-ctx.Done():
			return
		}
	}
}

// sweep evaluates every active threshold and deadline trigger once. Failures
// are per-trigger: one bad sample source never blocks the others.
func (p *PeriodicEvaluator) sweep(ctx context.Context, callback protocol.ExecutionRequestCallback) {
	now := time.Now().UTC()

	for _, triggerType := range []models.TriggerType{models.TriggerTypeThreshold, models.TriggerTypeDeadline} {
		triggers, err := p.persistence.TriggerRepository().ListActiveByType(ctx, triggerType)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to list periodic triggers", "trigger_type", triggerType, "error", err)

			continue
		}

		for _, trigger := range triggers {
			if err := p.evaluate(ctx, trigger, now, callback); err != nil {
				p.logger.ErrorContext(ctx, "Periodic evaluation failed",
					"trigger_id", trigger.ID,
					"trigger_type", trigger.Type,
					"error", err,
				)
			}
		}
	}
}

func (p *PeriodicEvaluator) evaluate(ctx context.Context, trigger *models.Trigger, now time.Time, callback protocol.ExecutionRequestCallback) error {
	sample, err := p.source.Sample(ctx, trigger)
	if err != nil {
		return fmt.Errorf("failed to sample monitored values: %w", err)
	}

	satisfied, detail, err := conditionHolds(trigger, sample, now)
	if err != nil {
		return err
	}

	if !satisfied {
		return nil
	}

	period := now.Format(dailyPeriodLayout)

	fired, err := p.persistence.TriggerRepository().MarkPeriodFired(ctx, trigger.ID, period)
	if err != nil {
		return fmt.Errorf("failed to mark period fired: %w", err)
	}

	// Marker already present: the condition held earlier today and fired.
	if !fired {
		return nil
	}

	input := map[string]any{
		"sample":       sample,
		"evaluated_at": now.Format(time.RFC3339),
	}
	for key, value := range detail {
		input[key] = value
	}

	request := newRequest(trigger, input, now)

	executionID, err := callback(ctx, *request)
	if err != nil {
		return fmt.Errorf("failed to dispatch periodic execution: %w", err)
	}

	p.logger.InfoContext(ctx, "Periodic trigger fired",
		"trigger_id", trigger.ID,
		"trigger_type", trigger.Type,
		"period", period,
		"execution_id", executionID,
	)

	return nil
}

// conditionHolds evaluates the trigger's condition against the sample and
// returns extra request-input fields describing why it fired.
func conditionHolds(trigger *models.Trigger, sample map[string]any, now time.Time) (bool, map[string]any, error) {
	switch trigger.Type {
	case models.TriggerTypeThreshold:
		return thresholdHolds(trigger.Threshold, sample)
	case models.TriggerTypeDeadline:
		return deadlineHolds(trigger.Deadline, sample, now)
	default:
		return false, nil, fmt.Errorf("trigger %s is not periodically evaluated", trigger.Type)
	}
}

func thresholdHolds(cfg *models.ThresholdConfig, sample map[string]any) (bool, map[string]any, error) {
	raw, ok := sample[cfg.Field]
	if !ok {
		return false, nil, fmt.Errorf("sample is missing monitored field %q", cfg.Field)
	}

	value, ok := asFloat(raw)
	if !ok {
		return false, nil, fmt.Errorf("monitored field %q is not numeric: %v", cfg.Field, raw)
	}

	var holds bool

	switch cfg.Operator {
	case models.ThresholdGreaterThan:
		holds = value > cfg.Value
	case models.ThresholdGreaterOrEqual:
		holds = value >= cfg.Value
	case models.ThresholdLessThan:
		holds = value < cfg.Value
	case models.ThresholdLessOrEqual:
		holds = value <= cfg.Value
	case models.ThresholdEqual:
		holds = value == cfg.Value
	default:
		return false, nil, fmt.Errorf("unknown threshold operator %q", cfg.Operator)
	}

	if !holds {
		return false, nil, nil
	}

	return true, map[string]any{
		"field":     cfg.Field,
		"value":     value,
		"operator":  string(cfg.Operator),
		"threshold": cfg.Value,
	}, nil
}

// deadlineHolds fires when today plus one of the configured offsets lands on
// the target date, so a trigger with offsets [7, 1, 0] fires a week before,
// the day before and on the day itself.
func deadlineHolds(cfg *models.DeadlineConfig, sample map[string]any, now time.Time) (bool, map[string]any, error) {
	raw, ok := sample[cfg.DateField]
	if !ok {
		return false, nil, fmt.Errorf("sample is missing date field %q", cfg.DateField)
	}

	text, ok := raw.(string)
	if !ok {
		return false, nil, fmt.Errorf("date field %q is not a string: %v", cfg.DateField, raw)
	}

	target, err := time.Parse(dailyPeriodLayout, text)
	if err != nil {
		return false, nil, fmt.Errorf("date field %q is not a %s date: %w", cfg.DateField, dailyPeriodLayout, err)
	}

	today := now.Truncate(24 * time.Hour)

	for _, offset := range cfg.OffsetDays {
		if today.AddDate(0, 0, offset).Equal(target) {
			return true, map[string]any{
				"date_field":     cfg.DateField,
				"target_date":    text,
				"days_remaining": offset,
			}, nil
		}
	}

	return false, nil, nil
}
