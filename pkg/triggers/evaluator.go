// Package triggers evaluates stimuli against persisted triggers and turns
// matches into execution requests: manual dispatch, schedule scanning, the
// webhook gateway, domain-event subscription and periodic threshold/deadline
// evaluation.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

var ErrTriggerInactive = errors.New("trigger is not active")

// StimulusKind discriminates what arrived.
type StimulusKind string

const (
	StimulusManual      StimulusKind = "manual"
	StimulusScheduleDue StimulusKind = "schedule_due"
	StimulusWebhook     StimulusKind = "webhook"
	StimulusEvent       StimulusKind = "event"
)

// Stimulus is one external occurrence offered to the evaluator.
type Stimulus struct {
	Kind      StimulusKind
	TriggerID string         // Set for manual, schedule and webhook stimuli
	Payload   map[string]any // Webhook body or manual input
	Event     *DomainEventStimulus
	At        time.Time
}

// DomainEventStimulus carries a published business event.
type DomainEventStimulus struct {
	EventType string
	Payload   map[string]any
}

// Evaluator matches stimuli against trigger definitions. Evaluation is pure
// lookup and matching; it produces a request, never an execution.
type Evaluator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
}

func NewEvaluator(logger *slog.Logger, p persistence.Persistence) *Evaluator {
	return &Evaluator{
		logger:      logger.With("module", "trigger_evaluator"),
		persistence: p,
	}
}

// Evaluate dispatches on the stimulus kind. A stimulus that matches no active
// trigger produces a nil request and no error; errors report store failures
// or malformed addressing (unknown trigger id).
func (e *Evaluator) Evaluate(ctx context.Context, stimulus Stimulus) (*protocol.ExecutionRequest, error) {
	at := stimulus.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch stimulus.Kind {
	case StimulusManual:
		return e.evaluateDirect(ctx, stimulus.TriggerID, models.TriggerTypeManual, stimulus.Payload, at)
	case StimulusScheduleDue:
		return e.evaluateDirect(ctx, stimulus.TriggerID, models.TriggerTypeSchedule, stimulus.Payload, at)
	case StimulusWebhook:
		return e.evaluateDirect(ctx, stimulus.TriggerID, models.TriggerTypeWebhook, stimulus.Payload, at)
	case StimulusEvent:
		return e.evaluateEvent(ctx, stimulus.Event, at)
	default:
		e.logger.WarnContext(ctx, "Unknown stimulus kind ignored", "kind", stimulus.Kind)

		return nil, nil
	}
}

// evaluateDirect handles stimuli addressed to one trigger by id.
func (e *Evaluator) evaluateDirect(
	ctx context.Context,
	triggerID string,
	expectedType models.TriggerType,
	payload map[string]any,
	at time.Time,
) (*protocol.ExecutionRequest, error) {
	trigger, err := e.persistence.TriggerRepository().GetByID(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger: %w", err)
	}

	if trigger.Type != expectedType || !trigger.Active {
		e.logger.DebugContext(ctx, "Stimulus matched no active trigger",
			"trigger_id", triggerID,
			"trigger_type", trigger.Type,
			"active", trigger.Active,
		)

		return nil, nil
	}

	return newRequest(trigger, payload, at), nil
}

// evaluateEvent matches a domain event against every active event trigger and
// returns the first match. Unmatched events are not an error.
func (e *Evaluator) evaluateEvent(ctx context.Context, event *DomainEventStimulus, at time.Time) (*protocol.ExecutionRequest, error) {
	if event == nil {
		return nil, nil
	}

	triggers, err := e.persistence.TriggerRepository().ListActiveByType(ctx, models.TriggerTypeEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to list event triggers: %w", err)
	}

	for _, trigger := range triggers {
		if MatchesEvent(trigger.Event, event.EventType, event.Payload) {
			return newRequest(trigger, event.Payload, at), nil
		}
	}

	return nil, nil
}

// TestTrigger previews the execution request a trigger would produce for the
// sample input, without dispatching anything. Inactive triggers preview too.
func (e *Evaluator) TestTrigger(ctx context.Context, triggerID string, sampleInput map[string]any) (*protocol.ExecutionRequest, error) {
	trigger, err := e.persistence.TriggerRepository().GetByID(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger: %w", err)
	}

	return newRequest(trigger, sampleInput, time.Now().UTC()), nil
}

func newRequest(trigger *models.Trigger, input map[string]any, at time.Time) *protocol.ExecutionRequest {
	return &protocol.ExecutionRequest{
		WorkflowID:  trigger.WorkflowID,
		TriggerID:   trigger.ID,
		TriggerType: string(trigger.Type),
		Input:       input,
		RequestedAt: at,
	}
}

// MatchesEvent reports whether an event trigger's configuration accepts the
// event. Filters are equality predicates; "<field>_min" / "<field>_max" keys
// express inclusive numeric bounds.
func MatchesEvent(cfg *models.EventConfig, eventType string, payload map[string]any) bool {
	if cfg == nil {
		return false
	}

	typeMatched := false

	for _, t := range cfg.EventTypes {
		if t == eventType {
			typeMatched = true

			break
		}
	}

	if !typeMatched {
		return false
	}

	for key, want := range cfg.Filters {
		if field, ok := rangeField(key, "_min"); ok {
			if !numericAtLeast(payload[field], want) {
				return false
			}

			continue
		}

		if field, ok := rangeField(key, "_max"); ok {
			if !numericAtMost(payload[field], want) {
				return false
			}

			continue
		}

		if !equalValue(payload[key], want) {
			return false
		}
	}

	return true
}

func rangeField(key, suffix string) (string, bool) {
	if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
		return key[:len(key)-len(suffix)], true
	}

	return "", false
}

func equalValue(got, want any) bool {
	gotNum, gotOk := asFloat(got)
	wantNum, wantOk := asFloat(want)

	if gotOk && wantOk {
		return gotNum == wantNum
	}

	return fmt.Sprint(got) == fmt.Sprint(want) && got != nil
}

func numericAtLeast(got, bound any) bool {
	gotNum, ok1 := asFloat(got)
	boundNum, ok2 := asFloat(bound)

	return ok1 && ok2 && gotNum >= boundNum
}

func numericAtMost(got, bound any) bool {
	gotNum, ok1 := asFloat(got)
	boundNum, ok2 := asFloat(bound)

	return ok1 && ok2 && gotNum <= boundNum
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
