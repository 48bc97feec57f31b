package triggers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

// EventSubscriber consumes domain events from the message bus and offers each
// one to the active event triggers. One provider instance serves all event
// triggers; matching happens per message in the evaluator.
type EventSubscriber struct {
	logger     *slog.Logger
	subscriber message.Subscriber
	evaluator  *Evaluator
	topic      string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEventSubscriber(logger *slog.Logger, p persistence.Persistence, subscriber message.Subscriber) *EventSubscriber {
	return &EventSubscriber{
		logger:     logger.With("module", "event_subscriber"),
		subscriber: subscriber,
		evaluator:  NewEvaluator(logger, p),
		topic:      events.DomainEventsTopic,
	}
}

// Start subscribes to the domain event topic and evaluates messages until the
// context is cancelled or Stop is called.
func (s *EventSubscriber) Start(ctx context.Context, callback protocol.ExecutionRequestCallback) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	messages, err := s.subscriber.Subscribe(runCtx, s.topic)
	if err != nil {
		cancel()

		return err
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for msg := range messages {
			s.consume(runCtx, msg, callback)
		}
	}()

	s.logger.InfoContext(ctx, "Event subscriber started", "topic", s.topic)

	return nil
}

func (s *EventSubscriber) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	s.logger.InfoContext(ctx, "Event subscriber stopped")

	return nil
}

// consume acks every message: an event matching no trigger is normal, and a
// malformed one will never parse better on redelivery.
func (s *EventSubscriber) consume(ctx context.Context, msg *message.Message, callback protocol.ExecutionRequestCallback) {
	defer msg.Ack()

	var event events.DomainEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		s.logger.WarnContext(ctx, "Discarding malformed domain event", "message_id", msg.UUID, "error", err)

		return
	}

	request, err := s.evaluator.Evaluate(ctx, Stimulus{
		Kind: StimulusEvent,
		Event: &DomainEventStimulus{
			EventType: event.EventType,
			Payload:   event.Payload,
		},
		At: event.OccurredAt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to evaluate domain event",
			"event_type", event.EventType,
			"event_id", event.ID,
			"error", err,
		)

		return
	}

	if request == nil {
		return
	}

	executionID, err := callback(ctx, *request)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to dispatch event-triggered execution",
			"event_type", event.EventType,
			"trigger_id", request.TriggerID,
			"error", err,
		)

		return
	}

	s.logger.InfoContext(ctx, "Domain event matched trigger",
		"event_type", event.EventType,
		"trigger_id", request.TriggerID,
		"execution_id", executionID,
	)
}
