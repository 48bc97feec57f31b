package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/channels/gochannel"
	"github.com/ledgerflow/conductor/pkg/eventbus"
	"github.com/ledgerflow/conductor/pkg/events"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	return eventbus.NewWatermillEventBus(pub, sub)
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.ExecutionStarted, 1)

	err := bus.Handle(events.ExecutionStartedEvent, func(ctx context.Context, event any) error {
		started, ok := event.(*events.ExecutionStarted)
		require.True(t, ok)
		received <- started

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	started := events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, "workflow-1"),
		ExecutionID: "exec-1",
		TotalSteps:  3,
	}
	require.NoError(t, bus.Publish(ctx, "workflow-1", started))

	select {
	case got := <-received:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, 3, got.TotalSteps)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledTypeIsAcked(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered; publishing must not error and the message is
	// acknowledged and dropped.
	failed := events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, "workflow-1"),
		ExecutionID: "exec-1",
	}
	assert.NoError(t, bus.Publish(ctx, "workflow-1", failed))
}

func TestWatermillEventBus_MultipleHandlersPerType(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan string, 2)

	for _, name := range []string{"first", "second"} {
		name := name
		err := bus.Handle(events.StepCompletedEvent, func(ctx context.Context, event any) error {
			calls <- name

			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Subscribe(ctx))

	completed := events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, "workflow-1"),
		ExecutionID: "exec-1",
		StepID:      "step-1",
	}
	require.NoError(t, bus.Publish(ctx, "workflow-1", completed))

	got := map[string]bool{}
	for range 2 {
		select {
		case name := <-calls:
			got[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handlers")
		}
	}

	assert.True(t, got["first"] && got["second"])
}
