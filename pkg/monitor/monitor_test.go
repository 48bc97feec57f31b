package monitor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence/file"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

type captureNotifier struct {
	mu            sync.Mutex
	notifications []protocol.Notification
}

func (n *captureNotifier) Notify(_ context.Context, notification protocol.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)

	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.notifications)
}

func newMonitor(t *testing.T) (*Monitor, *file.Persistence, *captureNotifier) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	notifier := &captureNotifier{}
	m := New(slog.New(slog.DiscardHandler), p, notifier, nil, nil)

	return m, p, notifier
}

func startedEvent(workflowID, executionID string, totalSteps int) *events.ExecutionStarted {
	return &events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflowID),
		ExecutionID: executionID,
		TotalSteps:  totalSteps,
	}
}

func completedEvent(workflowID, executionID string, durationMs int64) *events.ExecutionCompleted {
	return &events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, workflowID),
		ExecutionID: executionID,
		DurationMs:  durationMs,
	}
}

func failedEvent(workflowID, executionID, message string) *events.ExecutionFailed {
	return &events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, workflowID),
		ExecutionID: executionID,
		Error:       message,
		ErrorKind:   models.ErrorKindTransient,
	}
}

func TestMonitor_LiveViewTracksLifecycle(t *testing.T) {
	m, _, _ := newMonitor(t)

	require.NoError(t, m.HandleEvent(t.Context(), startedEvent("wf-1", "exec-1", 2)))
	require.NoError(t, m.HandleEvent(t.Context(), &events.StepStarted{
		BaseEvent:   events.NewBaseEvent(events.StepStartedEvent, "wf-1"),
		ExecutionID: "exec-1",
		StepID:      "step-a",
	}))

	view := m.Execution("exec-1")
	require.NotNil(t, view)
	assert.Equal(t, models.ExecutionStatusRunning, view.Status)
	assert.Equal(t, []string{"step-a"}, view.CurrentSteps)
	assert.Equal(t, 0, view.Progress())

	require.NoError(t, m.HandleEvent(t.Context(), &events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, "wf-1"),
		ExecutionID: "exec-1",
		StepID:      "step-a",
	}))

	view = m.Execution("exec-1")
	assert.Equal(t, 50, view.Progress())
	assert.Empty(t, view.CurrentSteps)

	require.NoError(t, m.HandleEvent(t.Context(), completedEvent("wf-1", "exec-1", 1200)))

	view = m.Execution("exec-1")
	assert.Equal(t, models.ExecutionStatusCompleted, view.Status)

	stats := m.WorkflowStats("wf-1")
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 1200*time.Millisecond, stats.AvgDuration)
}

func TestMonitor_UnknownExecutionReturnsNil(t *testing.T) {
	m, _, _ := newMonitor(t)

	assert.Nil(t, m.Execution("missing"))
}

func TestMonitor_ExecutionFailedAlertWithCooldown(t *testing.T) {
	m, p, notifier := newMonitor(t)

	rule := &models.AlertRule{
		ID:        "rule-1",
		Name:      "Any failure",
		Condition: models.AlertConditionExecutionFailed,
		Severity:  models.AlertSeverityCritical,
		Enabled:   true,
		Cooldown:  time.Hour,
		Channels:  []string{"ops-pager"},
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-1", "boom")))
	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-2", "boom again")))

	// The second failure lands inside the cooldown window.
	assert.Equal(t, 1, notifier.count())

	alerts, err := p.AlertRepository().ListEvents(t.Context(), models.AlertEventStatusFiring, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rule-1", alerts[0].RuleID)
	assert.Equal(t, "exec-1", alerts[0].ExecutionID)
	assert.Contains(t, alerts[0].Message, "boom")
}

func TestMonitor_DisabledRuleNeverFires(t *testing.T) {
	m, p, notifier := newMonitor(t)

	rule := &models.AlertRule{
		ID:        "rule-off",
		Name:      "Disabled",
		Condition: models.AlertConditionExecutionFailed,
		Enabled:   false,
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-1", "boom")))

	assert.Zero(t, notifier.count())
}

func TestMonitor_ConsecutiveFailuresAlert(t *testing.T) {
	m, p, notifier := newMonitor(t)

	rule := &models.AlertRule{
		ID:               "rule-streak",
		Name:             "Three in a row",
		Condition:        models.AlertConditionConsecutiveFailures,
		ConsecutiveCount: 3,
		Enabled:          true,
		Channels:         []string{"ops"},
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-1", "e1")))
	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-2", "e2")))
	assert.Zero(t, notifier.count())

	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-3", "e3")))
	assert.Equal(t, 1, notifier.count())

	// A success resets the streak.
	require.NoError(t, m.HandleEvent(t.Context(), completedEvent("wf-1", "exec-4", 10)))
	assert.Zero(t, m.WorkflowStats("wf-1").ConsecutiveFailures)
}

func TestMonitor_SlowExecutionAlert(t *testing.T) {
	m, p, notifier := newMonitor(t)

	rule := &models.AlertRule{
		ID:            "rule-slow",
		Name:          "Too slow",
		Condition:     models.AlertConditionSlowExecution,
		DurationLimit: 100 * time.Millisecond,
		Enabled:       true,
		Channels:      []string{"ops"},
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	require.NoError(t, m.HandleEvent(t.Context(), completedEvent("wf-1", "exec-fast", 50)))
	assert.Zero(t, notifier.count())

	require.NoError(t, m.HandleEvent(t.Context(), completedEvent("wf-1", "exec-slow", 500)))
	assert.Equal(t, 1, notifier.count())
}

func TestMonitor_HighErrorRateRequiresMinSamples(t *testing.T) {
	m, p, notifier := newMonitor(t)

	rule := &models.AlertRule{
		ID:             "rule-rate",
		Name:           "Error rate",
		Condition:      models.AlertConditionHighErrorRate,
		ErrorRateLimit: 0.5,
		RateWindow:     time.Hour,
		MinSamples:     4,
		Enabled:        true,
		Channels:       []string{"ops"},
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	// Three failures: rate 100% but below the sample floor.
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", id, "x")))
	}

	assert.Zero(t, notifier.count())

	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "e4", "x")))
	assert.Equal(t, 1, notifier.count())
}

func TestMonitor_RuleScopedToOtherWorkflowIgnored(t *testing.T) {
	m, p, notifier := newMonitor(t)

	rule := &models.AlertRule{
		ID:         "rule-scoped",
		Name:       "Scoped",
		Condition:  models.AlertConditionExecutionFailed,
		WorkflowID: "wf-other",
		Enabled:    true,
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-1", "boom")))

	assert.Zero(t, notifier.count())
}

func TestMonitor_SubscribeFiltersAndDrops(t *testing.T) {
	m, _, _ := newMonitor(t)

	matched, cancelMatched := m.Subscribe(Filter{WorkflowID: "wf-1"})
	defer cancelMatched()

	other, cancelOther := m.Subscribe(Filter{WorkflowID: "wf-other"})
	defer cancelOther()

	require.NoError(t, m.HandleEvent(t.Context(), startedEvent("wf-1", "exec-1", 1)))

	select {
	case update := <-matched:
		assert.Equal(t, events.ExecutionStartedEvent, update.Type)
		assert.Equal(t, "exec-1", update.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("expected an update on the matching subscription")
	}

	assert.Empty(t, other)

	// Overrun the buffer without reading; producers never block, the overflow
	// is counted instead.
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, m.HandleEvent(t.Context(), completedEvent("wf-1", "exec-1", 1)))
	}

	assert.Positive(t, m.DroppedUpdates())
}

func TestMonitor_AcknowledgeAndResolve(t *testing.T) {
	m, p, _ := newMonitor(t)

	rule := &models.AlertRule{
		ID:        "rule-ack",
		Name:      "Ack me",
		Condition: models.AlertConditionExecutionFailed,
		Enabled:   true,
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))
	require.NoError(t, m.HandleEvent(t.Context(), failedEvent("wf-1", "exec-1", "boom")))

	alerts, err := p.AlertRepository().ListEvents(t.Context(), models.AlertEventStatusFiring, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	acked, err := m.Acknowledge(t.Context(), alerts[0].ID, "oncall@ledgerflow.io")
	require.NoError(t, err)
	assert.Equal(t, models.AlertEventStatusAcknowledged, acked.Status)
	assert.Equal(t, "oncall@ledgerflow.io", acked.AcknowledgedBy)

	resolved, err := m.Resolve(t.Context(), alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertEventStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	// Resolving twice is a no-op; acknowledging a resolved alert is not.
	_, err = m.Resolve(t.Context(), alerts[0].ID)
	require.NoError(t, err)

	_, err = m.Acknowledge(t.Context(), alerts[0].ID, "someone")
	assert.Error(t, err)
}
