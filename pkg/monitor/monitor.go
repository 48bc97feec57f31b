// Package monitor maintains the live operational view of the execution core:
// per-execution progress, per-workflow rolling success/failure windows, queue
// health, subscriber fan-out and alert rule evaluation.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerflow/conductor/pkg/eventbus"
	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
	"github.com/ledgerflow/conductor/pkg/queue"
)

const (
	defaultQueuePollInterval = 5 * time.Second
	subscriberBuffer         = 64

	// windowCapacity bounds the per-workflow outcome history. Rolling-window
	// rules older than the capacity are effectively truncated.
	windowCapacity = 200
)

// ExecutionView is the live state of one execution, maintained from lifecycle
// events as they are emitted.
type ExecutionView struct {
	ExecutionID    string                 `json:"execution_id"`
	WorkflowID     string                 `json:"workflow_id"`
	Status         models.ExecutionStatus `json:"status"`
	TotalSteps     int                    `json:"total_steps"`
	CompletedSteps int                    `json:"completed_steps"`
	CurrentSteps   []string               `json:"current_steps,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	LastEventAt    time.Time              `json:"last_event_at"`
	LastError      string                 `json:"last_error,omitempty"`
}

// Progress is the completed-step percentage, 0..100.
func (v *ExecutionView) Progress() int {
	if v.TotalSteps == 0 {
		return 0
	}

	return v.CompletedSteps * 100 / v.TotalSteps
}

// WorkflowStats aggregates recent outcomes of one workflow.
type WorkflowStats struct {
	WorkflowID          string        `json:"workflow_id"`
	Completed           int           `json:"completed"`
	Failed              int           `json:"failed"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AvgDuration         time.Duration `json:"avg_duration"`
}

// Update is one fan-out message pushed to subscribers.
type Update struct {
	Type        events.EventType `json:"type"`
	WorkflowID  string           `json:"workflow_id"`
	ExecutionID string           `json:"execution_id,omitempty"`
	Event       any              `json:"event"`
	At          time.Time        `json:"at"`
}

// Filter selects which updates a subscriber receives. Zero value matches all.
type Filter struct {
	WorkflowID  string
	ExecutionID string
}

func (f Filter) matches(u Update) bool {
	if f.WorkflowID != "" && f.WorkflowID != u.WorkflowID {
		return false
	}

	if f.ExecutionID != "" && f.ExecutionID != u.ExecutionID {
		return false
	}

	return true
}

type subscriber struct {
	filter Filter
	ch     chan Update
}

// Monitor consumes lifecycle and resilience events and keeps the derived
// state current synchronously with event delivery.
type Monitor struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	notifier    protocol.Notifier
	publisher   eventbus.EventPublisher
	queue       *queue.Queue

	mu          sync.RWMutex
	executions  map[string]*ExecutionView
	windows     map[string]*outcomeWindow
	subscribers map[int]*subscriber
	nextSubID   int
	cooldowns   map[string]time.Time
	queueStats  queue.Stats
	dropped     int64

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(logger *slog.Logger, p persistence.Persistence, notifier protocol.Notifier, publisher eventbus.EventPublisher, q *queue.Queue) *Monitor {
	if notifier == nil {
		notifier = protocol.NopNotifier{}
	}

	return &Monitor{
		logger:      logger.With("module", "monitor"),
		persistence: p,
		notifier:    notifier,
		publisher:   publisher,
		queue:       q,
		executions:  make(map[string]*ExecutionView),
		windows:     make(map[string]*outcomeWindow),
		subscribers: make(map[int]*subscriber),
		cooldowns:   make(map[string]time.Time),
	}
}

// Register attaches the monitor to every event type it consumes. Call before
// the bus starts delivering.
func (m *Monitor) Register(bus eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionCancelledEvent,
		events.ExecutionWaitingEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.StepFailedEvent,
		events.StepRetryScheduledEvent,
		events.ExecutionDeadLetteredEvent,
		events.CircuitOpenedEvent,
		events.CircuitClosedEvent,
	} {
		if err := bus.Handle(eventType, m.HandleEvent); err != nil {
			return err
		}
	}

	return nil
}

// HandleEvent updates the live view, evaluates alert rules and fans the event
// out to subscribers. It never returns an error: the monitor must not cause
// event redelivery.
func (m *Monitor) HandleEvent(ctx context.Context, event any) error {
	update, ok := m.apply(event)
	if !ok {
		return nil
	}

	m.evaluateRules(ctx, event)
	m.fanOut(update)

	return nil
}

// apply folds one event into the live view under the lock and returns the
// corresponding fan-out update.
func (m *Monitor) apply(event any) (Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := event.(type) {
	case *events.ExecutionStarted:
		m.executions[e.ExecutionID] = &ExecutionView{
			ExecutionID: e.ExecutionID,
			WorkflowID:  e.WorkflowID,
			Status:      models.ExecutionStatusRunning,
			TotalSteps:  e.TotalSteps,
			StartedAt:   e.Timestamp,
			LastEventAt: e.Timestamp,
		}

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.ExecutionCompleted:
		m.finishView(e.ExecutionID, models.ExecutionStatusCompleted, "", e.Timestamp)
		m.window(e.WorkflowID).record(outcome{at: e.Timestamp, duration: time.Duration(e.DurationMs) * time.Millisecond})

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.ExecutionFailed:
		m.finishView(e.ExecutionID, models.ExecutionStatusFailed, e.Error, e.Timestamp)
		m.window(e.WorkflowID).record(outcome{at: e.Timestamp, failed: true, duration: time.Duration(e.DurationMs) * time.Millisecond})

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.ExecutionCancelled:
		m.finishView(e.ExecutionID, models.ExecutionStatusCancelled, "", e.Timestamp)

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.ExecutionWaiting:
		if view, ok := m.executions[e.ExecutionID]; ok {
			view.Status = models.ExecutionStatusWaiting
			view.LastEventAt = e.Timestamp
		}

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.StepStarted:
		if view, ok := m.executions[e.ExecutionID]; ok {
			view.Status = models.ExecutionStatusRunning
			view.CurrentSteps = appendUnique(view.CurrentSteps, e.StepID)
			view.LastEventAt = e.Timestamp
		}

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.StepCompleted:
		if view, ok := m.executions[e.ExecutionID]; ok {
			view.CompletedSteps++
			view.CurrentSteps = remove(view.CurrentSteps, e.StepID)
			view.LastEventAt = e.Timestamp
		}

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.StepFailed:
		if view, ok := m.executions[e.ExecutionID]; ok {
			view.CurrentSteps = remove(view.CurrentSteps, e.StepID)
			view.LastError = e.Error
			view.LastEventAt = e.Timestamp
		}

		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.StepRetryScheduled:
		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.ExecutionDeadLettered:
		return m.update(e.Type, e.WorkflowID, e.ExecutionID, e), true

	case *events.CircuitOpened:
		return m.update(e.Type, e.WorkflowID, "", e), true

	case *events.CircuitClosed:
		return m.update(e.Type, e.WorkflowID, "", e), true

	default:
		return Update{}, false
	}
}

func (m *Monitor) update(eventType events.EventType, workflowID, executionID string, event any) Update {
	return Update{
		Type:        eventType,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Event:       event,
		At:          time.Now().UTC(),
	}
}

func (m *Monitor) finishView(executionID string, status models.ExecutionStatus, lastError string, at time.Time) {
	view, ok := m.executions[executionID]
	if !ok {
		return
	}

	view.Status = status
	view.CurrentSteps = nil
	view.LastEventAt = at

	if lastError != "" {
		view.LastError = lastError
	}
}

// Execution returns a copy of the live view, or nil when unknown.
func (m *Monitor) Execution(executionID string) *ExecutionView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view, ok := m.executions[executionID]
	if !ok {
		return nil
	}

	copied := *view
	copied.CurrentSteps = append([]string(nil), view.CurrentSteps...)

	return &copied
}

// WorkflowStats summarizes the recorded outcome window for a workflow.
func (m *Monitor) WorkflowStats(workflowID string) WorkflowStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := WorkflowStats{WorkflowID: workflowID}

	window, ok := m.windows[workflowID]
	if !ok {
		return stats
	}

	var total time.Duration

	for _, o := range window.outcomes {
		if o.failed {
			stats.Failed++
		} else {
			stats.Completed++
		}

		total += o.duration
	}

	if n := stats.Completed + stats.Failed; n > 0 {
		stats.AvgDuration = total / time.Duration(n)
	}

	stats.ConsecutiveFailures = window.consecutiveFailures()

	return stats
}

// Subscribe registers a live-update consumer. The returned cancel function
// must be called when done. The channel buffer is bounded; a consumer that
// falls behind loses updates instead of blocking event handling.
func (m *Monitor) Subscribe(filter Filter) (<-chan Update, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++

	sub := &subscriber{filter: filter, ch: make(chan Update, subscriberBuffer)}
	m.subscribers[id] = sub

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub.ch)
		}
	}

	return sub.ch, cancel
}

func (m *Monitor) fanOut(update Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscribers {
		if !sub.filter.matches(update) {
			continue
		}

		select {
		case sub.ch <- update:
		default:
			m.dropped++
		}
	}
}

// DroppedUpdates counts fan-out messages discarded because a subscriber's
// buffer was full.
func (m *Monitor) DroppedUpdates() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dropped
}

// StartQueuePolling refreshes the queue snapshot on a fixed interval. A nil
// queue makes this a no-op.
func (m *Monitor) StartQueuePolling(ctx context.Context, interval time.Duration) {
	if m.queue == nil {
		return
	}

	if interval <= 0 || interval > defaultQueuePollInterval {
		interval = defaultQueuePollInterval
	}

	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.pollDone = make(chan struct{})

	go func() {
		defer close(m.pollDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.pollQueue(pollCtx)
			case <-pollCtx.Done():
				return
			}
		}
	}()
}

// StopQueuePolling halts the polling loop started by StartQueuePolling.
func (m *Monitor) StopQueuePolling() {
	if m.pollCancel == nil {
		return
	}

	m.pollCancel()
	<-m.pollDone
	m.pollCancel = nil
}

func (m *Monitor) pollQueue(ctx context.Context) {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to poll queue stats", "error", err)

		return
	}

	m.mu.Lock()
	m.queueStats = *stats
	m.mu.Unlock()
}

// QueueStats returns the last polled snapshot.
func (m *Monitor) QueueStats() queue.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.queueStats
}

// outcome is one terminal execution result in a workflow's rolling window.
type outcome struct {
	at       time.Time
	failed   bool
	duration time.Duration
}

type outcomeWindow struct {
	outcomes []outcome
}

func (m *Monitor) window(workflowID string) *outcomeWindow {
	w, ok := m.windows[workflowID]
	if !ok {
		w = &outcomeWindow{}
		m.windows[workflowID] = w
	}

	return w
}

func (w *outcomeWindow) record(o outcome) {
	w.outcomes = append(w.outcomes, o)
	if len(w.outcomes) > windowCapacity {
		w.outcomes = w.outcomes[len(w.outcomes)-windowCapacity:]
	}
}

func (w *outcomeWindow) consecutiveFailures() int {
	count := 0

	for i := len(w.outcomes) - 1; i >= 0; i-- {
		if !w.outcomes[i].failed {
			break
		}

		count++
	}

	return count
}

// failureRate returns the failed ratio and sample count inside the window.
func (w *outcomeWindow) failureRate(since time.Time) (float64, int) {
	failed, total := 0, 0

	for _, o := range w.outcomes {
		if o.at.Before(since) {
			continue
		}

		total++

		if o.failed {
			failed++
		}
	}

	if total == 0 {
		return 0, 0
	}

	return float64(failed) / float64(total), total
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}

	return append(list, value)
}

func remove(list []string, value string) []string {
	out := list[:0]

	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}

	return out
}
