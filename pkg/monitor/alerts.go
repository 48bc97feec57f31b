package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

// ErrAlertResolved rejects acknowledging an alert that is already closed.
var ErrAlertResolved = errors.New("alert event already resolved")

// evaluateRules checks every enabled rule against the event. Rules are read
// from the store on each terminal event so edits take effect without restart.
func (m *Monitor) evaluateRules(ctx context.Context, event any) {
	var (
		workflowID  string
		executionID string
		failed      *events.ExecutionFailed
		completed   *events.ExecutionCompleted
	)

	switch e := event.(type) {
	case *events.ExecutionFailed:
		workflowID, executionID, failed = e.WorkflowID, e.ExecutionID, e
	case *events.ExecutionCompleted:
		workflowID, executionID, completed = e.WorkflowID, e.ExecutionID, e
	default:
		// Only terminal outcomes feed alert conditions.
		return
	}

	rules, err := m.persistence.AlertRepository().Rules(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load alert rules", "error", err)

		return
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		if rule.WorkflowID != "" && rule.WorkflowID != workflowID {
			continue
		}

		fires, message, alertCtx := m.ruleFires(rule, workflowID, failed, completed)
		if !fires {
			continue
		}

		if !m.passCooldown(rule, workflowID) {
			continue
		}

		m.fire(ctx, rule, workflowID, executionID, message, alertCtx)
	}
}

func (m *Monitor) ruleFires(
	rule *models.AlertRule,
	workflowID string,
	failed *events.ExecutionFailed,
	completed *events.ExecutionCompleted,
) (bool, string, map[string]any) {
	switch rule.Condition {
	case models.AlertConditionExecutionFailed:
		if failed == nil {
			return false, "", nil
		}

		return true,
			fmt.Sprintf("execution %s of workflow %s failed: %s", failed.ExecutionID, workflowID, failed.Error),
			map[string]any{"error_kind": string(failed.ErrorKind), "failed_step_id": failed.FailedStepID}

	case models.AlertConditionConsecutiveFailures:
		if failed == nil {
			return false, "", nil
		}

		streak := m.consecutiveFailures(workflowID)
		if rule.ConsecutiveCount <= 0 || streak < rule.ConsecutiveCount {
			return false, "", nil
		}

		return true,
			fmt.Sprintf("workflow %s failed %d times in a row", workflowID, streak),
			map[string]any{"consecutive_failures": streak}

	case models.AlertConditionSlowExecution:
		if completed == nil || rule.DurationLimit <= 0 {
			return false, "", nil
		}

		duration := time.Duration(completed.DurationMs) * time.Millisecond
		if duration <= rule.DurationLimit {
			return false, "", nil
		}

		return true,
			fmt.Sprintf("execution %s of workflow %s took %s, limit %s", completed.ExecutionID, workflowID, duration, rule.DurationLimit),
			map[string]any{"duration_ms": completed.DurationMs, "limit_ms": rule.DurationLimit.Milliseconds()}

	case models.AlertConditionHighErrorRate:
		if failed == nil || rule.ErrorRateLimit <= 0 {
			return false, "", nil
		}

		window := rule.RateWindow
		if window <= 0 {
			window = time.Hour
		}

		rate, samples := m.errorRate(workflowID, time.Now().UTC().Add(-window))
		if samples < rule.MinSamples || rate <= rule.ErrorRateLimit {
			return false, "", nil
		}

		return true,
			fmt.Sprintf("workflow %s failure rate %.0f%% over %s exceeds %.0f%%", workflowID, rate*100, window, rule.ErrorRateLimit*100),
			map[string]any{"error_rate": rate, "samples": samples, "window_ms": window.Milliseconds()}

	default:
		return false, "", nil
	}
}

func (m *Monitor) consecutiveFailures(workflowID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window, ok := m.windows[workflowID]
	if !ok {
		return 0
	}

	return window.consecutiveFailures()
}

func (m *Monitor) errorRate(workflowID string, since time.Time) (float64, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window, ok := m.windows[workflowID]
	if !ok {
		return 0, 0
	}

	return window.failureRate(since)
}

// passCooldown reports whether the (rule, workflow) pair is outside its
// cooldown window and stamps the firing time when it is.
func (m *Monitor) passCooldown(rule *models.AlertRule, workflowID string) bool {
	key := rule.ID + "|" + workflowID
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.cooldowns[key]; ok && rule.Cooldown > 0 && now.Sub(last) < rule.Cooldown {
		return false
	}

	m.cooldowns[key] = now

	return true
}

func (m *Monitor) fire(ctx context.Context, rule *models.AlertRule, workflowID, executionID, message string, alertCtx map[string]any) {
	alertEvent := &models.AlertEvent{
		ID:             uuid.New().String(),
		RuleID:         rule.ID,
		OrganizationID: rule.OrganizationID,
		WorkflowID:     workflowID,
		ExecutionID:    executionID,
		Condition:      rule.Condition,
		Severity:       rule.Severity,
		Message:        message,
		Context:        alertCtx,
		Status:         models.AlertEventStatusFiring,
		FiredAt:        time.Now().UTC(),
	}

	if err := m.persistence.AlertRepository().SaveEvent(ctx, alertEvent); err != nil {
		m.logger.ErrorContext(ctx, "Failed to save alert event", "rule_id", rule.ID, "error", err)

		return
	}

	m.logger.WarnContext(ctx, "Alert fired",
		"rule_id", rule.ID,
		"condition", rule.Condition,
		"severity", rule.Severity,
		"workflow_id", workflowID,
		"message", message,
	)

	for _, channel := range rule.Channels {
		err := m.notifier.Notify(ctx, protocol.Notification{
			Channel:  channel,
			Template: "alert_fired",
			Data: map[string]any{
				"alert_event_id": alertEvent.ID,
				"rule_name":      rule.Name,
				"condition":      string(rule.Condition),
				"severity":       string(rule.Severity),
				"workflow_id":    workflowID,
				"message":        message,
			},
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to dispatch alert notification", "channel", channel, "error", err)
		}
	}

	if m.publisher != nil {
		fired := events.AlertFired{
			BaseEvent:    events.NewBaseEvent(events.AlertFiredEvent, workflowID),
			AlertEventID: alertEvent.ID,
			RuleID:       rule.ID,
			Condition:    rule.Condition,
			Severity:     rule.Severity,
			Message:      message,
			ExecutionID:  executionID,
		}

		if err := m.publisher.Publish(ctx, workflowID, fired); err != nil {
			m.logger.ErrorContext(ctx, "Failed to publish alert event", "rule_id", rule.ID, "error", err)
		}
	}
}

// Acknowledge marks a firing alert as seen by an operator.
func (m *Monitor) Acknowledge(ctx context.Context, alertEventID, acknowledgedBy string) (*models.AlertEvent, error) {
	alertEvent, err := m.persistence.AlertRepository().GetEvent(ctx, alertEventID)
	if err != nil {
		return nil, err
	}

	if alertEvent.Status == models.AlertEventStatusResolved {
		return nil, fmt.Errorf("%w: %s", ErrAlertResolved, alertEventID)
	}

	alertEvent.Status = models.AlertEventStatusAcknowledged
	alertEvent.AcknowledgedBy = acknowledgedBy

	if err := m.persistence.AlertRepository().SaveEvent(ctx, alertEvent); err != nil {
		return nil, err
	}

	return alertEvent, nil
}

// Resolve closes an alert event.
func (m *Monitor) Resolve(ctx context.Context, alertEventID string) (*models.AlertEvent, error) {
	alertEvent, err := m.persistence.AlertRepository().GetEvent(ctx, alertEventID)
	if err != nil {
		return nil, err
	}

	if alertEvent.Status == models.AlertEventStatusResolved {
		return alertEvent, nil
	}

	now := time.Now().UTC()
	alertEvent.Status = models.AlertEventStatusResolved
	alertEvent.ResolvedAt = &now

	if err := m.persistence.AlertRepository().SaveEvent(ctx, alertEvent); err != nil {
		return nil, err
	}

	return alertEvent, nil
}
