package file

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", p.root)

	p = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", p.root)
}

func TestPersistence_Close(t *testing.T) {
	p := NewPersistence(t.TempDir())
	assert.NoError(t, p.Close(t.Context()))
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	testDir := t.TempDir()
	p := NewPersistence(testDir)

	workflow := &models.Workflow{
		ID:     "wf-1",
		Name:   "Invoice Sync",
		Status: models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{
				ID:           "step-1",
				UID:          "fetch_invoices",
				Name:         "Fetch Invoices",
				ExecutorType: "http_request",
				Configuration: map[string]any{
					"url": "https://example.com/invoices",
				},
				Enabled: true,
			},
		},
	}

	err := p.WorkflowRepository().Save(t.Context(), workflow)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(testDir, "workflows", "wf-1.json"))
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())

	fetched, err := p.WorkflowRepository().GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice Sync", fetched.Name)
	assert.Len(t, fetched.Steps, 1)
}

func TestWorkflowRepository_Save_PreservesCreatedAt(t *testing.T) {
	p := NewPersistence(t.TempDir())

	workflow := &models.Workflow{
		ID:        "wf-created",
		Name:      "Existing",
		CreatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	err := p.WorkflowRepository().Save(t.Context(), workflow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), workflow.CreatedAt)
	assert.True(t, workflow.UpdatedAt.After(workflow.CreatedAt))
}

func TestWorkflowRepository_Delete_SoftDeletes(t *testing.T) {
	p := NewPersistence(t.TempDir())

	workflow := &models.Workflow{ID: "wf-del", Name: "Doomed"}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	require.NoError(t, p.WorkflowRepository().Delete(t.Context(), "wf-del"))

	_, err := p.WorkflowRepository().GetByID(t.Context(), "wf-del")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	all, err := p.WorkflowRepository().GetAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.WorkflowRepository().GetByID(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestTriggerRepository_GetByWebhookToken(t *testing.T) {
	p := NewPersistence(t.TempDir())

	trigger := &models.Trigger{
		ID:         "trg-1",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeWebhook,
		Active:     true,
		Webhook: &models.WebhookConfig{
			Token:    "hook-token-123",
			AuthMode: models.WebhookAuthNone,
		},
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	found, err := p.TriggerRepository().GetByWebhookToken(t.Context(), "hook-token-123")
	require.NoError(t, err)
	assert.Equal(t, "trg-1", found.ID)

	_, err = p.TriggerRepository().GetByWebhookToken(t.Context(), "no-such-token")
	assert.True(t, persistence.IsTriggerNotFound(err))
}

func TestTriggerRepository_Delete_CascadesSchedules(t *testing.T) {
	p := NewPersistence(t.TempDir())

	trigger := &models.Trigger{
		ID:         "trg-sched",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeSchedule,
		Active:     true,
		Schedule:   &models.ScheduleConfig{CronExpression: "0 * * * *"},
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	schedule, err := models.NewSchedule("sch-1", trigger)
	require.NoError(t, err)
	require.NoError(t, p.ScheduleRepository().Save(t.Context(), schedule))

	require.NoError(t, p.TriggerRepository().Delete(t.Context(), "trg-sched"))

	remaining, err := p.ScheduleRepository().GetByTriggerID(t.Context(), "trg-sched")
	require.NoError(t, err)
	assert.Nil(t, remaining)
}

func TestTriggerRepository_MarkPeriodFired_Idempotent(t *testing.T) {
	p := NewPersistence(t.TempDir())

	first, err := p.TriggerRepository().MarkPeriodFired(t.Context(), "trg-1", "2026-08-24")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := p.TriggerRepository().MarkPeriodFired(t.Context(), "trg-1", "2026-08-24")
	require.NoError(t, err)
	assert.False(t, second)

	nextDay, err := p.TriggerRepository().MarkPeriodFired(t.Context(), "trg-1", "2026-08-25")
	require.NoError(t, err)
	assert.True(t, nextDay)
}

func TestScheduleRepository_DueSchedules(t *testing.T) {
	p := NewPersistence(t.TempDir())

	now := time.Now().UTC()

	due := &models.Schedule{
		ID:             "sch-due",
		TriggerID:      "trg-due",
		WorkflowID:     "wf-1",
		CronExpression: "* * * * *",
		Active:         true,
		NextRunAt:      now.Add(-time.Minute),
	}
	future := &models.Schedule{
		ID:             "sch-future",
		TriggerID:      "trg-future",
		WorkflowID:     "wf-1",
		CronExpression: "* * * * *",
		Active:         true,
		NextRunAt:      now.Add(time.Hour),
	}

	require.NoError(t, p.ScheduleRepository().Save(t.Context(), due))
	require.NoError(t, p.ScheduleRepository().Save(t.Context(), future))

	dueList, err := p.ScheduleRepository().DueSchedules(t.Context(), now)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, "sch-due", dueList[0].ID)
}

func TestExecutionRepository_SaveStep(t *testing.T) {
	p := NewPersistence(t.TempDir())

	execution := &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		Steps: []*models.StepExecution{
			{ID: "se-1", ExecutionID: "exec-1", StepID: "step-1", Status: models.StepStatusPending},
		},
	}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), execution))

	step := &models.StepExecution{
		ID:          "se-1",
		ExecutionID: "exec-1",
		StepID:      "step-1",
		Status:      models.StepStatusCompleted,
		Output:      map[string]any{"count": float64(3)},
	}
	require.NoError(t, p.ExecutionRepository().SaveStep(t.Context(), step))

	fetched, err := p.ExecutionRepository().GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, fetched.Steps, 1)
	assert.Equal(t, models.StepStatusCompleted, fetched.Steps[0].Status)
	assert.Equal(t, float64(3), fetched.Steps[0].Output["count"])
}

func TestExecutionRepository_SaveStep_UnknownStep(t *testing.T) {
	p := NewPersistence(t.TempDir())

	execution := &models.Execution{ID: "exec-2", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), execution))

	step := &models.StepExecution{ID: "se-x", ExecutionID: "exec-2", StepID: "ghost"}
	err := p.ExecutionRepository().SaveStep(t.Context(), step)
	assert.Error(t, err)
}

func TestExecutionRepository_RunningForTrigger(t *testing.T) {
	p := NewPersistence(t.TempDir())

	running := &models.Execution{
		ID:         "exec-run",
		WorkflowID: "wf-1",
		TriggerID:  "trg-1",
		Status:     models.ExecutionStatusRunning,
	}
	finished := &models.Execution{
		ID:         "exec-done",
		WorkflowID: "wf-1",
		TriggerID:  "trg-2",
		Status:     models.ExecutionStatusCompleted,
	}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), running))
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), finished))

	id, err := p.ExecutionRepository().RunningForTrigger(t.Context(), "trg-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-run", id)

	id, err = p.ExecutionRepository().RunningForTrigger(t.Context(), "trg-2")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestResilienceRepository_SaveError_VersionConflict(t *testing.T) {
	p := NewPersistence(t.TempDir())

	execErr := &models.ExecutionError{
		ExecutionID: "exec-1",
		StepID:      "step-1",
		Kind:        models.ErrorKindTransient,
		Message:     "connection reset",
		Status:      models.ErrorStatusPending,
	}
	require.NoError(t, p.ResilienceRepository().SaveError(t.Context(), execErr))
	assert.Equal(t, int64(1), execErr.Version)

	stale := &models.ExecutionError{
		ExecutionID: "exec-1",
		StepID:      "step-1",
		Kind:        models.ErrorKindTransient,
		Version:     0,
	}
	err := p.ResilienceRepository().SaveError(t.Context(), stale)
	assert.True(t, persistence.IsVersionConflict(err))

	execErr.Status = models.ErrorStatusRetrying
	require.NoError(t, p.ResilienceRepository().SaveError(t.Context(), execErr))
	assert.Equal(t, int64(2), execErr.Version)
}

func TestResilienceRepository_GetBreaker_CreatesClosed(t *testing.T) {
	p := NewPersistence(t.TempDir())

	breaker, err := p.ResilienceRepository().GetBreaker(t.Context(), "wf-1", "step-1")
	require.NoError(t, err)
	assert.Equal(t, models.BreakerClosed, breaker.State)
	assert.Equal(t, models.DefaultBreakerThreshold, breaker.FailureThreshold)

	breaker.FailureCount = 2
	require.NoError(t, p.ResilienceRepository().SaveBreaker(t.Context(), breaker))

	again, err := p.ResilienceRepository().GetBreaker(t.Context(), "wf-1", "step-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.FailureCount)
}

func TestResilienceRepository_SaveBreaker_VersionConflict(t *testing.T) {
	p := NewPersistence(t.TempDir())

	breaker, err := p.ResilienceRepository().GetBreaker(t.Context(), "wf-1", "step-1")
	require.NoError(t, err)

	stale := *breaker
	require.NoError(t, p.ResilienceRepository().SaveBreaker(t.Context(), breaker))

	err = p.ResilienceRepository().SaveBreaker(t.Context(), &stale)
	assert.True(t, persistence.IsVersionConflict(err))
}

func TestDeadLetterRepository_ExpireBefore(t *testing.T) {
	p := NewPersistence(t.TempDir())

	old := &models.DeadLetterEntry{
		ID:           "dl-old",
		ExecutionID:  "exec-1",
		WorkflowID:   "wf-1",
		FailedStepID: "step-1",
		Status:       models.DeadLetterStatusPending,
		ExpiresAt:    time.Now().UTC().Add(-time.Hour),
	}
	fresh := &models.DeadLetterEntry{
		ID:           "dl-fresh",
		ExecutionID:  "exec-2",
		WorkflowID:   "wf-1",
		FailedStepID: "step-1",
		Status:       models.DeadLetterStatusPending,
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, p.DeadLetterRepository().Save(t.Context(), old))
	require.NoError(t, p.DeadLetterRepository().Save(t.Context(), fresh))

	expired, err := p.DeadLetterRepository().ExpireBefore(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	entry, err := p.DeadLetterRepository().GetByID(t.Context(), "dl-old")
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusExpired, entry.Status)

	active, err := p.DeadLetterRepository().ListActive(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "dl-fresh", active[0].ID)
}

func TestDeadLetterRepository_Save_DefaultsExpiry(t *testing.T) {
	p := NewPersistence(t.TempDir())

	entry := &models.DeadLetterEntry{
		ID:          "dl-default",
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      models.DeadLetterStatusPending,
	}
	require.NoError(t, p.DeadLetterRepository().Save(t.Context(), entry))

	assert.WithinDuration(t, entry.CreatedAt.Add(models.DefaultDeadLetterRetention), entry.ExpiresAt, time.Second)
}

func TestAlertRepository_RulesAndEvents(t *testing.T) {
	p := NewPersistence(t.TempDir())

	rule := &models.AlertRule{
		ID:        "rule-1",
		Name:      "failed executions",
		Condition: models.AlertConditionExecutionFailed,
		Severity:  models.AlertSeverityCritical,
		Enabled:   true,
		Cooldown:  5 * time.Minute,
	}
	require.NoError(t, p.AlertRepository().SaveRule(t.Context(), rule))

	rules, err := p.AlertRepository().Rules(t.Context())
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	event := &models.AlertEvent{
		ID:        "evt-1",
		RuleID:    "rule-1",
		Condition: models.AlertConditionExecutionFailed,
		Severity:  models.AlertSeverityCritical,
		Status:    models.AlertEventStatusFiring,
		FiredAt:   time.Now().UTC(),
	}
	require.NoError(t, p.AlertRepository().SaveEvent(t.Context(), event))

	firing, err := p.AlertRepository().ListEvents(t.Context(), models.AlertEventStatusFiring, 10)
	require.NoError(t, err)
	require.Len(t, firing, 1)
	assert.Equal(t, "evt-1", firing[0].ID)

	require.NoError(t, p.AlertRepository().DeleteRule(t.Context(), "rule-1"))

	_, err = p.AlertRepository().GetRule(t.Context(), "rule-1")
	assert.Error(t, err)
}

func TestWebhookLogRepository_ListByTrigger(t *testing.T) {
	p := NewPersistence(t.TempDir())

	for i := range 3 {
		log := &models.WebhookRequestLog{
			TriggerID:  "trg-1",
			Token:      "hook-token",
			Method:     "POST",
			SourceIP:   "10.0.0.1",
			Accepted:   i != 0,
			ReceivedAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, p.WebhookLogRepository().Save(t.Context(), log))
		assert.NotEmpty(t, log.ID)
	}

	logs, err := p.WebhookLogRepository().ListByTrigger(t.Context(), "trg-1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].ReceivedAt.After(logs[1].ReceivedAt))
}
