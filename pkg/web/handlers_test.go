package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/deadletter"
	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/events"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/monitor"
	"github.com/ledgerflow/conductor/pkg/persistence/file"
	"github.com/ledgerflow/conductor/pkg/protocol"
	"github.com/ledgerflow/conductor/pkg/registry"
	"github.com/ledgerflow/conductor/pkg/resilience"
	"github.com/ledgerflow/conductor/pkg/triggers"
)

// stubExecutor runs steps by name: the step named "fail" errors with a
// validation failure, everything else echoes its name.
type stubExecutor struct {
	name string
}

func (e stubExecutor) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	if e.name == "fail" {
		return nil, errors.New("validation failed: bad payload")
	}

	return map[string]any{"step": e.name}, nil
}

type stubFactory struct{}

func (stubFactory) ID() string             { return "stub" }
func (stubFactory) Schema() map[string]any { return nil }

func (stubFactory) Create(config map[string]any, _ *slog.Logger) (protocol.StepExecutor, error) {
	name, _ := config["name"].(string)

	return stubExecutor{name: name}, nil
}

type apiHarness struct {
	app     *fiber.App
	store   *file.Persistence
	monitor *monitor.Monitor
	engine  *engine.Engine
}

func setupAPI(t *testing.T) *apiHarness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(stubFactory{})

	manager := resilience.NewManager(logger, store, nil, nil)
	eng := engine.NewEngine(logger, store, reg, manager, nil, engine.Config{MaxWorkers: 2})
	service := deadletter.NewService(logger, store, eng, nil)
	mon := monitor.New(logger, store, nil, nil, nil)

	handlers := NewAPIHandlers(logger, store, validator.New(), eng, nil, nil, service, mon)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &apiHarness{app: app, store: store, monitor: mon, engine: eng}
}

func (h *apiHarness) saveWorkflow(t *testing.T, id string, steps ...*models.WorkflowStep) {
	t.Helper()

	workflow := &models.Workflow{
		ID:     id,
		Name:   "Workflow " + id,
		Status: models.WorkflowStatusActive,
		Steps:  steps,
	}
	require.NoError(t, h.store.WorkflowRepository().Save(t.Context(), workflow))
}

func step(id string, deps ...string) *models.WorkflowStep {
	return &models.WorkflowStep{
		ID:            id,
		UID:           id,
		Name:          id,
		ExecutorType:  "stub",
		Configuration: map[string]any{"name": id},
		DependsOn:     deps,
		Enabled:       true,
	}
}

func (h *apiHarness) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func TestCreateTrigger_WebhookVariant(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("work"))

	resp := h.request(t, http.MethodPost, "/triggers", CreateTriggerRequest{
		OrganizationID: "org-1",
		WorkflowID:     "wf-1",
		Name:           "Invoice hook",
		Type:           models.TriggerTypeWebhook,
		Active:         true,
		Webhook: &models.WebhookConfig{
			Token:      "hook-token",
			AuthMode:   models.WebhookAuthBearer,
			AuthSecret: "secret",
		},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	created := decode[models.Trigger](t, resp)
	assert.NotEmpty(t, created.ID)

	stored, err := h.store.TriggerRepository().GetByWebhookToken(t.Context(), "hook-token")
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)
}

func TestCreateTrigger_ScheduleCreatesRuntimeRow(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("work"))

	resp := h.request(t, http.MethodPost, "/triggers", CreateTriggerRequest{
		OrganizationID: "org-1",
		WorkflowID:     "wf-1",
		Name:           "Nightly sync",
		Type:           models.TriggerTypeSchedule,
		Active:         true,
		Schedule:       &models.ScheduleConfig{CronExpression: "0 2 * * *"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	created := decode[models.Trigger](t, resp)

	schedule, err := h.store.ScheduleRepository().GetByTriggerID(t.Context(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, schedule)
	assert.False(t, schedule.NextRunAt.IsZero())
}

func TestCreateTrigger_RejectsVariantMismatch(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("work"))

	// Declared type schedule but carries webhook configuration.
	resp := h.request(t, http.MethodPost, "/triggers", CreateTriggerRequest{
		OrganizationID: "org-1",
		WorkflowID:     "wf-1",
		Name:           "Broken trigger",
		Type:           models.TriggerTypeSchedule,
		Webhook:        &models.WebhookConfig{Token: "tok", AuthMode: models.WebhookAuthNone},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateTrigger_UnknownWorkflow(t *testing.T) {
	h := setupAPI(t)

	resp := h.request(t, http.MethodPost, "/triggers", CreateTriggerRequest{
		OrganizationID: "org-1",
		WorkflowID:     "missing",
		Name:           "Orphan",
		Type:           models.TriggerTypeManual,
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestUpdateTrigger_Deactivates(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("work"))

	trigger := &models.Trigger{
		ID:             "trg-1",
		OrganizationID: "org-1",
		WorkflowID:     "wf-1",
		Name:           "Manual run",
		Type:           models.TriggerTypeManual,
		Active:         true,
	}
	require.NoError(t, h.store.TriggerRepository().Save(t.Context(), trigger))

	active := false
	resp := h.request(t, http.MethodPatch, "/triggers/trg-1", UpdateTriggerRequest{Active: &active})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	stored, err := h.store.TriggerRepository().GetByID(t.Context(), "trg-1")
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestTestTrigger_Preview(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("work"))

	trigger := &models.Trigger{
		ID:             "trg-1",
		OrganizationID: "org-1",
		WorkflowID:     "wf-1",
		Name:           "Manual run",
		Type:           models.TriggerTypeManual,
		Active:         true,
	}
	require.NoError(t, h.store.TriggerRepository().Save(t.Context(), trigger))

	resp := h.request(t, http.MethodPost, "/triggers/trg-1/test", TestTriggerRequest{
		SampleInput: map[string]any{"invoice_id": "inv-1"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	preview, ok := body["preview"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wf-1", preview["workflow_id"])
}

func TestExecuteAndStatus(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("fetch"), step("report", "fetch"))

	resp := h.request(t, http.MethodPost, "/workflows/wf-1/execute", ExecuteRequest{
		Input: map[string]any{"source": "api"},
	})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	executionID := body["execution_id"]
	require.NotEmpty(t, executionID)

	statusResp := h.request(t, http.MethodGet, "/executions/"+executionID, nil)
	require.Equal(t, fiber.StatusOK, statusResp.StatusCode)

	status := decode[engine.Status](t, statusResp)
	assert.Equal(t, models.ExecutionStatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Len(t, status.Steps, 2)
}

func TestExecute_UnknownWorkflow(t *testing.T) {
	h := setupAPI(t)

	resp := h.request(t, http.MethodPost, "/workflows/missing/execute", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCancelExecution_Finished(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("work"))

	executionID, err := h.engine.Execute(t.Context(), "wf-1", nil, engine.Options{})
	require.NoError(t, err)

	resp := h.request(t, http.MethodPost, "/executions/"+executionID+"/cancel", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestDeadLetterListAndSkip(t *testing.T) {
	h := setupAPI(t)
	h.saveWorkflow(t, "wf-1", step("lookup"), step("fail", "lookup"))

	executionID, err := h.engine.Execute(t.Context(), "wf-1", nil, engine.Options{})
	require.NoError(t, err)

	listResp := h.request(t, http.MethodGet, "/dead-letters?workflow_id=wf-1", nil)
	require.Equal(t, fiber.StatusOK, listResp.StatusCode)

	list := decode[struct {
		Entries []models.DeadLetterEntry `json:"entries"`
		Count   int                      `json:"count"`
	}](t, listResp)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, executionID, list.Entries[0].ExecutionID)

	processResp := h.request(t, http.MethodPost, "/dead-letters/"+list.Entries[0].ID+"/process", ProcessDeadLetterRequest{
		Action: models.DeadLetterActionSkip,
		Note:   "known bad payload",
	})
	require.Equal(t, fiber.StatusOK, processResp.StatusCode)

	result := decode[deadletter.ProcessResult](t, processResp)
	assert.Equal(t, models.DeadLetterStatusSkipped, result.Entry.Status)
}

func TestAlertRuleLifecycle(t *testing.T) {
	h := setupAPI(t)

	createResp := h.request(t, http.MethodPost, "/alert-rules", CreateAlertRuleRequest{
		Name:      "Any failure",
		Condition: models.AlertConditionExecutionFailed,
		Severity:  models.AlertSeverityCritical,
		Enabled:   true,
	})
	require.Equal(t, fiber.StatusCreated, createResp.StatusCode)

	rule := decode[models.AlertRule](t, createResp)
	require.NotEmpty(t, rule.ID)

	// A failed execution fires the rule through the monitor.
	require.NoError(t, h.monitor.HandleEvent(t.Context(), &events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, "wf-1"),
		ExecutionID: "exec-1",
		Error:       "boom",
	}))

	alertsResp := h.request(t, http.MethodGet, "/alerts", nil)
	require.Equal(t, fiber.StatusOK, alertsResp.StatusCode)

	alerts := decode[struct {
		Alerts []models.AlertEvent `json:"alerts"`
	}](t, alertsResp)
	require.Len(t, alerts.Alerts, 1)

	ackResp := h.request(t, http.MethodPost, "/alerts/"+alerts.Alerts[0].ID+"/acknowledge", AcknowledgeAlertRequest{
		AcknowledgedBy: "oncall@ledgerflow.io",
	})
	require.Equal(t, fiber.StatusOK, ackResp.StatusCode)

	resolveResp := h.request(t, http.MethodPost, "/alerts/"+alerts.Alerts[0].ID+"/resolve", nil)
	require.Equal(t, fiber.StatusOK, resolveResp.StatusCode)

	resolved := decode[models.AlertEvent](t, resolveResp)
	assert.Equal(t, models.AlertEventStatusResolved, resolved.Status)

	// Acknowledging after resolution conflicts.
	conflictResp := h.request(t, http.MethodPost, "/alerts/"+alerts.Alerts[0].ID+"/acknowledge", AcknowledgeAlertRequest{
		AcknowledgedBy: "someone",
	})
	assert.Equal(t, fiber.StatusConflict, conflictResp.StatusCode)

	deleteResp := h.request(t, http.MethodDelete, "/alert-rules/"+rule.ID, nil)
	assert.Equal(t, fiber.StatusNoContent, deleteResp.StatusCode)
}

func TestCreateAlertRule_RejectsUnknownCondition(t *testing.T) {
	h := setupAPI(t)

	resp := h.request(t, http.MethodPost, "/alert-rules", CreateAlertRuleRequest{
		Name:      "Bad rule",
		Condition: "full_moon",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	h := setupAPI(t)

	resp := h.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestWebhookLogListAndReplay(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())

	dispatched := 0
	callback := func(ctx context.Context, request protocol.ExecutionRequest) (string, error) {
		dispatched++

		return "exec-replay", nil
	}

	gateway := triggers.NewGateway(logger, store, callback)
	handlers := NewAPIHandlers(logger, store, validator.New(), nil, nil, gateway, nil, nil)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	h := &apiHarness{app: app, store: store}
	h.saveWorkflow(t, "wf-1", step("only"))

	require.NoError(t, store.TriggerRepository().Save(t.Context(), &models.Trigger{
		ID:         "trg-wh",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeWebhook,
		Active:     true,
		Webhook:    &models.WebhookConfig{Token: "tok-1", AuthMode: models.WebhookAuthNone},
	}))
	require.NoError(t, store.WebhookLogRepository().Save(t.Context(), &models.WebhookRequestLog{
		ID:        "log-1",
		TriggerID: "trg-wh",
		Token:     "tok-1",
		Method:    http.MethodPost,
		Body:      []byte(`{"invoice_id": "inv-1"}`),
		Accepted:  true,
	}))

	listResp := h.request(t, http.MethodGet, "/triggers/trg-wh/webhook-logs", nil)
	assert.Equal(t, fiber.StatusOK, listResp.StatusCode)

	list := decode[struct {
		Count int `json:"count"`
	}](t, listResp)
	assert.Equal(t, 1, list.Count)

	replayResp := h.request(t, http.MethodPost, "/webhook-logs/log-1/replay", nil)
	assert.Equal(t, fiber.StatusAccepted, replayResp.StatusCode)

	replay := decode[map[string]any](t, replayResp)
	assert.Equal(t, "exec-replay", replay["execution_id"])
	assert.Equal(t, 1, dispatched)

	missingResp := h.request(t, http.MethodPost, "/webhook-logs/log-missing/replay", nil)
	assert.Equal(t, fiber.StatusNotFound, missingResp.StatusCode)
}
