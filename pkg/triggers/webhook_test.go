package triggers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence/file"
)

func webhookApp(t *testing.T, p *file.Persistence, callback *captureCallback) (*fiber.App, *Gateway) {
	t.Helper()

	gateway := NewGateway(discardLogger(), p, callback.fn())

	app := fiber.New()
	gateway.Register(app)

	return app, gateway
}

func saveWebhookTrigger(t *testing.T, p *file.Persistence, cfg *models.WebhookConfig) *models.Trigger {
	t.Helper()

	trigger := &models.Trigger{
		ID:         "trg-hook",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeWebhook,
		Active:     true,
		Webhook:    cfg,
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	return trigger
}

func postWebhook(t *testing.T, app *fiber.App, token, body string, decorate func(*http.Request)) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+token, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	if decorate != nil {
		decorate(req)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func TestGateway_AcceptsAuthorizedRequest(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	trigger := saveWebhookTrigger(t, p, &models.WebhookConfig{
		Token:      "tok-1",
		AuthMode:   models.WebhookAuthAPIKey,
		AuthSecret: "s3cret",
	})

	callback := &captureCallback{}
	app, _ := webhookApp(t, p, callback)

	resp := postWebhook(t, app, "tok-1", `{"invoice_id":"inv-7"}`, func(req *http.Request) {
		req.Header.Set("X-API-Key", "s3cret")
	})
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var body struct {
		Accepted    bool   `json:"accepted"`
		ExecutionID string `json:"execution_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Accepted)
	assert.Equal(t, "exec-1", body.ExecutionID)

	require.Equal(t, 1, callback.count())
	assert.Equal(t, "inv-7", callback.last().Input["invoice_id"])

	logs, err := p.WebhookLogRepository().ListByTrigger(t.Context(), trigger.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Accepted)
	assert.Equal(t, "exec-1", logs[0].ExecutionID)
	assert.Equal(t, "[redacted]", logs[0].Headers["X-Api-Key"])
}

func TestGateway_RejectsBadCredentials(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	trigger := saveWebhookTrigger(t, p, &models.WebhookConfig{
		Token:      "tok-2",
		AuthMode:   models.WebhookAuthBearer,
		AuthSecret: "expected-token",
	})

	callback := &captureCallback{}
	app, _ := webhookApp(t, p, callback)

	resp := postWebhook(t, app, "tok-2", `{}`, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer wrong-token")
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, callback.count())

	// Rejections are logged too, for audit.
	logs, err := p.WebhookLogRepository().ListByTrigger(t.Context(), trigger.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Accepted)
	assert.NotEmpty(t, logs[0].ErrorNote)
}

func TestGateway_UnknownTokenReturnsNotFound(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	callback := &captureCallback{}
	app, _ := webhookApp(t, p, callback)

	resp := postWebhook(t, app, "no-such-token", `{}`, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Zero(t, callback.count())
}

func TestGateway_RejectsMalformedBody(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveWebhookTrigger(t, p, &models.WebhookConfig{Token: "tok-3", AuthMode: models.WebhookAuthNone})

	callback := &captureCallback{}
	app, _ := webhookApp(t, p, callback)

	resp := postWebhook(t, app, "tok-3", `{not json`, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, callback.count())
}

func TestGateway_EmptyBodyIsAccepted(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveWebhookTrigger(t, p, &models.WebhookConfig{Token: "tok-4", AuthMode: models.WebhookAuthNone})

	callback := &captureCallback{}
	app, _ := webhookApp(t, p, callback)

	resp := postWebhook(t, app, "tok-4", "", nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, callback.count())
	assert.Empty(t, callback.last().Input)
}

func TestGateway_ReplayRedispatchesStoredBody(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	trigger := saveWebhookTrigger(t, p, &models.WebhookConfig{Token: "tok-5", AuthMode: models.WebhookAuthNone})

	callback := &captureCallback{}
	app, gateway := webhookApp(t, p, callback)

	resp := postWebhook(t, app, "tok-5", `{"invoice_id":"inv-9"}`, nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, callback.count())

	logs, err := p.WebhookLogRepository().ListByTrigger(t.Context(), trigger.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	executionID, err := gateway.Replay(t.Context(), logs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "exec-2", executionID)

	require.Equal(t, 2, callback.count())
	assert.Equal(t, "inv-9", callback.last().Input["invoice_id"])
}

func TestIPAllowed(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		allowed []string
		want    bool
	}{
		{name: "empty list allows all", source: "203.0.113.9", allowed: nil, want: true},
		{name: "exact match", source: "203.0.113.9", allowed: []string{"203.0.113.9"}, want: true},
		{name: "cidr match", source: "10.1.2.3", allowed: []string{"10.0.0.0/8"}, want: true},
		{name: "no match", source: "198.51.100.1", allowed: []string{"10.0.0.0/8", "203.0.113.9"}, want: false},
		{name: "unparseable source denied", source: "not-an-ip", allowed: []string{"10.0.0.0/8"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ipAllowed(tt.source, tt.allowed))
		})
	}
}
