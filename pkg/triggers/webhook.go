package triggers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/moogar0880/problems"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

// Gateway is the inbound webhook endpoint. Every request is recorded as a
// WebhookRequestLog whether it is accepted or rejected, for audit and replay.
type Gateway struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	evaluator   *Evaluator
	callback    protocol.ExecutionRequestCallback
}

func NewGateway(logger *slog.Logger, p persistence.Persistence, callback protocol.ExecutionRequestCallback) *Gateway {
	return &Gateway{
		logger:      logger.With("module", "webhook_gateway"),
		persistence: p,
		evaluator:   NewEvaluator(logger, p),
		callback:    callback,
	}
}

// Register mounts the gateway routes.
func (g *Gateway) Register(router fiber.Router) {
	router.Post("/webhooks/:token", g.handle)
}

func (g *Gateway) handle(c fiber.Ctx) error {
	token := c.Params("token")

	entry := &models.WebhookRequestLog{
		ID:         uuid.New().String(),
		Token:      token,
		Method:     c.Method(),
		Headers:    flattenHeaders(c.GetReqHeaders()),
		Query:      c.Queries(),
		Body:       append([]byte(nil), c.Body()...),
		SourceIP:   c.IP(),
		ReceivedAt: time.Now().UTC(),
	}

	trigger, err := g.persistence.TriggerRepository().GetByWebhookToken(c.Context(), token)
	if persistence.IsTriggerNotFound(err) {
		return g.reject(c, entry, fiber.StatusNotFound, "unknown_token", "no trigger matches this token")
	}

	if err != nil {
		return g.reject(c, entry, fiber.StatusInternalServerError, "internal_error", err.Error())
	}

	entry.TriggerID = trigger.ID

	if !trigger.Active {
		return g.reject(c, entry, fiber.StatusNotFound, "trigger_inactive", "trigger is not active")
	}

	cfg := trigger.Webhook

	if !ipAllowed(c.IP(), cfg.AllowedIPs) {
		return g.reject(c, entry, fiber.StatusForbidden, "ip_not_allowed", "source address is not on the allow list")
	}

	if !authorized(c, cfg) {
		return g.reject(c, entry, fiber.StatusUnauthorized, "unauthorized", "webhook authentication failed")
	}

	payload := map[string]any{}
	if len(entry.Body) > 0 {
		if err := json.Unmarshal(entry.Body, &payload); err != nil {
			return g.reject(c, entry, fiber.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		}
	}

	request, err := g.evaluator.Evaluate(c.Context(), Stimulus{
		Kind:      StimulusWebhook,
		TriggerID: trigger.ID,
		Payload:   payload,
	})
	if err != nil {
		return g.reject(c, entry, fiber.StatusInternalServerError, "internal_error", err.Error())
	}

	if request == nil {
		return g.reject(c, entry, fiber.StatusNotFound, "trigger_inactive", "trigger is not active")
	}

	executionID, err := g.callback(c.Context(), *request)
	if err != nil {
		return g.reject(c, entry, fiber.StatusInternalServerError, "dispatch_failed", err.Error())
	}

	entry.Accepted = true
	entry.ExecutionID = executionID
	g.saveLog(c.Context(), entry)

	g.logger.InfoContext(c.Context(), "Webhook accepted",
		"trigger_id", trigger.ID,
		"execution_id", executionID,
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":     true,
		"execution_id": executionID,
	})
}

// Replay re-dispatches a previously logged webhook request using its stored
// body. Authentication is not re-checked; the operator replaying it is
// already trusted.
func (g *Gateway) Replay(ctx context.Context, logID string) (string, error) {
	entry, err := g.persistence.WebhookLogRepository().GetByID(ctx, logID)
	if err != nil {
		return "", fmt.Errorf("failed to load webhook log: %w", err)
	}

	if entry.TriggerID == "" {
		return "", fmt.Errorf("webhook log %s matched no trigger", logID)
	}

	payload := map[string]any{}
	if len(entry.Body) > 0 {
		if err := json.Unmarshal(entry.Body, &payload); err != nil {
			return "", fmt.Errorf("stored body is not valid JSON: %w", err)
		}
	}

	request, err := g.evaluator.Evaluate(ctx, Stimulus{
		Kind:      StimulusWebhook,
		TriggerID: entry.TriggerID,
		Payload:   payload,
	})
	if err != nil {
		return "", err
	}

	if request == nil {
		return "", fmt.Errorf("%w: %s", ErrTriggerInactive, entry.TriggerID)
	}

	executionID, err := g.callback(ctx, *request)
	if err != nil {
		return "", fmt.Errorf("failed to dispatch replay: %w", err)
	}

	g.logger.InfoContext(ctx, "Webhook replayed", "log_id", logID, "execution_id", executionID)

	return executionID, nil
}

func (g *Gateway) reject(c fiber.Ctx, entry *models.WebhookRequestLog, status int, problemType, detail string) error {
	entry.ErrorNote = detail
	g.saveLog(c.Context(), entry)

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

func (g *Gateway) saveLog(ctx context.Context, entry *models.WebhookRequestLog) {
	if err := g.persistence.WebhookLogRepository().Save(ctx, entry); err != nil {
		g.logger.ErrorContext(ctx, "Failed to save webhook log", "token", entry.Token, "error", err)
	}
}

func authorized(c fiber.Ctx, cfg *models.WebhookConfig) bool {
	switch cfg.AuthMode {
	case models.WebhookAuthNone:
		return true
	case models.WebhookAuthBasic:
		expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret))

		return c.Get(fiber.HeaderAuthorization) == expected
	case models.WebhookAuthBearer:
		return c.Get(fiber.HeaderAuthorization) == "Bearer "+cfg.AuthSecret
	case models.WebhookAuthAPIKey:
		return c.Get("X-API-Key") == cfg.AuthSecret
	default:
		return false
	}
}

func ipAllowed(sourceIP string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	source := net.ParseIP(sourceIP)
	if source == nil {
		return false
	}

	for _, entry := range allowed {
		if ip := net.ParseIP(entry); ip != nil {
			if ip.Equal(source) {
				return true
			}

			continue
		}

		if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(source) {
			return true
		}
	}

	return false
}

// flattenHeaders keeps the first value per header and redacts credentials.
func flattenHeaders(headers map[string][]string) map[string]string {
	flat := make(map[string]string, len(headers))

	for key, values := range headers {
		if len(values) == 0 {
			continue
		}

		switch strings.ToLower(key) {
		case "authorization", "x-api-key":
			flat[key] = "[redacted]"
		default:
			flat[key] = values[0]
		}
	}

	return flat
}
