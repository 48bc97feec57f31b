// Package web provides the HTTP management API for the execution core.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/ledgerflow/conductor/pkg/deadletter"
	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/monitor"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/triggers"
)

type APIHandlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	validator   *validator.Validate
	engine      *engine.Engine
	dispatcher  *triggers.Dispatcher
	evaluator   *triggers.Evaluator
	gateway     *triggers.Gateway
	deadLetters *deadletter.Service
	monitor     *monitor.Monitor
}

func NewAPIHandlers(
	logger *slog.Logger,
	p persistence.Persistence,
	validate *validator.Validate,
	eng *engine.Engine,
	dispatcher *triggers.Dispatcher,
	gateway *triggers.Gateway,
	deadLetters *deadletter.Service,
	mon *monitor.Monitor,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "web"),
		persistence: p,
		validator:   validate,
		engine:      eng,
		dispatcher:  dispatcher,
		evaluator:   triggers.NewEvaluator(logger, p),
		gateway:     gateway,
		deadLetters: deadLetters,
		monitor:     mon,
	}
}

// RegisterRoutes mounts the management API and the webhook intake.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/triggers", h.CreateTrigger)
	app.Get("/triggers/:id", h.GetTrigger)
	app.Patch("/triggers/:id", h.UpdateTrigger)
	app.Delete("/triggers/:id", h.DeleteTrigger)
	app.Post("/triggers/:id/test", h.TestTrigger)
	app.Get("/triggers/:id/webhook-logs", h.ListWebhookLogs)
	app.Post("/webhook-logs/:id/replay", h.ReplayWebhook)

	app.Post("/workflows/:id/execute", h.Execute)
	app.Get("/workflows/:id/executions", h.ListExecutions)
	app.Get("/executions/:id", h.ExecutionStatus)
	app.Post("/executions/:id/cancel", h.CancelExecution)
	app.Post("/executions/:id/compensate", h.Compensate)

	app.Get("/dead-letters", h.ListDeadLetters)
	app.Post("/dead-letters/:id/process", h.ProcessDeadLetter)

	app.Post("/alert-rules", h.CreateAlertRule)
	app.Get("/alert-rules", h.ListAlertRules)
	app.Delete("/alert-rules/:id", h.DeleteAlertRule)
	app.Get("/alerts", h.ListAlertEvents)
	app.Post("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	app.Post("/alerts/:id/resolve", h.ResolveAlert)

	app.Get("/events/stream", h.StreamEvents)

	if h.gateway != nil {
		h.gateway.Register(app)
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	storeStatus := "ok"

	if storeErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		storeStatus = storeErr.Error()
	}

	body := fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": storeStatus,
		},
		"timestamp": time.Now().UTC(),
	}

	if h.monitor != nil {
		body["queue"] = h.monitor.QueueStats()
	}

	return c.Status(httpStatus).JSON(body)
}
