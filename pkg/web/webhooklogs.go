package web

import (
	"github.com/gofiber/fiber/v3"
)

// ListWebhookLogs returns the intake audit log for one webhook trigger.
func (h *APIHandlers) ListWebhookLogs(c fiber.Ctx) error {
	logs, err := h.persistence.WebhookLogRepository().ListByTrigger(c.Context(), c.Params("id"), defaultExecutionListLimit)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs, "count": len(logs)})
}

// ReplayWebhook re-dispatches a logged webhook request through the gateway.
func (h *APIHandlers) ReplayWebhook(c fiber.Ctx) error {
	if h.gateway == nil {
		return conflict(c, "webhook intake is not enabled")
	}

	executionID, err := h.gateway.Replay(c.Context(), c.Params("id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"execution_id": executionID})
}
