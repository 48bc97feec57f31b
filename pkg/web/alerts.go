package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
)

func (h *APIHandlers) CreateAlertRule(c fiber.Ctx) error {
	var req CreateAlertRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	rule := req.toRule(uuid.New().String())

	if err := h.persistence.AlertRepository().SaveRule(c.Context(), rule); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (h *APIHandlers) ListAlertRules(c fiber.Ctx) error {
	rules, err := h.persistence.AlertRepository().Rules(c.Context())
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"rules": rules, "count": len(rules)})
}

func (h *APIHandlers) DeleteAlertRule(c fiber.Ctx) error {
	if err := h.persistence.AlertRepository().DeleteRule(c.Context(), c.Params("id")); err != nil {
		return handleCoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListAlertEvents returns fired alerts, defaulting to the ones still firing.
func (h *APIHandlers) ListAlertEvents(c fiber.Ctx) error {
	status := models.AlertEventStatus(c.Query("status", string(models.AlertEventStatusFiring)))

	events, err := h.persistence.AlertRepository().ListEvents(c.Context(), status, defaultExecutionListLimit)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"alerts": events, "count": len(events)})
}

func (h *APIHandlers) AcknowledgeAlert(c fiber.Ctx) error {
	var req AcknowledgeAlertRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.monitor.Acknowledge(c.Context(), c.Params("id"), req.AcknowledgedBy)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(event)
}

func (h *APIHandlers) ResolveAlert(c fiber.Ctx) error {
	event, err := h.monitor.Resolve(c.Context(), c.Params("id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(event)
}
