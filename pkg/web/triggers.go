package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ledgerflow/conductor/pkg/models"
)

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// The workflow must exist before a trigger can point at it.
	if _, err := h.persistence.WorkflowRepository().GetByID(c.Context(), req.WorkflowID); err != nil {
		return handleCoreError(c, err)
	}

	trigger := &models.Trigger{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		WorkflowID:     req.WorkflowID,
		Name:           req.Name,
		Type:           req.Type,
		Active:         req.Active,
		Schedule:       req.Schedule,
		Webhook:        req.Webhook,
		Event:          req.Event,
		Threshold:      req.Threshold,
		Deadline:       req.Deadline,
	}

	if err := trigger.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.TriggerRepository().Save(c.Context(), trigger); err != nil {
		return internalError(c, err)
	}

	if err := h.syncSchedule(c, trigger); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.persistence.TriggerRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) UpdateTrigger(c fiber.Ctx) error {
	trigger, err := h.persistence.TriggerRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	var req UpdateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Name != nil {
		trigger.Name = *req.Name
	}

	if req.Active != nil {
		trigger.Active = *req.Active
	}

	if req.Schedule != nil {
		trigger.Schedule = req.Schedule
	}

	if req.Webhook != nil {
		trigger.Webhook = req.Webhook
	}

	if req.Event != nil {
		trigger.Event = req.Event
	}

	if req.Threshold != nil {
		trigger.Threshold = req.Threshold
	}

	if req.Deadline != nil {
		trigger.Deadline = req.Deadline
	}

	if err := trigger.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.TriggerRepository().Save(c.Context(), trigger); err != nil {
		return internalError(c, err)
	}

	if err := h.syncSchedule(c, trigger); err != nil {
		return internalError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	// Delete cascades the trigger's schedule rows in the repository.
	if err := h.persistence.TriggerRepository().Delete(c.Context(), c.Params("id")); err != nil {
		return handleCoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TestTrigger previews the execution request the trigger would dispatch for
// the sample input, without running anything.
func (h *APIHandlers) TestTrigger(c fiber.Ctx) error {
	var req TestTriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	preview, err := h.evaluator.TestTrigger(c.Context(), c.Params("id"), req.SampleInput)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"preview": preview})
}

// syncSchedule keeps the runtime schedule row in step with the trigger's
// schedule configuration.
func (h *APIHandlers) syncSchedule(c fiber.Ctx, trigger *models.Trigger) error {
	if trigger.Type != models.TriggerTypeSchedule {
		return nil
	}

	existing, err := h.persistence.ScheduleRepository().GetByTriggerID(c.Context(), trigger.ID)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	if existing != nil {
		id = existing.ID
	}

	schedule, err := models.NewSchedule(id, trigger)
	if err != nil {
		return err
	}

	return h.persistence.ScheduleRepository().Save(c.Context(), schedule)
}
