package web

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/protocol"
)

const defaultExecutionListLimit = 50

// Execute starts a workflow directly. With a dispatcher configured the run is
// queued or backgrounded; the execution id returns as soon as it is durable.
func (h *APIHandlers) Execute(c fiber.Ctx) error {
	workflowID := c.Params("id")

	var req ExecuteRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	var (
		executionID string
		err         error
	)

	if h.dispatcher != nil {
		executionID, err = h.dispatcher.Dispatch(c.Context(), protocol.ExecutionRequest{
			WorkflowID:  workflowID,
			TriggerType: string(models.TriggerTypeManual),
			Input:       req.Input,
			Priority:    req.Priority,
			RequestedAt: time.Now().UTC(),
		})
	} else {
		executionID, err = h.engine.Execute(c.Context(), workflowID, req.Input, engine.Options{
			TriggerType: string(models.TriggerTypeManual),
			Priority:    req.Priority,
			Variables:   req.Variables,
		})
	}

	if err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"execution_id": executionID})
}

func (h *APIHandlers) ExecutionStatus(c fiber.Ctx) error {
	status, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.engine.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"cancelled": true})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit := defaultExecutionListLimit

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "count": len(executions)})
}

// Compensate runs registered compensating actions for an execution's
// completed steps in reverse completion order.
func (h *APIHandlers) Compensate(c fiber.Ctx) error {
	results, err := h.deadLetters.Compensate(c.Context(), c.Params("id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"results": results})
}

// StreamEvents pushes live monitor updates as server-sent events, filtered by
// workflow_id / execution_id query parameters.
func (h *APIHandlers) StreamEvents(c fiber.Ctx) error {
	if h.monitor == nil {
		return notFound(c, "live updates are not enabled")
	}

	updates, cancel := h.monitor.Subscribe(monitorFilter(c))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	return c.SendStreamWriter(newEventStream(updates, cancel))
}
