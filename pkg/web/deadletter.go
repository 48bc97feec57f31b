package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/ledgerflow/conductor/pkg/deadletter"
)

// ListDeadLetters returns actionable entries, optionally scoped to one
// workflow via the workflow_id query parameter.
func (h *APIHandlers) ListDeadLetters(c fiber.Ctx) error {
	entries, err := h.persistence.DeadLetterRepository().ListActive(c.Context(), c.Query("workflow_id"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

// ProcessDeadLetter applies a manual action: retry, retry_modified, skip or
// resolve. Retry runs synchronously and reports the new execution id.
func (h *APIHandlers) ProcessDeadLetter(c fiber.Ctx) error {
	var req ProcessDeadLetterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.deadLetters.Process(c.Context(), c.Params("id"), deadletter.ProcessRequest{
		Action:        req.Action,
		ModifiedInput: req.ModifiedInput,
		Note:          req.Note,
	})
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(result)
}
