package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/ledgerflow/conductor/pkg/deadletter"
	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/monitor"
	"github.com/ledgerflow/conductor/pkg/persistence"
	"github.com/ledgerflow/conductor/pkg/triggers"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleCoreError maps known store and core errors onto problem responses and
// keeps everything else opaque.
func handleCoreError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsTriggerNotFound(err):
		return notFound(c, "trigger not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case persistence.IsDeadLetterNotFound(err):
		return notFound(c, "dead letter entry not found")

	case errors.Is(err, persistence.ErrWebhookLogNotFound):
		return notFound(c, "webhook request log not found")

	case errors.Is(err, triggers.ErrTriggerInactive):
		return conflict(c, "trigger is not active")

	case errors.Is(err, persistence.ErrAlertRuleNotFound):
		return notFound(c, "alert rule not found")

	case errors.Is(err, persistence.ErrAlertEventNotFound):
		return notFound(c, "alert event not found")

	case errors.Is(err, engine.ErrWorkflowNotExecutable):
		return conflict(c, "workflow is not executable")

	case errors.Is(err, engine.ErrExecutionFinished):
		return conflict(c, "execution already finished")

	case errors.Is(err, deadletter.ErrEntryNotActionable):
		return conflict(c, "dead letter entry is not actionable")

	case errors.Is(err, deadletter.ErrUnknownAction):
		return badRequest(c, "unknown dead letter action")

	case errors.Is(err, monitor.ErrAlertResolved):
		return conflict(c, "alert event already resolved")

	default:
		return internalError(c, err)
	}
}
