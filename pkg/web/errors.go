package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/persistence"
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

// handleExecutionError maps execution and persistence errors to problem
// responses: step-state violations are client errors, write races are
// conflicts and everything else stays opaque.
func handleExecutionError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow not found")

	case persistence.IsExecutionConflict(err):
		return conflict(c, "execution was modified concurrently, reload and retry")

	case errors.Is(err, execution.ErrExecutionFinished),
		errors.Is(err, execution.ErrExecutionPaused),
		errors.Is(err, execution.ErrNoCurrentStep),
		errors.Is(err, execution.ErrStepNotYetAvailable),
		errors.Is(err, execution.ErrStepMismatch),
		errors.Is(err, execution.ErrStepNotCompletable),
		errors.Is(err, execution.ErrInvalidTransition):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("step_state_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	default:
		return internalError(c, err)
	}
}
