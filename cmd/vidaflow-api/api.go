// Package main provides the VidaFlow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/vidaflow/vidaflow/pkg/conditions"
	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/expr"
	"github.com/vidaflow/vidaflow/pkg/flow"
	"github.com/vidaflow/vidaflow/pkg/notification"
	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/scheduler"
	"github.com/vidaflow/vidaflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	dispatcher  notification.Dispatcher
	instanceID  string
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	dispatcher notification.Dispatcher,
	instanceID string,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		dispatcher:  dispatcher,
		instanceID:  instanceID,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	linearizer := flow.NewLinearizer(conditions.NewEvaluator(a.logger), a.logger)
	executions := execution.NewService(a.persistence, linearizer, expr.NewEvaluator(a.logger), nil, a.eventBus, a.logger)
	processor := scheduler.NewProcessor(a.persistence, executions, a.dispatcher, a.eventBus, a.instanceID, a.logger)

	handlers := web.NewAPIHandlers(executions, processor, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("VidaFlow API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.SaveFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Delete("/:id", handlers.DeleteFlow)

	e := app.Group("/executions")
	e.Post("/", handlers.AssignFlow)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/steps", handlers.CompleteStep)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)
	e.Post("/:id/fail", handlers.FailExecution)

	app.Get("/patients/:patientId/executions", handlers.GetPatientExecutions)

	app.Post("/admin/delay-tasks/process", handlers.ProcessDelayTasks)

	s := app.Group("/schedules")
	s.Post("/", handlers.CreateSchedule)
	s.Delete("/:id", handlers.DeleteSchedule)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
