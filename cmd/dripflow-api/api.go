// Package main provides the Dripflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/dripflow/dripflow/pkg/services"
	"github.com/dripflow/dripflow/pkg/subscriber"
	"github.com/dripflow/dripflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	jobQueue    queue.Queue
	subscribers subscriber.Provider
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	jobQueue queue.Queue,
	subscribers subscriber.Provider,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		jobQueue:    jobQueue,
		subscribers: subscribers,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	automationService := services.NewAutomation(a.persistence, a.eventBus, a.logger)
	enrollmentService := services.NewEnrollment(a.persistence, a.jobQueue, a.subscribers, a.eventBus, a.logger)
	analyticsService := services.NewAnalytics(a.persistence)

	handlers := web.NewAPIHandlers(automationService, enrollmentService, analyticsService, a.jobQueue, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Dripflow API")
	})

	au := app.Group("/automations")
	au.Get("/", handlers.GetAutomations)
	au.Post("/", handlers.CreateAutomation)
	au.Get("/:id", handlers.GetAutomation)
	au.Patch("/:id", handlers.UpdateAutomation)
	au.Delete("/:id", handlers.DeleteAutomation)
	au.Post("/:id/activate", handlers.ActivateAutomation)
	au.Post("/:id/pause", handlers.PauseAutomation)
	au.Post("/:id/archive", handlers.ArchiveAutomation)
	au.Post("/:id/enrollments", handlers.CreateEnrollment)
	au.Get("/:id/executions", handlers.GetAutomationExecutions)
	au.Get("/:id/stats", handlers.GetAutomationStats)

	ex := app.Group("/executions")
	ex.Get("/:id", handlers.GetExecution)
	ex.Get("/:id/history", handlers.GetExecutionHistory)

	app.Get("/queue/metrics", handlers.GetQueueMetrics)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
