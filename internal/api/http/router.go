package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/student-support/internal/api/http/handlers"
	"github.com/spec-kit/student-support/internal/auth"
	"github.com/spec-kit/student-support/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Threads        *handlers.ThreadsHandler
	Departments    *handlers.DepartmentsHandler
	Realtime       *handlers.RealtimeHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	if cfg.Realtime != nil {
		app.Get("/ws", cfg.AuthMiddleware.Handle, cfg.Realtime.Upgrade, cfg.Realtime.Serve())
	}

	threads := app.Group("/threads", cfg.AuthMiddleware.Handle)
	threads.Post("/", cfg.Threads.CreateThread)
	threads.Get("/", cfg.Threads.ListThreads)
	threads.Get("/:id", cfg.Threads.GetThread)
	threads.Patch("/:id", cfg.Threads.UpdateThread)
	threads.Get("/:id/messages", cfg.Threads.ListMessages)
	threads.Post("/:id/messages", cfg.Threads.PostMessage)
	threads.Post("/:id/assign", cfg.Threads.AssignThread)
	threads.Post("/:id/escalate", cfg.Threads.EscalateThread)
	threads.Post("/:id/resolve", cfg.Threads.ResolveThread)

	app.Get("/statistics", cfg.AuthMiddleware.Handle, cfg.Threads.Statistics)

	departments := app.Group("/departments", cfg.AuthMiddleware.Handle)
	departments.Get("/", cfg.Departments.ListDepartments)
	departments.Post("/", cfg.Departments.CreateDepartment)
	departments.Get("/:id", cfg.Departments.GetDepartment)
	departments.Patch("/:id", cfg.Departments.UpdateDepartment)
	departments.Delete("/:id", cfg.Departments.DeleteDepartment)
}
