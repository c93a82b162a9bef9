package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/travel-workflow/internal/api/http/handlers"
	"github.com/spec-kit/travel-workflow/internal/auth"
	"github.com/spec-kit/travel-workflow/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health       *handlers.HealthHandler
	Transitions  *handlers.TransitionsHandler
	Availability *handlers.AvailabilityHandler
	Approvers    *handlers.ApproversHandler
	History      *handlers.HistoryHandler
	Actor        *auth.ActorMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("", cfg.Actor.Handle)

	api.Post("/requests/:id/transitions", cfg.Transitions.Transition)
	api.Get("/requests/:id/history", cfg.History.ByRequest)
	api.Get("/actors/:id/history", auth.RequireSelfOr("id", domain.RoleAdmin, domain.RoleHR), cfg.History.ByActor)

	api.Get("/availability", auth.RequireRole(domain.RoleAdmin), cfg.Availability.Check)
	api.Get("/approvers", auth.RequireRole(domain.ApproverRoles...), cfg.Approvers.List)
}
