package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Approvals      *handlers.ApprovalHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	// Approve/reject accept anonymous token-bearing callers: the emailed
	// link is the credential. The GET variants render a confirmation page.
	// Middleware is attached per route rather than on a /tickets group so
	// these stay reachable without a bearer token.
	app.Put("/tickets/:id/approve", cfg.AuthMiddleware.HandleOptional, cfg.Approvals.Approve)
	app.Put("/tickets/:id/reject", cfg.AuthMiddleware.HandleOptional, cfg.Approvals.Reject)
	app.Get("/tickets/:id/approve", cfg.AuthMiddleware.HandleOptional, cfg.Approvals.ApprovePage)
	app.Get("/tickets/:id/reject", cfg.AuthMiddleware.HandleOptional, cfg.Approvals.RejectPage)

	authed := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireActor()}
	app.Post("/tickets", append(authed, cfg.Tickets.CreateTicket)...)
	app.Get("/tickets", append(authed, cfg.Tickets.ListTickets)...)
	app.Get("/tickets/:id", append(authed, cfg.Tickets.GetTicket)...)
	app.Put("/tickets/:id/status", append(authed, cfg.Tickets.ChangeStatus)...)
	app.Put("/tickets/:id/assign", append(authed, cfg.Tickets.AssignTicket)...)
	app.Post("/tickets/:id/comments", append(authed, cfg.Tickets.AddComment)...)
}
