package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health       *handlers.HealthHandler
	Auth         *handlers.AuthHandler
	Tickets      *handlers.TicketsHandler
	StaffTickets *handlers.StaffTicketsHandler
	Assignments  *handlers.AssignmentHandler
	Directory    *handlers.DirectoryHandler
	// Authenticate loads the caller; in production it is AuthMiddleware.Handle.
	Authenticate fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/users/login", cfg.Auth.LoginUser)
	authGroup.Post("/staff/login", cfg.Auth.LoginStaff)

	tickets := app.Group("/tickets", cfg.Authenticate, auth.RequireUser())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Post("/:id/reopen", cfg.Tickets.ReopenTicket)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)

	staff := app.Group("/staff", cfg.Authenticate, auth.RequireStaffRole())
	leads := auth.RequireStaffRole(domain.StaffRoleTeamLead, domain.StaffRoleAdmin)

	staff.Get("/tickets", cfg.StaffTickets.ListStaffTickets)
	staff.Post("/tickets/auto-assign", leads, cfg.Assignments.AutoAssignBatch)
	staff.Get("/tickets/:id", cfg.StaffTickets.GetStaffTicket)
	staff.Post("/tickets/:id/messages", cfg.StaffTickets.AddStaffMessage)
	staff.Patch("/tickets/:id/priority", cfg.StaffTickets.UpdatePriority)
	staff.Get("/tickets/:id/history", cfg.StaffTickets.ListHistory)
	staff.Patch("/tickets/:id/status", cfg.StaffTickets.UpdateStatus)
	staff.Post("/tickets/:id/status/validate", cfg.StaffTickets.ValidateStatus)

	staff.Post("/tickets/:id/assign/self", cfg.Assignments.SelfAssign)
	staff.Post("/tickets/:id/assign", leads, cfg.Assignments.AssignStaff)
	staff.Post("/tickets/:id/team", leads, cfg.Assignments.AssignTeam)
	staff.Post("/tickets/:id/auto-assign", leads, cfg.Assignments.AutoAssign)
	staff.Get("/workloads", cfg.Assignments.ListWorkloads)

	staff.Get("/teams", cfg.Directory.ListTeams)
	staff.Get("/members", cfg.Directory.ListStaff)
}
