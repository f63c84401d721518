package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AssignmentHandler exposes manual and automatic ticket assignment.
type AssignmentHandler struct {
	assignments *service.AssignmentService
}

// NewAssignmentHandler constructs handler.
func NewAssignmentHandler(assignmentService *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignmentService}
}

// SelfAssign POST /staff/tickets/:id/assign/self.
func (h *AssignmentHandler) SelfAssign(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.assignments.SelfAssignTicket(c.UserContext(), staff, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// AssignStaff POST /staff/tickets/:id/assign.
func (h *AssignmentHandler) AssignStaff(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignStaffRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.StaffID) == "" {
		return apperrors.NewValidationError("staff_id required", nil)
	}
	ticket, err := h.assignments.AssignTicketToStaff(c.UserContext(), staff, c.Params("id"), req.StaffID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// AssignTeam POST /staff/tickets/:id/team.
func (h *AssignmentHandler) AssignTeam(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignTeamRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.TeamID) == "" {
		return apperrors.NewValidationError("team_id required", nil)
	}
	ticket, err := h.assignments.AssignTicketToTeam(c.UserContext(), staff, c.Params("id"), req.TeamID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// AutoAssign POST /staff/tickets/:id/auto-assign.
func (h *AssignmentHandler) AutoAssign(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.assignments.AutoAssignTicket(c.UserContext(), staff, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// AutoAssignBatch POST /staff/tickets/auto-assign.
func (h *AssignmentHandler) AutoAssignBatch(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AutoAssignBatchRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	if req.Limit < 0 {
		return apperrors.NewValidationError("limit must not be negative", nil)
	}
	result, err := h.assignments.AutoAssignUnassigned(c.UserContext(), staff, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": batchResponse(result)})
}

// ListWorkloads GET /staff/workloads.
func (h *AssignmentHandler) ListWorkloads(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	workloads, err := h.assignments.ListWorkloads(c.UserContext(), staff, optionalQuery(c, "team_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": workloadResponses(workloads)})
}
