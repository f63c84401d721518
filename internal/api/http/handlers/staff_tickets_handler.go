package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// StaffTicketsHandler handles staff ticket read, message and workflow endpoints.
type StaffTicketsHandler struct {
	tickets  *service.TicketService
	workflow *service.WorkflowService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(ticketService *service.TicketService, workflowService *service.WorkflowService) *StaffTicketsHandler {
	return &StaffTicketsHandler{tickets: ticketService, workflow: workflowService}
}

// ListStaffTickets GET /staff/tickets.
func (h *StaffTicketsHandler) ListStaffTickets(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	filter, err := parseStaffTicketFilter(c, staff)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListStaffTickets(c.UserContext(), staff, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummaries(tickets)})
}

// GetStaffTicket GET /staff/tickets/:id.
func (h *StaffTicketsHandler) GetStaffTicket(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	view, err := h.tickets.GetTicketForStaff(c.UserContext(), staff, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(view)})
}

// AddStaffMessage POST /staff/tickets/:id/messages.
func (h *StaffTicketsHandler) AddStaffMessage(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Body) == "" {
		return apperrors.NewValidationError("body required", nil)
	}
	msgType := domain.MessageTypePublicReply
	if req.MessageType != nil {
		msgType = *req.MessageType
	}
	msg, err := h.tickets.AddStaffMessage(c.UserContext(), staff, c.Params("id"), service.MessageInput{
		ParentID:    req.ParentID,
		MessageType: msgType,
		Body:        req.Body,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketMessageResponse(msg)})
}

// UpdatePriority PATCH /staff/tickets/:id/priority.
func (h *StaffTicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.UpdatePriority(c.UserContext(), staff, c.Params("id"), req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListHistory GET /staff/tickets/:id/history.
func (h *StaffTicketsHandler) ListHistory(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	history, err := h.tickets.ListHistoryForStaff(c.UserContext(), staff, c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(history)})
}

// ValidateStatus POST /staff/tickets/:id/status/validate. It reports the
// verdict for the requested transition without applying it.
func (h *StaffTicketsHandler) ValidateStatus(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StatusChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	result, err := h.workflow.PreviewTransition(c.UserContext(), staff, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": transitionResult(result)})
}

// UpdateStatus PATCH /staff/tickets/:id/status.
func (h *StaffTicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StatusChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	change, err := h.workflow.UpdateStatus(c.UserContext(), staff, c.Params("id"), req.Status, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": statusChangeResponse(change)})
}

func parseStaffTicketFilter(c *fiber.Ctx, staff *domain.StaffMember) (service.TicketStaffFilter, error) {
	filter := service.TicketStaffFilter{
		TeamID:     optionalQuery(c, "team_id"),
		AssigneeID: optionalQuery(c, "assignee_staff_id"),
		SearchTerm: optionalQuery(c, "search"),
	}
	switch c.Query("assigned") {
	case "me":
		filter.AssigneeID = &staff.ID
	case "none":
		filter.Unassigned = true
	}
	if raw := c.Query("status"); raw != "" {
		filter.Statuses = parseStatuses(raw)
	}
	if raw := c.Query("priority"); raw != "" {
		priorities, err := parsePriorities(raw)
		if err != nil {
			return filter, err
		}
		filter.Priorities = priorities
	}
	var err error
	if filter.CreatedFrom, err = parseTime(c, "created_from"); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = parseTime(c, "created_to"); err != nil {
		return filter, err
	}
	filter.Limit, filter.Offset = pagination(c)
	return filter, nil
}
