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

// TicketsHandler manages end-user ticket endpoints.
type TicketsHandler struct {
	tickets  *service.TicketService
	workflow *service.WorkflowService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, workflowService *service.WorkflowService) *TicketsHandler {
	return &TicketsHandler{tickets: ticketService, workflow: workflowService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), user, service.TicketCreateInput{
		TeamID:      req.TeamID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Tags:        req.Tags,
		DueAt:       req.DueAt,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
	if err != nil {
		return err
	}
	filter, err := parseUserTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListUserTickets(c.UserContext(), user, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummaries(tickets)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
	if err != nil {
		return err
	}
	view, err := h.tickets.GetTicketForUser(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(view)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
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
	if req.MessageType != nil && *req.MessageType != domain.MessageTypePublicReply {
		return apperrors.NewValidationError("customers may only post public replies", nil)
	}
	msg, err := h.tickets.AddUserMessage(c.UserContext(), user, c.Params("id"), service.MessageInput{
		ParentID:    req.ParentID,
		MessageType: domain.MessageTypePublicReply,
		Body:        req.Body,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketMessageResponse(msg)})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
	if err != nil {
		return err
	}
	change, err := h.workflow.CloseTicketAsUser(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": statusChangeResponse(change)})
}

// ReopenTicket POST /tickets/:id/reopen.
func (h *TicketsHandler) ReopenTicket(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
	if err != nil {
		return err
	}
	change, err := h.workflow.ReopenTicketAsUser(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": statusChangeResponse(change)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	user, err := userPrincipal(c)
	if err != nil {
		return err
	}
	history, err := h.tickets.ListHistoryForUser(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(history)})
}

func parseUserTicketQuery(c *fiber.Ctx) (service.TicketUserFilter, error) {
	filter := service.TicketUserFilter{}
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
