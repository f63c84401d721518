package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/conversation"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/routing"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func userPrincipal(c *fiber.Ctx) (*domain.User, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	return principal.User, nil
}

func staffPrincipal(c *fiber.Ctx) (*domain.StaffMember, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || !principal.IsStaff() {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	return principal.Staff, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func parseStatuses(raw string) []domain.TicketStatus {
	var out []domain.TicketStatus
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, domain.TicketStatus(part))
		}
	}
	return out
}

func parsePriorities(raw string) ([]domain.TicketPriority, error) {
	var out []domain.TicketPriority
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		priority := domain.TicketPriority(part)
		if !priority.Valid() {
			return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": part})
		}
		out = append(out, priority)
	}
	return out, nil
}

func parseTime(c *fiber.Ctx, key string) (*time.Time, error) {
	val := c.Query(key)
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid timestamp", map[string]any{key: val})
	}
	return &t, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// pagination converts page/page_size query params into limit and offset.
func pagination(c *fiber.Ctx) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageSize, (page - 1) * pageSize
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:          ticket.ID,
		ExternalKey: ticket.ExternalKey,
		TeamID:      ticket.TeamID,
		AssigneeID:  ticket.AssigneeID,
		Title:       ticket.Title,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		Tags:        ticket.Tags,
		DueAt:       ticket.DueAt,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

func ticketSummaries(tickets []domain.Ticket) []dto.TicketSummary {
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return items
}

func ticketDetail(view *service.TicketView) dto.TicketDetailResponse {
	ticket := view.Ticket
	return dto.TicketDetailResponse{
		ID:              ticket.ID,
		ExternalKey:     ticket.ExternalKey,
		RequesterID:     ticket.RequesterID,
		TeamID:          ticket.TeamID,
		AssigneeID:      ticket.AssigneeID,
		Title:           ticket.Title,
		Description:     ticket.Description,
		Status:          ticket.Status,
		Priority:        ticket.Priority,
		Tags:            ticket.Tags,
		DueAt:           ticket.DueAt,
		FirstResponseAt: ticket.FirstResponseAt,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
		ResolvedAt:      ticket.ResolvedAt,
		ClosedAt:        ticket.ClosedAt,
		MessageCount:    conversation.Count(view.Thread),
		Thread:          threadNodes(view.Thread),
	}
}

// threadNodes copies the assembled tree breadth-first with an explicit queue,
// so deep reply chains never grow the call stack.
func threadNodes(roots []*conversation.Node) []dto.ThreadNode {
	out := make([]dto.ThreadNode, len(roots))
	type pending struct {
		src *conversation.Node
		dst *dto.ThreadNode
	}
	queue := make([]pending, 0, len(roots))
	for i, root := range roots {
		queue = append(queue, pending{src: root, dst: &out[i]})
	}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		item.dst.TicketMessageResponse = ticketMessageResponse(&item.src.Message)
		item.dst.Depth = item.src.Depth
		item.dst.Replies = make([]dto.ThreadNode, len(item.src.Replies))
		for i, reply := range item.src.Replies {
			queue = append(queue, pending{src: reply, dst: &item.dst.Replies[i]})
		}
	}
	return out
}

func ticketMessageResponse(msg *domain.TicketMessage) dto.TicketMessageResponse {
	return dto.TicketMessageResponse{
		ID:          msg.ID,
		ParentID:    msg.ParentID,
		MessageType: msg.MessageType,
		AuthorType:  msg.AuthorType,
		AuthorID:    msg.AuthorID,
		Body:        msg.Body,
		CreatedAt:   msg.CreatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:            entry.ID,
			ChangeType:    entry.ChangeType,
			ChangedByType: entry.ChangedByType,
			ChangedByID:   entry.ChangedByID,
			OldValue:      entry.OldValue,
			NewValue:      entry.NewValue,
			CreatedAt:     entry.CreatedAt,
		})
	}
	return resp
}

func transitionResult(result workflow.Result) dto.TransitionResult {
	resp := dto.TransitionResult{
		Allowed:     result.Allowed,
		Required:    result.Required,
		Recommended: result.Recommended,
	}
	if resp.Required == nil {
		resp.Required = []string{}
	}
	if resp.Recommended == nil {
		resp.Recommended = []string{}
	}
	return resp
}

func statusChangeResponse(change *service.StatusChange) dto.StatusChangeResponse {
	return dto.StatusChangeResponse{
		Ticket:     ticketSummary(&change.Ticket),
		FromStatus: change.OldStatus,
		ToStatus:   change.Ticket.Status,
		Result:     transitionResult(change.Result),
	}
}

func batchResponse(result routing.BatchResult) dto.AutoAssignBatchResponse {
	resp := dto.AutoAssignBatchResponse{
		Assignments: make([]dto.AssignmentResponse, 0, len(result.Assignments)),
		Skipped:     make([]dto.SkippedResponse, 0, len(result.Skipped)),
	}
	for _, a := range result.Assignments {
		resp.Assignments = append(resp.Assignments, dto.AssignmentResponse{TicketID: a.TicketID, AgentID: a.AgentID})
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, dto.SkippedResponse{TicketID: s.TicketID, Reason: s.Reason})
	}
	return resp
}

func workloadResponses(workloads []domain.AgentWorkload) []dto.WorkloadResponse {
	resp := make([]dto.WorkloadResponse, 0, len(workloads))
	for _, w := range workloads {
		resp = append(resp, dto.WorkloadResponse{AgentID: w.AgentID, TeamID: w.TeamID, ActiveTickets: w.ActiveTickets})
	}
	return resp
}
