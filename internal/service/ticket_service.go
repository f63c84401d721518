package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/conversation"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketService coordinates ticket creation, listing and conversations.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	teams      repository.TeamRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	TeamRepo    repository.TeamRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	TeamID      *string
	Title       string
	Description string
	Priority    domain.TicketPriority
	Tags        []string
	DueAt       *time.Time
}

// TicketUserFilter describes end-user listing filters.
type TicketUserFilter struct {
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// TicketStaffFilter describes staff listing filters.
type TicketStaffFilter struct {
	TeamID      *string
	AssigneeID  *string
	Unassigned  bool
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	SearchTerm  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// MessageInput is a new message posted to a ticket. ParentID, when set, must
// name a message on the same ticket.
type MessageInput struct {
	ParentID    *string
	MessageType domain.TicketMessageType
	Body        string
}

// TicketView is a ticket with its assembled conversation.
type TicketView struct {
	Ticket domain.Ticket
	Thread []*conversation.Node
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		teams:      deps.TeamRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        clock,
	}
}

// CreateTicket opens a ticket on behalf of a user.
func (s *TicketService) CreateTicket(ctx context.Context, user *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	if input.TeamID != nil {
		team, err := s.teams.GetByID(ctx, *input.TeamID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NewNotFound("team", map[string]any{"team_id": *input.TeamID})
			}
			return nil, apperrors.MapError(err)
		}
		if team.OrganizationID != user.OrganizationID {
			return nil, apperrors.NewNotFound("team", map[string]any{"team_id": *input.TeamID})
		}
		if !team.IsActive {
			return nil, apperrors.NewConflict("team inactive", map[string]any{"team_id": team.ID})
		}
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}

	ticket := &domain.Ticket{
		ExternalKey:    generateTicketKey(),
		OrganizationID: user.OrganizationID,
		RequesterID:    user.ID,
		TeamID:         input.TeamID,
		Title:          title,
		Description:    description,
		Status:         domain.TicketStatusOpen,
		Priority:       priority,
		Tags:           tags,
		DueAt:          input.DueAt,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("organization_id", ticket.OrganizationID))
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketCreated,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          userActor(user.ID),
		Payload: events.TicketCreatedPayload{
			TeamID:   ticket.TeamID,
			Priority: ticket.Priority,
			Title:    ticket.Title,
		},
	})
	return ticket, nil
}

// ListUserTickets returns paginated tickets for a requester.
func (s *TicketService) ListUserTickets(ctx context.Context, user *domain.User, filter TicketUserFilter) ([]domain.Ticket, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		OrganizationID: &user.OrganizationID,
		RequesterID:    &user.ID,
		Statuses:       filter.Statuses,
		Priorities:     filter.Priorities,
		CreatedFrom:    filter.CreatedFrom,
		CreatedTo:      filter.CreatedTo,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// GetTicketForUser returns the ticket and its customer-visible thread.
func (s *TicketService) GetTicketForUser(ctx context.Context, user *domain.User, ticketID string) (*TicketView, error) {
	ticket, err := loadTicketForUser(ctx, s.tickets, user, ticketID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &TicketView{Ticket: *ticket, Thread: conversation.BuildThread(customerVisible(msgs))}, nil
}

// ListStaffTickets returns tickets the staff member may see.
func (s *TicketService) ListStaffTickets(ctx context.Context, staff *domain.StaffMember, filter TicketStaffFilter) ([]domain.Ticket, error) {
	if staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	repoFilter := repository.TicketFilter{
		OrganizationID: &staff.OrganizationID,
		TeamID:         filter.TeamID,
		AssigneeID:     filter.AssigneeID,
		Unassigned:     filter.Unassigned,
		Statuses:       filter.Statuses,
		Priorities:     filter.Priorities,
		SearchTerm:     filter.SearchTerm,
		CreatedFrom:    filter.CreatedFrom,
		CreatedTo:      filter.CreatedTo,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	}
	if staff.Role != domain.StaffRoleAdmin && staff.TeamID != nil && repoFilter.TeamID == nil && repoFilter.AssigneeID == nil {
		repoFilter.TeamID = staff.TeamID
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	visible := make([]domain.Ticket, 0, len(tickets))
	for i := range tickets {
		if staffCanAccess(staff, &tickets[i]) {
			visible = append(visible, tickets[i])
		}
	}
	return visible, nil
}

// GetTicketForStaff returns the ticket with its full thread, internal notes included.
func (s *TicketService) GetTicketForStaff(ctx context.Context, staff *domain.StaffMember, ticketID string) (*TicketView, error) {
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &TicketView{Ticket: *ticket, Thread: conversation.BuildThread(msgs)}, nil
}

// AddUserMessage posts a public reply from the ticket's requester.
func (s *TicketService) AddUserMessage(ctx context.Context, user *domain.User, ticketID string, input MessageInput) (*domain.TicketMessage, error) {
	ticket, err := loadTicketForUser(ctx, s.tickets, user, ticketID)
	if err != nil {
		return nil, err
	}
	if input.MessageType == "" {
		input.MessageType = domain.MessageTypePublicReply
	}
	if input.MessageType != domain.MessageTypePublicReply {
		return nil, apperrors.NewForbidden("users can only post public replies")
	}
	if ticket.Status == domain.TicketStatusClosed || ticket.Status == domain.TicketStatusCancelled {
		return nil, apperrors.NewConflict("ticket is closed", map[string]any{"status": ticket.Status})
	}
	authorID := user.ID
	msg := &domain.TicketMessage{
		TicketID:    ticket.ID,
		AuthorType:  domain.AuthorTypeUser,
		AuthorID:    &authorID,
		MessageType: input.MessageType,
	}
	if err := s.postMessage(ctx, ticket, msg, input, true); err != nil {
		return nil, err
	}
	publishEvent(ctx, s.dispatcher, s.messageEvent(ticket, msg, userActor(user.ID)))
	return msg, nil
}

// AddStaffMessage posts a public reply or internal note. The first public
// staff reply stamps the ticket's first response time.
func (s *TicketService) AddStaffMessage(ctx context.Context, staff *domain.StaffMember, ticketID string, input MessageInput) (*domain.TicketMessage, error) {
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return nil, err
	}
	if input.MessageType == "" {
		input.MessageType = domain.MessageTypePublicReply
	}
	if input.MessageType != domain.MessageTypePublicReply && input.MessageType != domain.MessageTypeInternalNote {
		return nil, apperrors.NewValidationError("invalid message type for staff", map[string]any{"message_type": input.MessageType})
	}
	authorID := staff.ID
	msg := &domain.TicketMessage{
		TicketID:    ticket.ID,
		AuthorType:  domain.AuthorTypeStaff,
		AuthorID:    &authorID,
		MessageType: input.MessageType,
	}
	if err := s.postMessage(ctx, ticket, msg, input, false); err != nil {
		return nil, err
	}
	if msg.MessageType == domain.MessageTypePublicReply && ticket.FirstResponseAt == nil {
		at := msg.CreatedAt
		if at.IsZero() {
			at = s.now().UTC()
		}
		if err := s.tickets.MarkFirstResponse(ctx, ticket.ID, at); err != nil {
			return nil, apperrors.MapError(err)
		}
		ticket.FirstResponseAt = &at
	}
	publishEvent(ctx, s.dispatcher, s.messageEvent(ticket, msg, staffActor(staff.ID)))
	return msg, nil
}

func (s *TicketService) postMessage(ctx context.Context, ticket *domain.Ticket, msg *domain.TicketMessage, input MessageInput, customer bool) error {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return apperrors.NewValidationError("message body is required", nil)
	}
	msg.Body = body
	if input.ParentID != nil && *input.ParentID != "" {
		parent, err := s.messages.GetByID(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("message", map[string]any{"message_id": *input.ParentID})
			}
			return apperrors.MapError(err)
		}
		if parent.TicketID != ticket.ID || (customer && !parent.MessageType.CustomerVisible()) {
			return apperrors.NewNotFound("message", map[string]any{"message_id": *input.ParentID})
		}
		parentID := parent.ID
		msg.ParentID = &parentID
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

func (s *TicketService) messageEvent(ticket *domain.Ticket, msg *domain.TicketMessage, actor events.Actor) events.Event {
	return events.Event{
		Type:           events.EventTicketMessageAdded,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          actor,
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			ParentID:    msg.ParentID,
			MessageType: msg.MessageType,
			AuthorType:  msg.AuthorType,
			AuthorID:    msg.AuthorID,
			BodyPreview: stringPreview(msg.Body, 120),
		},
	}
}

// UpdatePriority changes ticket priority by staff.
func (s *TicketService) UpdatePriority(ctx context.Context, staff *domain.StaffMember, ticketID string, newPriority domain.TicketPriority) (*domain.Ticket, error) {
	if !newPriority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": newPriority})
	}
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return nil, err
	}
	oldPriority := ticket.Priority
	if oldPriority == newPriority {
		return ticket, nil
	}
	ticket.Priority = newPriority
	if err := s.tickets.UpdatePriority(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := recordHistory(ctx, s.history, &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: domain.AuthorTypeStaff,
		ChangedByID:   &staff.ID,
		ChangeType:    domain.ChangeTypePriority,
		OldValue:      map[string]any{"priority": oldPriority},
		NewValue:      map[string]any{"priority": newPriority},
	}); err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// ListHistoryForStaff returns history entries for staff.
func (s *TicketService) ListHistoryForStaff(ctx context.Context, staff *domain.StaffMember, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	history, err := s.history.ListByTicket(ctx, ticket.ID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return history, nil
}

// ListHistoryForUser returns user-safe history entries.
func (s *TicketService) ListHistoryForUser(ctx context.Context, user *domain.User, ticketID string) ([]domain.TicketHistory, error) {
	ticket, err := loadTicketForUser(ctx, s.tickets, user, ticketID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	history, err := s.history.ListByTicket(ctx, ticket.ID, 100, 0)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	allowed := []domain.TicketHistory{}
	for _, entry := range history {
		if entry.ChangeType.CustomerVisible() {
			allowed = append(allowed, entry)
		}
	}
	return allowed, nil
}

func customerVisible(msgs []domain.TicketMessage) []domain.TicketMessage {
	filtered := make([]domain.TicketMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.MessageType.CustomerVisible() {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}
