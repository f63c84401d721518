package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// Comments recorded on history entries for requester and scheduled changes.
const (
	CommentUserClosed   = "user_closed"
	CommentUserReopened = "user_reopened"
	CommentAutoClosed   = "auto_closed"
)

const defaultAutoCloseBatch = 100

// WorkflowService moves tickets between statuses under the organization's
// transition policy.
type WorkflowService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	history    repository.TicketHistoryRepository
	configs    *WorkflowConfigResolver
	policy     *workflow.Policy
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// WorkflowDependencies bundles collaborators for the workflow service.
type WorkflowDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	HistoryRepo repository.TicketHistoryRepository
	Configs     *WorkflowConfigResolver
	Policy      *workflow.Policy
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// StatusChange is the outcome of an applied transition.
type StatusChange struct {
	Ticket    domain.Ticket
	OldStatus domain.TicketStatus
	Result    workflow.Result
}

// NewWorkflowService constructs the service.
func NewWorkflowService(deps WorkflowDependencies) *WorkflowService {
	policy := deps.Policy
	if policy == nil {
		policy = workflow.NewPolicy()
	}
	configs := deps.Configs
	if configs == nil {
		configs = NewWorkflowConfigResolver(nil, workflow.DefaultConfig())
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &WorkflowService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		history:    deps.HistoryRepo,
		configs:    configs,
		policy:     policy,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
	}
}

// PreviewTransition reports what would happen if staff moved the ticket to
// target, without changing anything.
func (s *WorkflowService) PreviewTransition(ctx context.Context, staff *domain.StaffMember, ticketID string, target domain.TicketStatus) (workflow.Result, error) {
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return workflow.Result{}, err
	}
	result, _, err := s.validate(ctx, ticket, target, false)
	if err != nil {
		return workflow.Result{}, err
	}
	s.metrics.RecordDecision("transition_preview", outcome(result))
	return result, nil
}

// UpdateStatus applies a staff-requested transition. A transition with
// failed required rules is rejected with TRANSITION_BLOCKED; recommended
// failures are returned alongside the updated ticket.
func (s *WorkflowService) UpdateStatus(ctx context.Context, staff *domain.StaffMember, ticketID string, target domain.TicketStatus, comment string) (*StatusChange, error) {
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return nil, err
	}
	authorID := staff.ID
	return s.transition(ctx, ticket, target, false, comment, domain.AuthorTypeStaff, &authorID, staffActor(staff.ID))
}

// CloseTicketAsUser lets the requester close their own ticket.
func (s *WorkflowService) CloseTicketAsUser(ctx context.Context, user *domain.User, ticketID string) (*StatusChange, error) {
	ticket, err := loadTicketForUser(ctx, s.tickets, user, ticketID)
	if err != nil {
		return nil, err
	}
	authorID := user.ID
	return s.transition(ctx, ticket, domain.TicketStatusClosed, true, CommentUserClosed, domain.AuthorTypeUser, &authorID, userActor(user.ID))
}

// ReopenTicketAsUser lets the requester reopen a resolved or closed ticket
// when the organization allows it.
func (s *WorkflowService) ReopenTicketAsUser(ctx context.Context, user *domain.User, ticketID string) (*StatusChange, error) {
	ticket, err := loadTicketForUser(ctx, s.tickets, user, ticketID)
	if err != nil {
		return nil, err
	}
	authorID := user.ID
	return s.transition(ctx, ticket, domain.TicketStatusOpen, true, CommentUserReopened, domain.AuthorTypeUser, &authorID, userActor(user.ID))
}

// AutoCloseResolved closes resolved tickets of the organizations governed by
// cfg whose resolution is older than cfg.AutoCloseAfter. When cfg has no
// OrganizationID it sweeps every organization without a stored config.
// Tickets are read in pages of limit, oldest resolution first; a ticket that
// is blocked or fails to close is logged and skipped. It returns the number
// of tickets closed.
func (s *WorkflowService) AutoCloseResolved(ctx context.Context, cfg domain.WorkflowConfig, limit int) (int, error) {
	if cfg.AutoCloseAfter == nil || *cfg.AutoCloseAfter <= 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultAutoCloseBatch
	}
	now := s.now().UTC()
	cutoff := now.Add(-*cfg.AutoCloseAfter)
	filter := repository.TicketFilter{
		Statuses:            []domain.TicketStatus{domain.TicketStatusResolved},
		ResolvedBefore:      &cutoff,
		OldestResolvedFirst: true,
		Limit:               limit,
	}
	if cfg.OrganizationID != "" {
		filter.OrganizationID = &cfg.OrganizationID
	} else {
		filter.WithoutWorkflowConfig = true
	}

	closed := 0
	for {
		tickets, err := s.tickets.ListWithFilter(ctx, filter)
		if err != nil {
			return closed, apperrors.MapError(err)
		}
		var last *repository.ResolvedCursor
		for i := range tickets {
			ticket := &tickets[i]
			if ticket.ResolvedAt == nil || ticket.ResolvedAt.After(cutoff) {
				continue
			}
			last = &repository.ResolvedCursor{ResolvedAt: *ticket.ResolvedAt, ID: ticket.ID}
			ok, err := s.autoClose(ctx, ticket, cfg)
			if err != nil {
				if ctx.Err() != nil {
					return closed, ctx.Err()
				}
				s.metrics.RecordDecision("auto_close", "error")
				s.logger.Warn("auto close failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
				continue
			}
			if ok {
				closed++
			}
		}
		if len(tickets) < limit || last == nil {
			return closed, nil
		}
		filter.ResolvedAfter = last
	}
}

func (s *WorkflowService) autoClose(ctx context.Context, ticket *domain.Ticket, cfg domain.WorkflowConfig) (bool, error) {
	orgCfg := cfg
	orgCfg.OrganizationID = ticket.OrganizationID
	result, err := s.policy.Validate(*ticket, domain.TicketStatusClosed, orgCfg, workflow.Facts{HasResponse: ticket.FirstResponseAt != nil})
	if err != nil {
		return false, err
	}
	if !result.Allowed {
		s.metrics.RecordDecision("auto_close", "blocked")
		s.logger.Info("auto close blocked",
			zap.String("ticket_id", ticket.ID),
			zap.Strings("required", result.Required))
		return false, nil
	}
	resolvedAt := *ticket.ResolvedAt
	if _, err := s.apply(ctx, ticket, domain.TicketStatusClosed, result, CommentAutoClosed, domain.AuthorTypeSystem, nil, events.SystemActor()); err != nil {
		return false, err
	}
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketAutoClosed,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          events.SystemActor(),
		Payload: events.TicketAutoClosedPayload{
			ResolvedAt: resolvedAt,
			After:      *cfg.AutoCloseAfter,
		},
	})
	s.metrics.RecordDecision("auto_close", "closed")
	return true, nil
}

func (s *WorkflowService) validate(ctx context.Context, ticket *domain.Ticket, target domain.TicketStatus, customer bool) (workflow.Result, domain.WorkflowConfig, error) {
	cfg, err := s.configs.Resolve(ctx, ticket.OrganizationID)
	if err != nil {
		return workflow.Result{}, cfg, err
	}
	facts := workflow.Facts{ActorIsCustomer: customer, HasResponse: ticket.FirstResponseAt != nil}
	if !facts.HasResponse && s.messages != nil {
		replied, err := s.messages.HasStaffReply(ctx, ticket.ID)
		if err != nil {
			return workflow.Result{}, cfg, apperrors.MapError(err)
		}
		facts.HasResponse = replied
	}
	result, err := s.policy.Validate(*ticket, target, cfg, facts)
	return result, cfg, err
}

func (s *WorkflowService) transition(ctx context.Context, ticket *domain.Ticket, target domain.TicketStatus, customer bool, comment string, authorType domain.MessageAuthorType, authorID *string, actor events.Actor) (*StatusChange, error) {
	result, _, err := s.validate(ctx, ticket, target, customer)
	if err != nil {
		s.metrics.RecordDecision("transition", "error")
		return nil, err
	}
	if !result.Allowed {
		s.metrics.RecordDecision("transition", "blocked")
		return nil, apperrors.NewTransitionBlocked(result.Required, result.Recommended)
	}
	s.metrics.RecordDecision("transition", outcome(result))
	return s.apply(ctx, ticket, target, result, comment, authorType, authorID, actor)
}

func (s *WorkflowService) apply(ctx context.Context, ticket *domain.Ticket, target domain.TicketStatus, result workflow.Result, comment string, authorType domain.MessageAuthorType, authorID *string, actor events.Actor) (*StatusChange, error) {
	oldStatus := ticket.Status
	if oldStatus == target {
		return &StatusChange{Ticket: *ticket, OldStatus: oldStatus, Result: result}, nil
	}

	now := s.now().UTC()
	switch target {
	case domain.TicketStatusResolved:
		ticket.ResolvedAt = &now
		ticket.ClosedAt = nil
	case domain.TicketStatusClosed, domain.TicketStatusCancelled:
		ticket.ClosedAt = &now
	default:
		ticket.ResolvedAt = nil
		ticket.ClosedAt = nil
	}
	ticket.Status = target
	updated, err := s.tickets.UpdateStatus(ctx, ticket, oldStatus)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !updated {
		return nil, apperrors.NewConflict("ticket status changed concurrently", map[string]any{
			"ticket_id":       ticket.ID,
			"expected_status": oldStatus,
		})
	}

	newValue := map[string]any{"status": target}
	if comment != "" {
		newValue["comment"] = comment
	}
	if len(result.Recommended) > 0 {
		newValue["recommended"] = result.Recommended
	}
	if err := recordHistory(ctx, s.history, &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: authorType,
		ChangedByID:   authorID,
		ChangeType:    domain.ChangeTypeStatus,
		OldValue:      map[string]any{"status": oldStatus},
		NewValue:      newValue,
	}); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.logger.Info("ticket status changed",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(target)),
		zap.Int("recommended", len(result.Recommended)))
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketStatusChanged,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          actor,
		Timestamp:      now,
		Payload: events.TicketStatusChangedPayload{
			OldStatus:   oldStatus,
			NewStatus:   target,
			Comment:     comment,
			Recommended: result.Recommended,
		},
	})
	return &StatusChange{Ticket: *ticket, OldStatus: oldStatus, Result: result}, nil
}

func outcome(result workflow.Result) string {
	switch {
	case !result.Allowed:
		return "blocked"
	case len(result.Recommended) > 0:
		return "allowed_with_warnings"
	default:
		return "allowed"
	}
}
