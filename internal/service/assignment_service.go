package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/routing"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const (
	defaultBatchSize = 100
	maxBatchSize     = 500
)

// AssignmentService handles ticket assignment operations.
type AssignmentService struct {
	tickets    repository.TicketRepository
	staff      repository.StaffRepository
	teams      repository.TeamRepository
	history    repository.TicketHistoryRepository
	configs    *WorkflowConfigResolver
	balancer   routing.Balancer
	locker     Locker
	lockTTL    time.Duration
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	StaffRepo   repository.StaffRepository
	TeamRepo    repository.TeamRepository
	HistoryRepo repository.TicketHistoryRepository
	Configs     *WorkflowConfigResolver
	Balancer    routing.Balancer
	// Locker serialises batch runs per organization; nil disables locking.
	Locker     Locker
	LockTTL    time.Duration
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &AssignmentService{
		tickets:    deps.TicketRepo,
		staff:      deps.StaffRepo,
		teams:      deps.TeamRepo,
		history:    deps.HistoryRepo,
		configs:    deps.Configs,
		balancer:   deps.Balancer,
		locker:     deps.Locker,
		lockTTL:    lockTTL,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// SelfAssignTicket allows a staff member to assign ticket to themselves.
func (s *AssignmentService) SelfAssignTicket(ctx context.Context, staff *domain.StaffMember, ticketID string) (*domain.Ticket, error) {
	ticket, err := loadTicketForStaff(ctx, s.tickets, staff, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.IsAssigned() && *ticket.AssigneeID == staff.ID {
		return ticket, nil
	}
	if ticket.IsAssigned() && staff.Role == domain.StaffRoleAgent {
		return nil, apperrors.NewConflict("ticket already assigned", map[string]any{"assignee_staff_id": *ticket.AssigneeID})
	}
	oldAssignee := ticket.AssigneeID
	ticket.AssigneeID = &staff.ID
	if err := s.tickets.UpdateAssignment(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.recordAssigneeChange(ctx, &staff.ID, ticket.ID, oldAssignee, ticket.AssigneeID); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishAssigned(ctx, ticket, staffActor(staff.ID), false)
	return ticket, nil
}

// AssignTicketToStaff assigns ticket to provided staff (TEAM_LEAD/ADMIN).
func (s *AssignmentService) AssignTicketToStaff(ctx context.Context, actor *domain.StaffMember, ticketID, assigneeStaffID string) (*domain.Ticket, error) {
	if err := requireAssignPriv(actor); err != nil {
		return nil, err
	}
	assignee, err := s.staff.GetByID(ctx, assigneeStaffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("staff", map[string]any{"staff_id": assigneeStaffID})
		}
		return nil, apperrors.MapError(err)
	}
	if assignee.OrganizationID != actor.OrganizationID {
		return nil, apperrors.NewNotFound("staff", map[string]any{"staff_id": assigneeStaffID})
	}
	if !assignee.Active {
		return nil, apperrors.NewConflict("assignee inactive", map[string]any{"staff_id": assigneeStaffID})
	}

	ticket, err := loadTicketForStaff(ctx, s.tickets, actor, ticketID)
	if err != nil {
		return nil, err
	}
	if !staffCanAccess(assignee, ticket) && actor.Role != domain.StaffRoleAdmin {
		return nil, apperrors.NewForbidden("assignee outside ticket scope")
	}
	oldAssignee := ticket.AssigneeID
	ticket.AssigneeID = &assignee.ID
	if err := s.tickets.UpdateAssignment(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.recordAssigneeChange(ctx, &actor.ID, ticket.ID, oldAssignee, ticket.AssigneeID); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishAssigned(ctx, ticket, staffActor(actor.ID), false)
	return ticket, nil
}

// AssignTicketToTeam routes the ticket to a team and clears its assignee.
func (s *AssignmentService) AssignTicketToTeam(ctx context.Context, actor *domain.StaffMember, ticketID, teamID string) (*domain.Ticket, error) {
	if err := requireAssignPriv(actor); err != nil {
		return nil, err
	}
	team, err := s.loadActiveTeam(ctx, actor.OrganizationID, teamID)
	if err != nil {
		return nil, err
	}
	ticket, err := loadTicketForStaff(ctx, s.tickets, actor, ticketID)
	if err != nil {
		return nil, err
	}
	oldTeam := ticket.TeamID
	oldAssignee := ticket.AssigneeID
	ticket.TeamID = &team.ID
	ticket.AssigneeID = nil
	if err := s.tickets.UpdateAssignment(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.recordTeamChange(ctx, &actor.ID, ticket.ID, oldTeam, ticket.TeamID); err != nil {
		return nil, apperrors.MapError(err)
	}
	if oldAssignee != nil {
		if err := s.recordAssigneeChange(ctx, &actor.ID, ticket.ID, oldAssignee, nil); err != nil {
			return nil, apperrors.MapError(err)
		}
	}
	s.publishAssigned(ctx, ticket, staffActor(actor.ID), false)
	return ticket, nil
}

// AutoAssignTicket picks the least-loaded eligible agent for one unassigned
// ticket. An unrouted ticket is routed to the organization's default team
// when one is configured; the team is stored only once an agent holds the
// ticket.
func (s *AssignmentService) AutoAssignTicket(ctx context.Context, actor *domain.StaffMember, ticketID string) (*domain.Ticket, error) {
	if err := requireAssignPriv(actor); err != nil {
		return nil, err
	}
	ticket, err := loadTicketForStaff(ctx, s.tickets, actor, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.IsAssigned() {
		return nil, apperrors.NewConflict("ticket already assigned", map[string]any{"assignee_staff_id": *ticket.AssigneeID})
	}
	cfg, err := s.workflowConfig(ctx, ticket.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !workflow.IsActiveStatus(cfg, ticket.Status) {
		return nil, apperrors.NewConflict("ticket is not active", map[string]any{"status": ticket.Status})
	}

	teamID := ticket.TeamID
	var routedTo *string
	if !ticket.HasTeam() {
		routedTo = defaultTeamOf(cfg)
		teamID = routedTo
	}

	workloads, err := s.staff.ListWorkloads(ctx, ticket.OrganizationID, nil, workflow.ActiveStatuses(cfg))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	agentID, ok, err := s.pickAgent(workloads, teamID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.RecordDecision("auto_assign", "skipped")
		return nil, apperrors.NewConflict(routing.SkipNoEligibleAgent, map[string]any{"ticket_id": ticket.ID})
	}

	assigned, err := s.tickets.AssignIfUnassigned(ctx, ticket.ID, agentID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !assigned {
		return nil, apperrors.NewConflict("ticket already assigned", map[string]any{"ticket_id": ticket.ID})
	}
	ticket.AssigneeID = &agentID
	if routedTo != nil {
		if err := s.routeToDefaultTeam(ctx, actor, ticket, *routedTo); err != nil {
			return nil, err
		}
	}
	if err := s.recordAssigneeChange(ctx, &actor.ID, ticket.ID, nil, ticket.AssigneeID); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.metrics.RecordDecision("auto_assign", "assigned")
	s.publishAssigned(ctx, ticket, staffActor(actor.ID), true)
	return ticket, nil
}

// AutoAssignUnassigned distributes the organization's oldest unassigned
// active tickets across its agents. Only one batch runs per organization at
// a time; a concurrent request fails with CONFLICT.
func (s *AssignmentService) AutoAssignUnassigned(ctx context.Context, actor *domain.StaffMember, limit int) (routing.BatchResult, error) {
	if err := requireAssignPriv(actor); err != nil {
		return routing.BatchResult{}, err
	}
	orgID := actor.OrganizationID

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "auto-assign:"+orgID, s.lockTTL)
		if err != nil {
			return routing.BatchResult{}, apperrors.NewDomainError(apperrors.CodeDependencyUnavailable, "assignment lock unavailable", http.StatusServiceUnavailable, nil)
		}
		if !ok {
			return routing.BatchResult{}, apperrors.NewConflict("auto-assignment already running", map[string]any{"organization_id": orgID})
		}
		defer release()
	}

	if limit <= 0 {
		limit = defaultBatchSize
	}
	if limit > maxBatchSize {
		limit = maxBatchSize
	}
	cfg, err := s.workflowConfig(ctx, orgID)
	if err != nil {
		return routing.BatchResult{}, err
	}
	active := workflow.ActiveStatuses(cfg)
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		OrganizationID: &orgID,
		Unassigned:     true,
		Statuses:       active,
		OldestFirst:    true,
		Limit:          limit,
	})
	if err != nil {
		return routing.BatchResult{}, apperrors.MapError(err)
	}
	routed := map[string]string{}
	if teamID := defaultTeamOf(cfg); teamID != nil {
		for i := range tickets {
			if !tickets[i].HasTeam() {
				tickets[i].TeamID = teamID
				routed[tickets[i].ID] = *teamID
			}
		}
	}
	workloads, err := s.staff.ListWorkloads(ctx, orgID, nil, active)
	if err != nil {
		return routing.BatchResult{}, apperrors.MapError(err)
	}

	planned, err := s.balancer.AutoAssignUnassigned(tickets, workloads)
	if err != nil {
		return routing.BatchResult{}, err
	}

	byID := make(map[string]*domain.Ticket, len(tickets))
	for i := range tickets {
		byID[tickets[i].ID] = &tickets[i]
	}
	result := routing.BatchResult{
		Assignments: make([]routing.Assignment, 0, len(planned.Assignments)),
		Skipped:     append([]routing.Skipped{}, planned.Skipped...),
	}
	for _, a := range planned.Assignments {
		ok, err := s.tickets.AssignIfUnassigned(ctx, a.TicketID, a.AgentID)
		if err != nil {
			return result, apperrors.MapError(err)
		}
		if !ok {
			result.Skipped = append(result.Skipped, routing.Skipped{TicketID: a.TicketID, Reason: routing.SkipAlreadyAssigned})
			continue
		}
		agentID := a.AgentID
		ticket := byID[a.TicketID]
		if teamID, ok := routed[a.TicketID]; ok && ticket != nil {
			ticket.TeamID = nil
			if err := s.routeToDefaultTeam(ctx, actor, ticket, teamID); err != nil {
				return result, err
			}
		}
		if err := s.recordAssigneeChange(ctx, &actor.ID, a.TicketID, nil, &agentID); err != nil {
			return result, apperrors.MapError(err)
		}
		result.Assignments = append(result.Assignments, a)
		if ticket != nil {
			ticket.AssigneeID = &agentID
			s.publishAssigned(ctx, ticket, staffActor(actor.ID), true)
		}
	}

	for range result.Assignments {
		s.metrics.RecordDecision("auto_assign", "assigned")
	}
	for range result.Skipped {
		s.metrics.RecordDecision("auto_assign", "skipped")
	}
	s.logger.Info("auto assignment batch finished",
		zap.String("organization_id", orgID),
		zap.Int("assigned", len(result.Assignments)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// ListWorkloads returns the active-ticket count per agent in the caller's
// organization, optionally restricted to one team.
func (s *AssignmentService) ListWorkloads(ctx context.Context, actor *domain.StaffMember, teamID *string) ([]domain.AgentWorkload, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	cfg, err := s.workflowConfig(ctx, actor.OrganizationID)
	if err != nil {
		return nil, err
	}
	workloads, err := s.staff.ListWorkloads(ctx, actor.OrganizationID, teamID, workflow.ActiveStatuses(cfg))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if workloads == nil {
		workloads = []domain.AgentWorkload{}
	}
	return workloads, nil
}

func (s *AssignmentService) loadActiveTeam(ctx context.Context, organizationID, teamID string) (*domain.Team, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("team", map[string]any{"team_id": teamID})
		}
		return nil, apperrors.MapError(err)
	}
	if team.OrganizationID != organizationID {
		return nil, apperrors.NewNotFound("team", map[string]any{"team_id": teamID})
	}
	if !team.IsActive {
		return nil, apperrors.NewConflict("team inactive", map[string]any{"team_id": teamID})
	}
	return team, nil
}

// pickAgent prefers the ticket's team and widens to the whole roster unless
// StrictTeams is set.
func (s *AssignmentService) pickAgent(workloads []domain.AgentWorkload, teamID *string) (string, bool, error) {
	if teamID == nil || *teamID == "" {
		return s.balancer.PickAgent(workloads, "")
	}
	agentID, ok, err := s.balancer.PickAgent(workloads, *teamID)
	if err != nil || ok || s.balancer.StrictTeams {
		return agentID, ok, err
	}
	return s.balancer.PickAgent(workloads, "")
}

// routeToDefaultTeam stores teamID on a ticket that had no team. When another
// writer routed it first the stored team is reloaded instead.
func (s *AssignmentService) routeToDefaultTeam(ctx context.Context, actor *domain.StaffMember, ticket *domain.Ticket, teamID string) error {
	set, err := s.tickets.SetTeamIfUnset(ctx, ticket.ID, teamID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if !set {
		stored, err := s.tickets.GetByID(ctx, ticket.ID)
		if err != nil {
			return apperrors.MapError(err)
		}
		ticket.TeamID = stored.TeamID
		return nil
	}
	ticket.TeamID = &teamID
	if err := s.recordTeamChange(ctx, &actor.ID, ticket.ID, nil, ticket.TeamID); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

func (s *AssignmentService) workflowConfig(ctx context.Context, organizationID string) (domain.WorkflowConfig, error) {
	if s.configs == nil {
		cfg := workflow.DefaultConfig()
		cfg.OrganizationID = organizationID
		return cfg, nil
	}
	return s.configs.Resolve(ctx, organizationID)
}

func defaultTeamOf(cfg domain.WorkflowConfig) *string {
	if cfg.DefaultTeamID == nil || *cfg.DefaultTeamID == "" {
		return nil
	}
	teamID := *cfg.DefaultTeamID
	return &teamID
}

func (s *AssignmentService) recordAssigneeChange(ctx context.Context, actorID *string, ticketID string, oldAssignee, newAssignee *string) error {
	return recordHistory(ctx, s.history, &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.AuthorTypeStaff,
		ChangedByID:   actorID,
		ChangeType:    domain.ChangeTypeAssignee,
		OldValue:      map[string]any{"assignee_staff_id": oldAssignee},
		NewValue:      map[string]any{"assignee_staff_id": newAssignee},
	})
}

func (s *AssignmentService) recordTeamChange(ctx context.Context, actorID *string, ticketID string, oldTeam, newTeam *string) error {
	return recordHistory(ctx, s.history, &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.AuthorTypeStaff,
		ChangedByID:   actorID,
		ChangeType:    domain.ChangeTypeTeam,
		OldValue:      map[string]any{"team_id": oldTeam},
		NewValue:      map[string]any{"team_id": newTeam},
	})
}

func (s *AssignmentService) publishAssigned(ctx context.Context, ticket *domain.Ticket, actor events.Actor, automatic bool) {
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketAssigned,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          actor,
		Payload: events.TicketAssignedPayload{
			AssigneeStaffID: ticket.AssigneeID,
			TeamID:          ticket.TeamID,
			Automatic:       automatic,
		},
	})
}
