package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

var baseTime = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

func strPtr(v string) *string {
	return &v
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	order   []string
	// stolen lists ticket ids that another replica assigns first.
	stolen map[string]bool
	// afterGet runs once a snapshot has been handed out, standing in for a
	// writer that lands between a service's read and its write.
	afterGet  func(id string)
	afterList func()
}

func newFakeTicketRepo(tickets ...domain.Ticket) *fakeTicketRepo {
	r := &fakeTicketRepo{tickets: map[string]*domain.Ticket{}, stolen: map[string]bool{}}
	for i := range tickets {
		t := tickets[i]
		r.tickets[t.ID] = &t
		r.order = append(r.order, t.ID)
	}
	return r
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = fmt.Sprintf("tkt-%d", len(r.order)+1)
	ticket.CreatedAt = baseTime
	ticket.UpdatedAt = baseTime
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	r.order = append(r.order, ticket.ID)
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	t, ok := r.tickets[id]
	if !ok {
		r.mu.Unlock()
		return nil, pgx.ErrNoRows
	}
	copied := *t
	hook := r.afterGet
	r.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return &copied, nil
}

func (r *fakeTicketRepo) get(id string) domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.tickets[id]
}

func (r *fakeTicketRepo) mutate(id string, fn func(*domain.Ticket)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.tickets[id])
}

func (r *fakeTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	out := r.list(filter)
	if r.afterList != nil {
		r.afterList()
	}
	return out, nil
}

func (r *fakeTicketRepo) list(filter repository.TicketFilter) []domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, id := range r.order {
		t := r.tickets[id]
		if filter.OrganizationID != nil && t.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.RequesterID != nil && t.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.TeamID != nil && (t.TeamID == nil || *t.TeamID != *filter.TeamID) {
			continue
		}
		if filter.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *filter.AssigneeID) {
			continue
		}
		if filter.AssigneeID == nil && filter.Unassigned && t.AssigneeID != nil {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		if filter.ResolvedBefore != nil && (t.ResolvedAt == nil || t.ResolvedAt.After(*filter.ResolvedBefore)) {
			continue
		}
		if c := filter.ResolvedAfter; c != nil && (t.ResolvedAt == nil || !resolvedAfter(*t, *c)) {
			continue
		}
		out = append(out, *t)
	}
	switch {
	case filter.OldestResolvedFirst:
		sort.SliceStable(out, func(i, j int) bool {
			return resolvedAfter(out[j], repository.ResolvedCursor{ResolvedAt: *out[i].ResolvedAt, ID: out[i].ID})
		})
	case filter.OldestFirst:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (r *fakeTicketRepo) AssignIfUnassigned(_ context.Context, ticketID, staffID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return false, nil
	}
	if r.stolen[ticketID] {
		t.AssigneeID = strPtr("other-replica")
		return false, nil
	}
	if t.AssigneeID != nil {
		return false, nil
	}
	t.AssigneeID = strPtr(staffID)
	return true, nil
}

func (r *fakeTicketRepo) SetTeamIfUnset(_ context.Context, ticketID, teamID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok || t.TeamID != nil {
		return false, nil
	}
	t.TeamID = strPtr(teamID)
	return true, nil
}

func (r *fakeTicketRepo) UpdateAssignment(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	t.TeamID = ticket.TeamID
	t.AssigneeID = ticket.AssigneeID
	return nil
}

func (r *fakeTicketRepo) UpdateStatus(_ context.Context, ticket *domain.Ticket, from domain.TicketStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticket.ID]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = ticket.Status
	t.ResolvedAt = ticket.ResolvedAt
	t.ClosedAt = ticket.ClosedAt
	return true, nil
}

func (r *fakeTicketRepo) UpdatePriority(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	t.Priority = ticket.Priority
	return nil
}

func (r *fakeTicketRepo) MarkFirstResponse(_ context.Context, ticketID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if ok && t.FirstResponseAt == nil {
		t.FirstResponseAt = &at
	}
	return nil
}

// resolvedAfter orders by (resolved_at, id) like the SQL row comparison.
func resolvedAfter(t domain.Ticket, c repository.ResolvedCursor) bool {
	if !t.ResolvedAt.Equal(c.ResolvedAt) {
		return t.ResolvedAt.After(c.ResolvedAt)
	}
	return t.ID > c.ID
}

func containsStatus(statuses []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs []domain.TicketMessage
}

func (r *fakeMessageRepo) Create(_ context.Context, msg *domain.TicketMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = fmt.Sprintf("msg-%d", len(r.msgs)+1)
	msg.CreatedAt = baseTime.Add(time.Duration(len(r.msgs)+1) * time.Minute)
	r.msgs = append(r.msgs, *msg)
	return nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id string) (*domain.TicketMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == id {
			copied := r.msgs[i]
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeMessageRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketMessage
	for _, m := range r.msgs {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) HasStaffReply(_ context.Context, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.TicketID == ticketID && m.AuthorType == domain.AuthorTypeStaff && m.MessageType == domain.MessageTypePublicReply {
			return true, nil
		}
	}
	return false, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

func (r *fakeHistoryRepo) Create(_ context.Context, h *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.ID = fmt.Sprintf("hist-%d", len(r.entries)+1)
	r.entries = append(r.entries, *h)
	return nil
}

func (r *fakeHistoryRepo) ListByTicket(_ context.Context, ticketID string, _, _ int) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.entries {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) count(change domain.TicketChangeType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.entries {
		if h.ChangeType == change {
			n++
		}
	}
	return n
}

type fakeTeamRepo struct {
	teams map[string]domain.Team
}

func (r *fakeTeamRepo) GetByID(_ context.Context, id string) (*domain.Team, error) {
	t, ok := r.teams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *fakeTeamRepo) ListActive(_ context.Context, organizationID string) ([]domain.Team, error) {
	var out []domain.Team
	for _, t := range r.teams {
		if t.OrganizationID == organizationID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

// fakeStaffRepo derives workloads from the tickets it is pointed at.
type fakeStaffRepo struct {
	staff   []domain.StaffMember
	tickets *fakeTicketRepo
}

func (r *fakeStaffRepo) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	for i := range r.staff {
		if r.staff[i].ID == id {
			copied := r.staff[i]
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeStaffRepo) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	for i := range r.staff {
		if r.staff[i].Email == email {
			copied := r.staff[i]
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeStaffRepo) List(_ context.Context, filter repository.StaffFilter) ([]domain.StaffMember, error) {
	var out []domain.StaffMember
	for _, s := range r.staff {
		if filter.OrganizationID != nil && s.OrganizationID != *filter.OrganizationID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeStaffRepo) ListWorkloads(_ context.Context, organizationID string, teamID *string, active []domain.TicketStatus) ([]domain.AgentWorkload, error) {
	var out []domain.AgentWorkload
	for _, s := range r.staff {
		if s.OrganizationID != organizationID || !s.Active {
			continue
		}
		if teamID != nil && (s.TeamID == nil || *s.TeamID != *teamID) {
			continue
		}
		w := domain.AgentWorkload{AgentID: s.ID}
		if s.TeamID != nil {
			w.TeamID = *s.TeamID
		}
		if r.tickets != nil {
			r.tickets.mu.Lock()
			for _, t := range r.tickets.tickets {
				if t.AssigneeID != nil && *t.AssigneeID == s.ID && containsStatus(active, t.Status) {
					w.ActiveTickets++
				}
			}
			r.tickets.mu.Unlock()
		}
		out = append(out, w)
	}
	return out, nil
}

type fakeConfigRepo struct {
	configs map[string]domain.WorkflowConfig
}

func (r *fakeConfigRepo) Get(_ context.Context, organizationID string) (*domain.WorkflowConfig, error) {
	cfg, ok := r.configs[organizationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &cfg, nil
}

func (r *fakeConfigRepo) ListWithAutoClose(_ context.Context) ([]domain.WorkflowConfig, error) {
	var out []domain.WorkflowConfig
	for _, cfg := range r.configs {
		if cfg.AutoCloseAfter != nil {
			out = append(out, cfg)
		}
	}
	return out, nil
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		delete(l.held, key)
		l.released++
	}, true, nil
}

// eventLog records every published event of the given types.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func newEventLog(d events.Dispatcher) *eventLog {
	log := &eventLog{}
	for _, eventType := range events.AllEventTypes {
		d.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			log.mu.Lock()
			defer log.mu.Unlock()
			log.events = append(log.events, e)
			return nil
		})
	}
	return log
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func timeMinutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
