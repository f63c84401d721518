package service

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type workflowFixture struct {
	svc      *WorkflowService
	tickets  *fakeTicketRepo
	messages *fakeMessageRepo
	history  *fakeHistoryRepo
	configs  *fakeConfigRepo
	events   *eventLog
	metrics  *observability.Metrics
	user     *domain.User
	staff    *domain.StaffMember
	now      time.Time
}

func newWorkflowFixture(t *testing.T, tickets ...domain.Ticket) *workflowFixture {
	t.Helper()
	dispatcher := events.NewInMemoryDispatcher(zaptest.NewLogger(t))
	f := &workflowFixture{
		tickets:  newFakeTicketRepo(tickets...),
		messages: &fakeMessageRepo{},
		history:  &fakeHistoryRepo{},
		configs:  &fakeConfigRepo{configs: map[string]domain.WorkflowConfig{}},
		events:   newEventLog(dispatcher),
		metrics:  observability.NewMetrics(),
		user:     &domain.User{ID: "user-1", OrganizationID: "org-1", Status: domain.UserStatusActive},
		staff:    &domain.StaffMember{ID: "agent-1", OrganizationID: "org-1", Role: domain.StaffRoleAgent, Active: true},
		now:      baseTime.Add(48 * time.Hour),
	}
	f.svc = NewWorkflowService(WorkflowDependencies{
		TicketRepo:  f.tickets,
		MessageRepo: f.messages,
		HistoryRepo: f.history,
		Configs:     NewWorkflowConfigResolver(f.configs, workflow.DefaultConfig()),
		Dispatcher:  dispatcher,
		Metrics:     f.metrics,
		Logger:      zaptest.NewLogger(t),
		Clock:       func() time.Time { return f.now },
	})
	return f
}

func TestUpdateStatusBlockedWithoutAssignee(t *testing.T) {
	f := newWorkflowFixture(t, openTicket("t1"))

	_, err := f.svc.UpdateStatus(context.Background(), f.staff, "t1", domain.TicketStatusInProgress, "")
	if !apperrors.HasCode(err, apperrors.CodeTransitionBlocked) {
		t.Fatalf("expected TRANSITION_BLOCKED, got %v", err)
	}
	details := apperrors.ToDomainError(err).Details
	if !reflect.DeepEqual(details["required"], []string{workflow.MessageAssigneeNeeded}) {
		t.Fatalf("required = %v", details["required"])
	}
	if f.tickets.get("t1").Status != domain.TicketStatusOpen {
		t.Fatal("blocked transition changed the ticket")
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("unexpected events: %v", f.events.types())
	}
}

func TestUpdateStatusAppliesAllowedTransition(t *testing.T) {
	ticket := openTicket("t1")
	ticket.AssigneeID = strPtr("agent-1")
	f := newWorkflowFixture(t, ticket)

	change, err := f.svc.UpdateStatus(context.Background(), f.staff, "t1", domain.TicketStatusInProgress, "on it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.OldStatus != domain.TicketStatusOpen || change.Ticket.Status != domain.TicketStatusInProgress {
		t.Fatalf("unexpected change: %+v", change)
	}
	if f.history.count(domain.ChangeTypeStatus) != 1 {
		t.Fatal("expected one status history entry")
	}
	if got := f.events.types(); len(got) != 1 || got[0] != events.EventTicketStatusChanged {
		t.Fatalf("events = %v", got)
	}
}

func TestResolveNeedsStaffResponse(t *testing.T) {
	ticket := openTicket("t1")
	ticket.AssigneeID = strPtr("agent-1")
	ticket.Status = domain.TicketStatusInProgress
	f := newWorkflowFixture(t, ticket)
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, f.staff, "t1", domain.TicketStatusResolved, "")
	if !apperrors.HasCode(err, apperrors.CodeTransitionBlocked) {
		t.Fatalf("expected TRANSITION_BLOCKED, got %v", err)
	}

	_ = f.messages.Create(ctx, &domain.TicketMessage{
		TicketID:    "t1",
		AuthorType:  domain.AuthorTypeStaff,
		MessageType: domain.MessageTypePublicReply,
		Body:        "fixed",
	})
	change, err := f.svc.UpdateStatus(ctx, f.staff, "t1", domain.TicketStatusResolved, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.Ticket.ResolvedAt == nil || !change.Ticket.ResolvedAt.Equal(f.now) {
		t.Fatalf("ResolvedAt = %v, want %v", change.Ticket.ResolvedAt, f.now)
	}
}

func TestPreviewTransitionDoesNotMutate(t *testing.T) {
	f := newWorkflowFixture(t, openTicket("t1"))
	f.configs.configs["org-1"] = domain.WorkflowConfig{
		OrganizationID:       "org-1",
		AllowFreeTransitions: true,
		Rules: []domain.TransitionRule{
			{Target: domain.TicketStatusCancelled, Condition: domain.ConditionHasTeam, Severity: domain.SeverityRecommended, Message: "route first"},
		},
	}

	result, err := f.svc.PreviewTransition(context.Background(), f.staff, "t1", domain.TicketStatusCancelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || !reflect.DeepEqual(result.Recommended, []string{"route first"}) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.tickets.get("t1").Status != domain.TicketStatusOpen {
		t.Fatal("preview changed the ticket")
	}
	if f.metrics.Snapshot().Decisions["transition_preview|allowed_with_warnings"] != 1 {
		t.Fatalf("decisions = %v", f.metrics.Snapshot().Decisions)
	}
}

func TestUpdateStatusUnknownTarget(t *testing.T) {
	f := newWorkflowFixture(t, openTicket("t1"))
	_, err := f.svc.UpdateStatus(context.Background(), f.staff, "t1", "escalated", "")
	if !apperrors.HasCode(err, apperrors.CodeInvalidStatus) {
		t.Fatalf("expected INVALID_STATUS, got %v", err)
	}
}

func TestUserCloseAndReopen(t *testing.T) {
	ticket := openTicket("t1")
	ticket.Status = domain.TicketStatusResolved
	resolved := baseTime
	ticket.ResolvedAt = &resolved
	f := newWorkflowFixture(t, ticket)
	ctx := context.Background()

	closed, err := f.svc.CloseTicketAsUser(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Ticket.Status != domain.TicketStatusClosed || closed.Ticket.ClosedAt == nil {
		t.Fatalf("unexpected ticket: %+v", closed.Ticket)
	}

	reopened, err := f.svc.ReopenTicketAsUser(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopened.Ticket.Status != domain.TicketStatusOpen || reopened.Ticket.ClosedAt != nil || reopened.Ticket.ResolvedAt != nil {
		t.Fatalf("unexpected ticket: %+v", reopened.Ticket)
	}
}

func TestReopenBlockedWhenDisabled(t *testing.T) {
	ticket := openTicket("t1")
	ticket.Status = domain.TicketStatusClosed
	f := newWorkflowFixture(t, ticket)
	cfg := workflow.DefaultConfig()
	cfg.OrganizationID = "org-1"
	cfg.AllowCustomerToReopen = false
	f.configs.configs["org-1"] = cfg

	_, err := f.svc.ReopenTicketAsUser(context.Background(), f.user, "t1")
	if !apperrors.HasCode(err, apperrors.CodeTransitionBlocked) {
		t.Fatalf("expected TRANSITION_BLOCKED, got %v", err)
	}

	// Staff may still reopen.
	if _, err := f.svc.UpdateStatus(context.Background(), f.staff, "t1", domain.TicketStatusOpen, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAutoCloseResolved(t *testing.T) {
	old := openTicket("old")
	old.Status = domain.TicketStatusResolved
	oldResolved := baseTime
	old.ResolvedAt = &oldResolved

	recent := openTicket("recent")
	recent.Status = domain.TicketStatusResolved
	recentResolved := baseTime.Add(47 * time.Hour)
	recent.ResolvedAt = &recentResolved

	f := newWorkflowFixture(t, old, recent, openTicket("open"))
	after := 24 * time.Hour
	cfg := workflow.DefaultConfig()
	cfg.OrganizationID = "org-1"
	cfg.AutoCloseAfter = &after

	closed, err := f.svc.AutoCloseResolved(context.Background(), cfg, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if f.tickets.get("old").Status != domain.TicketStatusClosed {
		t.Fatal("old resolved ticket should be closed")
	}
	if f.tickets.get("recent").Status != domain.TicketStatusResolved {
		t.Fatal("recent ticket should stay resolved")
	}
	got := f.events.types()
	want := []events.EventType{events.EventTicketStatusChanged, events.EventTicketAutoClosed}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestAutoCloseDisabledWithoutDuration(t *testing.T) {
	f := newWorkflowFixture(t)
	closed, err := f.svc.AutoCloseResolved(context.Background(), workflow.DefaultConfig(), 10)
	if err != nil || closed != 0 {
		t.Fatalf("closed = %d, err = %v", closed, err)
	}
}

func TestUpdateStatusKeepsConcurrentReassignment(t *testing.T) {
	ticket := openTicket("t1")
	ticket.AssigneeID = strPtr("agent-1")
	f := newWorkflowFixture(t, ticket)
	fired := false
	f.tickets.afterGet = func(id string) {
		if fired {
			return
		}
		fired = true
		f.tickets.mutate(id, func(t *domain.Ticket) { t.AssigneeID = strPtr("agent-2") })
	}

	if _, err := f.svc.UpdateStatus(context.Background(), f.staff, "t1", domain.TicketStatusInProgress, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := f.tickets.get("t1")
	if stored.Status != domain.TicketStatusInProgress {
		t.Fatalf("Status = %s, want %s", stored.Status, domain.TicketStatusInProgress)
	}
	if stored.AssigneeID == nil || *stored.AssigneeID != "agent-2" {
		t.Fatalf("AssigneeID = %v, want agent-2", stored.AssigneeID)
	}
}

func TestUpdateStatusConflictsWhenStatusMoved(t *testing.T) {
	ticket := openTicket("t1")
	ticket.AssigneeID = strPtr("agent-1")
	f := newWorkflowFixture(t, ticket)
	f.tickets.afterGet = func(id string) {
		f.tickets.mutate(id, func(t *domain.Ticket) { t.Status = domain.TicketStatusCancelled })
	}

	_, err := f.svc.UpdateStatus(context.Background(), f.staff, "t1", domain.TicketStatusInProgress, "")
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if f.tickets.get("t1").Status != domain.TicketStatusCancelled {
		t.Fatal("concurrent status was overwritten")
	}
	if f.history.count(domain.ChangeTypeStatus) != 0 {
		t.Fatal("history recorded for a lost write")
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("unexpected events: %v", f.events.types())
	}
}

func TestAutoCloseResolvedPagesPastBlockedTickets(t *testing.T) {
	resolvedTicket := func(id string, hoursAgo int) domain.Ticket {
		ticket := openTicket(id)
		ticket.Status = domain.TicketStatusResolved
		at := baseTime.Add(48*time.Hour - time.Duration(hoursAgo)*time.Hour)
		ticket.ResolvedAt = &at
		return ticket
	}
	blocked := resolvedTicket("blocked", 40)
	closable := resolvedTicket("closable", 30)
	closable.Tags = []string{"vip"}
	alsoClosable := resolvedTicket("also-closable", 25)
	alsoClosable.Tags = []string{"vip"}

	f := newWorkflowFixture(t, blocked, closable, alsoClosable)
	f.svc.policy.RegisterPredicate("tagged", func(t domain.Ticket, _ workflow.Facts) bool {
		return len(t.Tags) > 0
	})
	after := 24 * time.Hour
	cfg := workflow.DefaultConfig()
	cfg.OrganizationID = "org-1"
	cfg.AutoCloseAfter = &after
	cfg.Rules = []domain.TransitionRule{{
		Target:    domain.TicketStatusClosed,
		Condition: domain.CustomConditionPrefix + "tagged",
		Severity:  domain.SeverityRequired,
		Message:   "tag the ticket first",
	}}

	closed, err := f.svc.AutoCloseResolved(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 2 {
		t.Fatalf("closed = %d, want 2", closed)
	}
	if f.tickets.get("blocked").Status != domain.TicketStatusResolved {
		t.Fatal("blocked ticket should stay resolved")
	}
	for _, id := range []string{"closable", "also-closable"} {
		if f.tickets.get(id).Status != domain.TicketStatusClosed {
			t.Fatalf("%s should be closed", id)
		}
	}
}

func TestAutoCloseResolvedContinuesAfterFailedClose(t *testing.T) {
	reopened := openTicket("reopened")
	reopened.Status = domain.TicketStatusResolved
	reopenedAt := baseTime
	reopened.ResolvedAt = &reopenedAt
	fine := openTicket("fine")
	fine.Status = domain.TicketStatusResolved
	fineAt := baseTime.Add(time.Hour)
	fine.ResolvedAt = &fineAt

	f := newWorkflowFixture(t, reopened, fine)
	f.tickets.afterList = func() {
		f.tickets.mutate("reopened", func(t *domain.Ticket) {
			t.Status = domain.TicketStatusOpen
			t.ResolvedAt = nil
		})
	}
	after := 24 * time.Hour
	cfg := workflow.DefaultConfig()
	cfg.OrganizationID = "org-1"
	cfg.AutoCloseAfter = &after

	closed, err := f.svc.AutoCloseResolved(context.Background(), cfg, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if f.tickets.get("fine").Status != domain.TicketStatusClosed {
		t.Fatal("fine ticket should be closed")
	}
	if f.tickets.get("reopened").Status != domain.TicketStatusOpen {
		t.Fatal("reopened ticket must not be closed")
	}
}
