package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// Locker guards a critical section across service replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

func loadTicket(ctx context.Context, tickets repository.TicketRepository, ticketID string) (*domain.Ticket, error) {
	ticket, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// loadTicketForUser hides tickets the user did not request behind NOT_FOUND.
func loadTicketForUser(ctx context.Context, tickets repository.TicketRepository, user *domain.User, ticketID string) (*domain.Ticket, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	ticket, err := loadTicket(ctx, tickets, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.RequesterID != user.ID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

func loadTicketForStaff(ctx context.Context, tickets repository.TicketRepository, staff *domain.StaffMember, ticketID string) (*domain.Ticket, error) {
	if staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	ticket, err := loadTicket(ctx, tickets, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.OrganizationID != staff.OrganizationID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if !staffCanAccess(staff, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// staffCanAccess lets admins and team-less staff see every ticket of their
// organization; team members see their team's tickets, unrouted tickets and
// tickets assigned to them.
func staffCanAccess(staff *domain.StaffMember, ticket *domain.Ticket) bool {
	if staff == nil || staff.OrganizationID != ticket.OrganizationID {
		return false
	}
	if staff.Role == domain.StaffRoleAdmin || staff.TeamID == nil {
		return true
	}
	if !ticket.HasTeam() || *ticket.TeamID == *staff.TeamID {
		return true
	}
	return ticket.AssigneeID != nil && *ticket.AssigneeID == staff.ID
}

func requireAssignPriv(staff *domain.StaffMember) error {
	if staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	if staff.Role != domain.StaffRoleTeamLead && staff.Role != domain.StaffRoleAdmin {
		return apperrors.NewForbidden("insufficient role for assignment")
	}
	return nil
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_ = dispatcher.Publish(ctx, event)
}

func userActor(userID string) events.Actor {
	return events.Actor{
		Type:   domain.SubjectTypeUser,
		UserID: &userID,
	}
}

func staffActor(staffID string) events.Actor {
	return events.Actor{
		Type:    domain.SubjectTypeStaff,
		StaffID: &staffID,
	}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	runes := []rune(body)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func recordHistory(ctx context.Context, history repository.TicketHistoryRepository, entry *domain.TicketHistory) error {
	if history == nil {
		return nil
	}
	return history.Create(ctx, entry)
}
