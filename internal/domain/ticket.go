package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets. The set in use is
// defined per organization by its WorkflowConfig; these are the defaults.
type TicketStatus string

const (
	TicketStatusOpen        TicketStatus = "open"
	TicketStatusInProgress  TicketStatus = "in_progress"
	TicketStatusPendingUser TicketStatus = "pending_user"
	TicketStatusResolved    TicketStatus = "resolved"
	TicketStatusClosed      TicketStatus = "closed"
	TicketStatusCancelled   TicketStatus = "cancelled"
)

// IsTerminal reports whether the status ends active work on a ticket.
// Only the built-in resolved, closed and cancelled statuses stamp
// resolved_at or closed_at, so every organization shares this set; any
// other status in a WorkflowConfig is active.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed || s == TicketStatusCancelled
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID              string
	ExternalKey     string
	OrganizationID  string
	RequesterID     string
	TeamID          *string
	AssigneeID      *string
	Title           string
	Description     string
	Status          TicketStatus
	Priority        TicketPriority
	Tags            []string
	DueAt           *time.Time
	FirstResponseAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
	ClosedAt        *time.Time
}

// IsAssigned reports whether the ticket already has an assignee.
func (t Ticket) IsAssigned() bool {
	return t.AssigneeID != nil && *t.AssigneeID != ""
}

// HasTeam reports whether the ticket is routed to a team.
func (t Ticket) HasTeam() bool {
	return t.TeamID != nil && *t.TeamID != ""
}
