package events

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventTicketAutoClosed    EventType = "ticket_auto_closed"
)

// AllEventTypes lists every type the service publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketMessageAdded,
	EventTicketAutoClosed,
}

// SubjectTypeSystem marks actions taken by the service itself.
const SubjectTypeSystem domain.SubjectType = "SYSTEM"

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    domain.SubjectType `json:"type"`
	UserID  *string            `json:"user_id,omitempty"`
	StaffID *string            `json:"staff_id,omitempty"`
}

// SystemActor is the actor recorded for scheduled work.
func SystemActor() Actor {
	return Actor{Type: SubjectTypeSystem}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	OrganizationID string      `json:"organization_id"`
	TicketID       string      `json:"ticket_id"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// RoutingKey is the topic key used when forwarding the event to a broker.
func (e Event) RoutingKey() string {
	return "ticket." + string(e.Type)
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TeamID   *string               `json:"team_id,omitempty"`
	Priority domain.TicketPriority `json:"priority"`
	Title    string                `json:"title"`
}

// TicketStatusChangedPayload payload. Recommended carries the soft rule
// failures that were accepted with the change.
type TicketStatusChangedPayload struct {
	OldStatus   domain.TicketStatus `json:"old_status"`
	NewStatus   domain.TicketStatus `json:"new_status"`
	Comment     string              `json:"comment,omitempty"`
	Recommended []string            `json:"recommended,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeStaffID *string `json:"assignee_staff_id,omitempty"`
	TeamID          *string `json:"team_id,omitempty"`
	Automatic       bool    `json:"automatic"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string                   `json:"message_id"`
	ParentID    *string                  `json:"parent_id,omitempty"`
	MessageType domain.TicketMessageType `json:"message_type"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	AuthorID    *string                  `json:"author_id,omitempty"`
	BodyPreview string                   `json:"body_preview"`
}

// TicketAutoClosedPayload payload.
type TicketAutoClosedPayload struct {
	ResolvedAt time.Time     `json:"resolved_at"`
	After      time.Duration `json:"after_ns"`
}
