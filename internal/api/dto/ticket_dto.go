package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	TeamID      *string               `json:"team_id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Tags        []string              `json:"tags"`
	DueAt       *time.Time            `json:"due_at"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// TicketSummary response.
type TicketSummary struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	TeamID      *string               `json:"team_id"`
	AssigneeID  *string               `json:"assignee_staff_id"`
	Title       string                `json:"title"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	Tags        []string              `json:"tags"`
	DueAt       *time.Time            `json:"due_at,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info with its threaded conversation.
type TicketDetailResponse struct {
	ID              string                `json:"id"`
	ExternalKey     string                `json:"external_key"`
	RequesterID     string                `json:"requester_id"`
	TeamID          *string               `json:"team_id"`
	AssigneeID      *string               `json:"assignee_staff_id"`
	Title           string                `json:"title"`
	Description     string                `json:"description"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	Tags            []string              `json:"tags"`
	DueAt           *time.Time            `json:"due_at,omitempty"`
	FirstResponseAt *time.Time            `json:"first_response_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	ResolvedAt      *time.Time            `json:"resolved_at,omitempty"`
	ClosedAt        *time.Time            `json:"closed_at,omitempty"`
	MessageCount    int                   `json:"message_count"`
	Thread          []ThreadNode          `json:"thread"`
}

// TicketMessageResponse represents a single message.
type TicketMessageResponse struct {
	ID          string                   `json:"id"`
	ParentID    *string                  `json:"parent_id"`
	MessageType domain.TicketMessageType `json:"message_type"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	AuthorID    *string                  `json:"author_id"`
	Body        string                   `json:"body"`
	CreatedAt   time.Time                `json:"created_at"`
}

// ThreadNode is a message with its nested replies.
type ThreadNode struct {
	TicketMessageResponse
	Depth   int          `json:"depth"`
	Replies []ThreadNode `json:"replies"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body        string                    `json:"body"`
	ParentID    *string                   `json:"parent_id,omitempty"`
	MessageType *domain.TicketMessageType `json:"message_type,omitempty"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID            string                   `json:"id"`
	ChangeType    domain.TicketChangeType  `json:"change_type"`
	ChangedByType domain.MessageAuthorType `json:"changed_by_type"`
	ChangedByID   *string                  `json:"changed_by_id"`
	OldValue      map[string]any           `json:"old_value"`
	NewValue      map[string]any           `json:"new_value"`
	CreatedAt     time.Time                `json:"created_at"`
}
