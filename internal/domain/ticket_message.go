package domain

import "time"

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeUser   MessageAuthorType = "USER"
	AuthorTypeStaff  MessageAuthorType = "STAFF"
	AuthorTypeSystem MessageAuthorType = "SYSTEM"
)

// TicketMessageType differentiates between replies and notes.
type TicketMessageType string

const (
	MessageTypePublicReply  TicketMessageType = "PUBLIC_REPLY"
	MessageTypeInternalNote TicketMessageType = "INTERNAL_NOTE"
	MessageTypeSystemEvent  TicketMessageType = "SYSTEM_EVENT"
)

// CustomerVisible reports whether requesters may see messages of this type.
func (t TicketMessageType) CustomerVisible() bool {
	return t != MessageTypeInternalNote
}

// TicketMessage captures communications in a ticket thread. ParentID links a
// reply to the message it answers; nil marks a top-level message.
type TicketMessage struct {
	ID          string
	TicketID    string
	ParentID    *string
	AuthorType  MessageAuthorType
	AuthorID    *string
	MessageType TicketMessageType
	Body        string
	CreatedAt   time.Time
}
