package dto

import "github.com/spec-kit/helpdesk-service/internal/domain"

// StatusChangeRequest asks for a ticket to move to Status.
type StatusChangeRequest struct {
	Status  domain.TicketStatus `json:"status"`
	Comment string              `json:"comment"`
}

// TransitionResult is the policy verdict for a requested transition.
type TransitionResult struct {
	Allowed     bool     `json:"allowed"`
	Required    []string `json:"required"`
	Recommended []string `json:"recommended"`
}

// StatusChangeResponse reports an applied transition.
type StatusChangeResponse struct {
	Ticket     TicketSummary       `json:"ticket"`
	FromStatus domain.TicketStatus `json:"from_status"`
	ToStatus   domain.TicketStatus `json:"to_status"`
	Result     TransitionResult    `json:"result"`
}
