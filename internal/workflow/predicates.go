package workflow

import "github.com/spec-kit/helpdesk-service/internal/domain"

// Names of the predicates installed by RegisterStandardPredicates.
const (
	PredicateUrgentHasDueDate = "urgent_has_due_date"
	PredicateHasTags          = "has_tags"
)

// RegisterStandardPredicates installs the custom conditions the service ships
// with, so organization rules can reference them as "custom:<name>".
func RegisterStandardPredicates(p *Policy) {
	p.RegisterPredicate(PredicateUrgentHasDueDate, func(ticket domain.Ticket, _ Facts) bool {
		return ticket.Priority != domain.TicketPriorityUrgent || ticket.DueAt != nil
	})
	p.RegisterPredicate(PredicateHasTags, func(ticket domain.Ticket, _ Facts) bool {
		return len(ticket.Tags) > 0
	})
}
