package workflow

import "github.com/spec-kit/helpdesk-service/internal/domain"

// DefaultStatuses is the status set used when an organization defines none.
var DefaultStatuses = []domain.TicketStatus{
	domain.TicketStatusOpen,
	domain.TicketStatusInProgress,
	domain.TicketStatusPendingUser,
	domain.TicketStatusResolved,
	domain.TicketStatusClosed,
	domain.TicketStatusCancelled,
}

// DefaultTransitions is the structural table applied when free transitions
// are disabled and the organization has not supplied its own.
var DefaultTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:        {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled},
	domain.TicketStatusInProgress:  {domain.TicketStatusOpen, domain.TicketStatusPendingUser, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusPendingUser: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusResolved:    {domain.TicketStatusClosed, domain.TicketStatusInProgress, domain.TicketStatusOpen},
	domain.TicketStatusClosed:      {domain.TicketStatusOpen},
	domain.TicketStatusCancelled:   {domain.TicketStatusOpen},
}

// DefaultConfig returns a strict workflow using the default tables.
func DefaultConfig() domain.WorkflowConfig {
	return domain.WorkflowConfig{
		Statuses:                     append([]domain.TicketStatus(nil), DefaultStatuses...),
		AllowFreeTransitions:         false,
		RequireAssigneeForProgress:   true,
		RequireResponseForResolution: true,
		AllowCustomerToReopen:        true,
	}
}

func statusesOf(cfg domain.WorkflowConfig) []domain.TicketStatus {
	if len(cfg.Statuses) == 0 {
		return DefaultStatuses
	}
	return cfg.Statuses
}

func transitionsOf(cfg domain.WorkflowConfig) map[domain.TicketStatus][]domain.TicketStatus {
	if len(cfg.Transitions) == 0 {
		return DefaultTransitions
	}
	return cfg.Transitions
}

// ActiveStatuses returns the organization's statuses that still need work
// and therefore count toward agent workload.
func ActiveStatuses(cfg domain.WorkflowConfig) []domain.TicketStatus {
	var active []domain.TicketStatus
	for _, status := range statusesOf(cfg) {
		if !status.IsTerminal() {
			active = append(active, status)
		}
	}
	return active
}

// IsActiveStatus reports whether status is one of ActiveStatuses(cfg).
func IsActiveStatus(cfg domain.WorkflowConfig, status domain.TicketStatus) bool {
	return KnownStatus(cfg, status) && !status.IsTerminal()
}

// KnownStatus reports whether status belongs to the organization's status set.
func KnownStatus(cfg domain.WorkflowConfig, status domain.TicketStatus) bool {
	for _, candidate := range statusesOf(cfg) {
		if candidate == status {
			return true
		}
	}
	return false
}

func structurallyAllowed(cfg domain.WorkflowConfig, from, to domain.TicketStatus) bool {
	if cfg.AllowFreeTransitions || from == to {
		return true
	}
	for _, candidate := range transitionsOf(cfg)[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func isReopen(from, to domain.TicketStatus) bool {
	closedSide := func(s domain.TicketStatus) bool {
		return s == domain.TicketStatusResolved || s == domain.TicketStatusClosed
	}
	return closedSide(from) && !closedSide(to)
}
