package domain

import "time"

// RuleSeverity decides whether a failed rule blocks a transition.
type RuleSeverity string

const (
	SeverityRequired    RuleSeverity = "required"
	SeverityRecommended RuleSeverity = "recommended"
)

// Built-in rule conditions. Custom predicates use the "custom:<name>" form.
const (
	ConditionHasAssignee = "has_assignee"
	ConditionHasResponse = "has_response"
	ConditionHasTeam     = "has_team"
	ConditionHasDueDate  = "has_due_date"

	CustomConditionPrefix = "custom:"
)

// TransitionRule is one declarative check applied when a ticket moves to Target.
type TransitionRule struct {
	Target    TicketStatus `json:"target" yaml:"target"`
	Condition string       `json:"condition" yaml:"condition"`
	Severity  RuleSeverity `json:"severity" yaml:"severity"`
	Message   string       `json:"message" yaml:"message"`
}

// WorkflowConfig is an organization's ticket workflow configuration.
// Loaded fresh per request.
type WorkflowConfig struct {
	OrganizationID               string
	Statuses                     []TicketStatus
	Transitions                  map[TicketStatus][]TicketStatus
	AllowFreeTransitions         bool
	RequireAssigneeForProgress   bool
	RequireResponseForResolution bool
	AutoCloseAfter               *time.Duration
	DefaultTeamID                *string
	AllowCustomerToReopen        bool
	Rules                        []TransitionRule
}
