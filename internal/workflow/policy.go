// Package workflow decides whether a ticket may change status under an
// organization's workflow configuration. Everything here is pure: callers
// resolve any I/O up front and pass the results in as Facts.
package workflow

import (
	"fmt"
	"strings"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// Messages reported by the built-in rules.
const (
	MessageAssigneeNeeded        = "assignee needed"
	MessageResponseNeeded        = "response needed"
	MessageCustomerReopenBlocked = "customer reopen disabled"
)

// Facts are precomputed answers the policy cannot derive from the ticket alone.
type Facts struct {
	// HasResponse is true once a staff member has replied publicly.
	HasResponse bool
	// ActorIsCustomer marks transitions requested by the ticket's requester.
	ActorIsCustomer bool
}

// Predicate is a custom rule condition; it returns true when the condition holds.
type Predicate func(ticket domain.Ticket, facts Facts) bool

// Result is the verdict for one requested transition.
type Result struct {
	Allowed     bool     `json:"allowed"`
	Required    []string `json:"required"`
	Recommended []string `json:"recommended"`
}

// Policy validates status transitions. The zero value is usable; custom
// predicates are registered with RegisterPredicate.
type Policy struct {
	predicates map[string]Predicate
}

// NewPolicy returns a policy with no custom predicates.
func NewPolicy() *Policy {
	return &Policy{predicates: make(map[string]Predicate)}
}

// RegisterPredicate makes a custom condition available to organization
// rules as "custom:<name>".
func (p *Policy) RegisterPredicate(name string, fn Predicate) {
	if p.predicates == nil {
		p.predicates = make(map[string]Predicate)
	}
	p.predicates[name] = fn
}

// Validate decides whether ticket may move to target. Unknown statuses fail
// with an INVALID_STATUS error; blocked transitions return Allowed=false
// with the reasons listed in Required.
func (p *Policy) Validate(ticket domain.Ticket, target domain.TicketStatus, cfg domain.WorkflowConfig, facts Facts) (Result, error) {
	if !KnownStatus(cfg, target) {
		return Result{}, apperrors.NewInvalidStatus(string(target), map[string]any{
			"organization_id": cfg.OrganizationID,
			"field":           "target",
		})
	}
	if !KnownStatus(cfg, ticket.Status) {
		return Result{}, apperrors.NewInvalidStatus(string(ticket.Status), map[string]any{
			"organization_id": cfg.OrganizationID,
			"field":           "current",
		})
	}

	result := Result{Required: []string{}, Recommended: []string{}}

	if !structurallyAllowed(cfg, ticket.Status, target) {
		result.Required = append(result.Required,
			fmt.Sprintf("transition from %s to %s not permitted", ticket.Status, target))
	}
	if facts.ActorIsCustomer && !cfg.AllowCustomerToReopen && isReopen(ticket.Status, target) {
		result.Required = append(result.Required, MessageCustomerReopenBlocked)
	}

	for _, rule := range p.rulesFor(target, cfg) {
		holds, err := p.evaluate(rule.Condition, ticket, facts)
		if err != nil {
			return Result{}, err
		}
		if holds {
			continue
		}
		message := rule.Message
		if message == "" {
			message = rule.Condition + " failed"
		}
		switch rule.Severity {
		case domain.SeverityRecommended:
			result.Recommended = append(result.Recommended, message)
		case domain.SeverityRequired, "":
			result.Required = append(result.Required, message)
		default:
			return Result{}, apperrors.NewInvalidInput("unknown rule severity", map[string]any{
				"severity":  rule.Severity,
				"condition": rule.Condition,
			})
		}
	}

	result.Allowed = len(result.Required) == 0
	return result, nil
}

// rulesFor returns the built-in rules enabled by cfg followed by the
// organization's own rules for target.
func (p *Policy) rulesFor(target domain.TicketStatus, cfg domain.WorkflowConfig) []domain.TransitionRule {
	var rules []domain.TransitionRule
	if target == domain.TicketStatusInProgress && cfg.RequireAssigneeForProgress {
		rules = append(rules, domain.TransitionRule{
			Target:    target,
			Condition: domain.ConditionHasAssignee,
			Severity:  domain.SeverityRequired,
			Message:   MessageAssigneeNeeded,
		})
	}
	if target == domain.TicketStatusResolved && cfg.RequireResponseForResolution {
		rules = append(rules, domain.TransitionRule{
			Target:    target,
			Condition: domain.ConditionHasResponse,
			Severity:  domain.SeverityRequired,
			Message:   MessageResponseNeeded,
		})
	}
	for _, rule := range cfg.Rules {
		if rule.Target == target {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (p *Policy) evaluate(condition string, ticket domain.Ticket, facts Facts) (bool, error) {
	switch condition {
	case domain.ConditionHasAssignee:
		return ticket.IsAssigned(), nil
	case domain.ConditionHasResponse:
		return facts.HasResponse || ticket.FirstResponseAt != nil, nil
	case domain.ConditionHasTeam:
		return ticket.HasTeam(), nil
	case domain.ConditionHasDueDate:
		return ticket.DueAt != nil, nil
	}
	if name, ok := strings.CutPrefix(condition, domain.CustomConditionPrefix); ok {
		fn, found := p.predicates[name]
		if !found {
			return false, apperrors.NewInvalidInput("unregistered rule predicate", map[string]any{"predicate": name})
		}
		return fn(ticket, facts), nil
	}
	return false, apperrors.NewInvalidInput("unknown rule condition", map[string]any{"condition": condition})
}
