// Package routing chooses agents for tickets by greedy least-loaded selection.
// It only decides; persisting assignments is the caller's job.
package routing

import (
	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// Skip reasons reported in BatchResult.
const (
	SkipAlreadyAssigned = "already assigned"
	SkipNoEligibleAgent = "no eligible agent"
)

// Assignment pairs a ticket with the agent chosen for it.
type Assignment struct {
	TicketID string `json:"ticket_id"`
	AgentID  string `json:"agent_id"`
}

// Skipped records a ticket the batch left alone.
type Skipped struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
}

// BatchResult is the outcome of AutoAssignUnassigned.
type BatchResult struct {
	Assignments []Assignment `json:"assignments"`
	Skipped     []Skipped    `json:"skipped"`
}

// Balancer picks the agent with the fewest active tickets. Ties go to the
// agent listed first, so identical input order gives identical picks.
type Balancer struct {
	// StrictTeams disables the batch fallback from a ticket's team to the
	// whole roster.
	StrictTeams bool
}

// PickAgent returns the least-loaded agent, restricted to teamID when it is
// non-empty. ok is false when no agent is eligible.
func (b Balancer) PickAgent(workloads []domain.AgentWorkload, teamID string) (agentID string, ok bool, err error) {
	if err := validateWorkloads(workloads); err != nil {
		return "", false, err
	}
	idx := pickIndex(workloads, teamID)
	if idx < 0 {
		return "", false, nil
	}
	return workloads[idx].AgentID, true, nil
}

// AutoAssignUnassigned assigns tickets in the order given. Each pick bumps
// the chosen agent's count in a local copy so one batch spreads its load.
// The workloads slice passed in is not modified.
func (b Balancer) AutoAssignUnassigned(tickets []domain.Ticket, workloads []domain.AgentWorkload) (BatchResult, error) {
	if err := validateWorkloads(workloads); err != nil {
		return BatchResult{}, err
	}
	for i, ticket := range tickets {
		if ticket.ID == "" {
			return BatchResult{}, apperrors.NewInvalidInput("ticket id required", map[string]any{"index": i})
		}
	}

	counts := append([]domain.AgentWorkload(nil), workloads...)
	result := BatchResult{Assignments: []Assignment{}, Skipped: []Skipped{}}

	for _, ticket := range tickets {
		if ticket.IsAssigned() {
			result.Skipped = append(result.Skipped, Skipped{TicketID: ticket.ID, Reason: SkipAlreadyAssigned})
			continue
		}
		idx := -1
		if ticket.HasTeam() {
			idx = pickIndex(counts, *ticket.TeamID)
			if idx < 0 && !b.StrictTeams {
				idx = pickIndex(counts, "")
			}
		} else {
			idx = pickIndex(counts, "")
		}
		if idx < 0 {
			result.Skipped = append(result.Skipped, Skipped{TicketID: ticket.ID, Reason: SkipNoEligibleAgent})
			continue
		}
		counts[idx].ActiveTickets++
		result.Assignments = append(result.Assignments, Assignment{TicketID: ticket.ID, AgentID: counts[idx].AgentID})
	}
	return result, nil
}

func pickIndex(workloads []domain.AgentWorkload, teamID string) int {
	best := -1
	for i, w := range workloads {
		if teamID != "" && w.TeamID != teamID {
			continue
		}
		if best < 0 || w.ActiveTickets < workloads[best].ActiveTickets {
			best = i
		}
	}
	return best
}

func validateWorkloads(workloads []domain.AgentWorkload) error {
	seen := make(map[string]struct{}, len(workloads))
	for i, w := range workloads {
		if w.AgentID == "" {
			return apperrors.NewInvalidInput("agent id required", map[string]any{"index": i})
		}
		if w.ActiveTickets < 0 {
			return apperrors.NewInvalidInput("negative active ticket count", map[string]any{
				"agent_id":       w.AgentID,
				"active_tickets": w.ActiveTickets,
			})
		}
		if _, dup := seen[w.AgentID]; dup {
			return apperrors.NewInvalidInput("duplicate agent in roster", map[string]any{"agent_id": w.AgentID})
		}
		seen[w.AgentID] = struct{}{}
	}
	return nil
}
