package dto

// AssignStaffRequest names the agent to assign.
type AssignStaffRequest struct {
	StaffID string `json:"staff_id"`
}

// AssignTeamRequest names the team to route to.
type AssignTeamRequest struct {
	TeamID string `json:"team_id"`
}

// AutoAssignBatchRequest bounds a batch run. Zero uses the server default.
type AutoAssignBatchRequest struct {
	Limit int `json:"limit"`
}

// AssignmentResponse pairs a ticket with its chosen agent.
type AssignmentResponse struct {
	TicketID string `json:"ticket_id"`
	AgentID  string `json:"agent_id"`
}

// SkippedResponse records a ticket a batch run left alone.
type SkippedResponse struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
}

// AutoAssignBatchResponse is the outcome of a batch run.
type AutoAssignBatchResponse struct {
	Assignments []AssignmentResponse `json:"assignments"`
	Skipped     []SkippedResponse    `json:"skipped"`
}

// WorkloadResponse is one agent's active ticket count.
type WorkloadResponse struct {
	AgentID       string `json:"agent_id"`
	TeamID        string `json:"team_id,omitempty"`
	ActiveTickets int    `json:"active_tickets"`
}
