package domain

// AgentWorkload is a routing snapshot: how many active tickets one agent holds.
type AgentWorkload struct {
	AgentID       string
	TeamID        string
	ActiveTickets int
}
