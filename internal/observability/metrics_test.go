package observability

import (
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/staff/tickets/:id/status", "POST", 200, 5*time.Millisecond)
	m.RecordRequest("/staff/tickets/:id/status", "POST", 200, 7*time.Millisecond)
	m.RecordError("/staff/tickets/:id/status", "POST", "TRANSITION_BLOCKED")
	m.RecordDecision("transition", "blocked")

	snap := m.Snapshot()
	if got := snap.Requests["/staff/tickets/:id/status|POST|200"]; got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
	if got := snap.Errors["/staff/tickets/:id/status|POST|TRANSITION_BLOCKED"]; got != 1 {
		t.Fatalf("errors = %d, want 1", got)
	}
	if got := snap.Decisions["transition|blocked"]; got != 1 {
		t.Fatalf("decisions = %d, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.RecordDecision("routing", "assigned")
	if snap := m.Snapshot(); len(snap.Requests) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
