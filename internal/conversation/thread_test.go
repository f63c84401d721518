package conversation

import (
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

var base = time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)

// makeMessage returns a message created minute minutes after base, replying
// to parent when parent is non-empty.
func makeMessage(id, parent string, minute int) domain.TicketMessage {
	msg := domain.TicketMessage{
		ID:          id,
		TicketID:    "tkt-1",
		AuthorType:  domain.AuthorTypeUser,
		MessageType: domain.MessageTypePublicReply,
		Body:        "body " + id,
		CreatedAt:   base.Add(time.Duration(minute) * time.Minute),
	}
	if parent != "" {
		msg.ParentID = &parent
	}
	return msg
}

// flatIDs returns "id@depth" strings in display order.
func flatIDs(roots []*Node) []string {
	nodes := Flatten(roots)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Message.ID + "@" + string(rune('0'+n.Depth))
	}
	return ids
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestBuildThreadNested(t *testing.T) {
	// Input deliberately out of order; siblings must come back by CreatedAt.
	messages := []domain.TicketMessage{
		makeMessage("c", "a", 3),
		makeMessage("a", "", 0),
		makeMessage("b", "a", 1),
		makeMessage("d", "b", 2),
		makeMessage("e", "", 4),
	}
	roots := BuildThread(messages)
	if len(roots) != 2 {
		t.Fatalf("len(roots) = %d, want 2", len(roots))
	}
	assertOrder(t, flatIDs(roots), []string{"a@0", "b@1", "d@2", "c@1", "e@0"})
	if Count(roots) != len(messages) {
		t.Fatalf("Count() = %d, want %d", Count(roots), len(messages))
	}
}

func TestBuildThreadOrphanBecomesRoot(t *testing.T) {
	messages := []domain.TicketMessage{
		makeMessage("a", "", 0),
		makeMessage("b", "deleted", 1),
		makeMessage("c", "b", 2),
	}
	assertOrder(t, flatIDs(BuildThread(messages)), []string{"a@0", "b@0", "c@1"})
}

func TestBuildThreadBreaksCycles(t *testing.T) {
	messages := []domain.TicketMessage{
		makeMessage("a", "b", 0),
		makeMessage("b", "a", 1),
		makeMessage("self", "self", 2),
	}
	roots := BuildThread(messages)
	assertOrder(t, flatIDs(roots), []string{"self@0", "a@0", "b@1"})
	if Count(roots) != 3 {
		t.Fatalf("Count() = %d, want 3", Count(roots))
	}
}

func TestBuildThreadEmpty(t *testing.T) {
	if roots := BuildThread(nil); len(roots) != 0 {
		t.Fatalf("expected no roots, got %d", len(roots))
	}
}

func TestBuildThreadDoesNotReorderInput(t *testing.T) {
	messages := []domain.TicketMessage{makeMessage("b", "", 5), makeMessage("a", "", 1)}
	BuildThread(messages)
	if messages[0].ID != "b" {
		t.Fatal("input slice was reordered")
	}
}
