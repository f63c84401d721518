package handlers

import (
	"fmt"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/conversation"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
)

func TestThreadNodesKeepsShape(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	parent := "m1"
	messages := []domain.TicketMessage{
		{ID: "m1", CreatedAt: base},
		{ID: "m2", ParentID: &parent, CreatedAt: base.Add(time.Minute)},
		{ID: "m3", CreatedAt: base.Add(2 * time.Minute)},
	}
	view := &service.TicketView{
		Ticket: domain.Ticket{ID: "t1", Status: domain.TicketStatusOpen},
		Thread: conversation.BuildThread(messages),
	}

	detail := ticketDetail(view)
	if detail.MessageCount != 3 {
		t.Fatalf("MessageCount = %d, want 3", detail.MessageCount)
	}
	if len(detail.Thread) != 2 {
		t.Fatalf("len(Thread) = %d, want 2", len(detail.Thread))
	}
	first := detail.Thread[0]
	if first.ID != "m1" || len(first.Replies) != 1 || first.Replies[0].ID != "m2" || first.Replies[0].Depth != 1 {
		t.Fatalf("unexpected first root: %+v", first)
	}
	if detail.Thread[1].ID != "m3" || detail.Thread[1].Replies == nil {
		t.Fatalf("unexpected second root: %+v", detail.Thread[1])
	}
}

func TestThreadNodesDeepChain(t *testing.T) {
	const depth = 5000
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	messages := make([]domain.TicketMessage, depth)
	for i := range messages {
		messages[i] = domain.TicketMessage{ID: fmt.Sprintf("m%d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if i > 0 {
			parent := messages[i-1].ID
			messages[i].ParentID = &parent
		}
	}

	nodes := threadNodes(conversation.BuildThread(messages))
	count := 0
	for cur := nodes; len(cur) > 0; cur = cur[0].Replies {
		if cur[0].Depth != count {
			t.Fatalf("depth = %d, want %d", cur[0].Depth, count)
		}
		count++
	}
	if count != depth {
		t.Fatalf("walked %d nodes, want %d", count, depth)
	}
}

func TestTransitionResultNeverNull(t *testing.T) {
	got := transitionResult(workflow.Result{Allowed: true})
	if got.Required == nil || got.Recommended == nil {
		t.Fatalf("expected empty slices, got %+v", got)
	}
}
