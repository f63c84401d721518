package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

func TestNotificationPlans(t *testing.T) {
	team := "team-1"
	staff := "agent-1"
	tests := []struct {
		name    string
		payload any
		want    []string
	}{
		{"created with team", events.TicketCreatedPayload{Title: "VPN down", TeamID: &team}, []string{"email/requester", "email/team", "webhook/integrations"}},
		{"resolved", events.TicketStatusChangedPayload{OldStatus: domain.TicketStatusInProgress, NewStatus: domain.TicketStatusResolved}, []string{"email/requester", "webhook/integrations"}},
		{"moved to in progress", events.TicketStatusChangedPayload{OldStatus: domain.TicketStatusOpen, NewStatus: domain.TicketStatusInProgress}, []string{"webhook/integrations"}},
		{"assigned", events.TicketAssignedPayload{AssigneeStaffID: &staff}, []string{"email/assignee", "webhook/integrations"}},
		{"staff reply", events.TicketMessageAddedPayload{MessageType: domain.MessageTypePublicReply, AuthorType: domain.AuthorTypeStaff}, []string{"email/requester"}},
		{"internal note", events.TicketMessageAddedPayload{MessageType: domain.MessageTypeInternalNote, AuthorType: domain.AuthorTypeStaff}, nil},
		{"auto closed", events.TicketAutoClosedPayload{After: 72 * time.Hour}, []string{"email/requester", "webhook/integrations"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := events.NewInMemoryDispatcher(zaptest.NewLogger(t))
			var got []string
			NewNotificationService(dispatcher, zaptest.NewLogger(t), config.NotificationConfig{
				EmailFrom:  "support@example.com",
				WebhookURL: "https://hooks.example.com/helpdesk",
			}).WithSink(func(_ context.Context, n Notification) {
				got = append(got, string(n.Channel)+"/"+n.Audience)
			}).RegisterHandlers()

			_ = dispatcher.Publish(context.Background(), events.Event{Type: eventTypeFor(tt.payload), TicketID: "t1", Payload: tt.payload})
			if len(got) != len(tt.want) {
				t.Fatalf("notifications = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("notifications = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestNotificationsNeedConfiguredChannels(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	count := 0
	NewNotificationService(dispatcher, nil, config.NotificationConfig{}).
		WithSink(func(context.Context, Notification) { count++ }).
		RegisterHandlers()

	_ = dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated, Payload: events.TicketCreatedPayload{Title: "x"}})
	if count != 0 {
		t.Fatalf("expected no notifications without channels, got %d", count)
	}
}

func eventTypeFor(payload any) events.EventType {
	switch payload.(type) {
	case events.TicketCreatedPayload:
		return events.EventTicketCreated
	case events.TicketStatusChangedPayload:
		return events.EventTicketStatusChanged
	case events.TicketAssignedPayload:
		return events.EventTicketAssigned
	case events.TicketMessageAddedPayload:
		return events.EventTicketMessageAdded
	default:
		return events.EventTicketAutoClosed
	}
}
