package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// NotificationChannel is a delivery route for a notification.
type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelWebhook NotificationChannel = "webhook"
)

// Notification is one outbound message derived from a domain event.
type Notification struct {
	Channel   NotificationChannel
	Audience  string
	EventType events.EventType
	TicketID  string
	Summary   string
}

// Audiences addressed by notifications.
const (
	AudienceRequester = "requester"
	AudienceAssignee  = "assignee"
	AudienceTeam      = "team"
	AudienceWebhook   = "integrations"
)

// NotificationService turns domain events into notifications. Delivery is a
// stub: notifications are logged and handed to the optional sink.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	sink       func(context.Context, Notification)
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notifications"),
		cfg:        cfg,
	}
}

// WithSink routes every planned notification to fn in addition to the log.
func (n *NotificationService) WithSink(fn func(context.Context, Notification)) *NotificationService {
	n.sink = fn
	return n
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	for _, notification := range n.plan(event) {
		n.deliver(ctx, notification)
	}
	return nil
}

// plan decides who hears about event and over which channel.
func (n *NotificationService) plan(event events.Event) []Notification {
	var out []Notification
	email := func(audience, summary string) {
		if strings.TrimSpace(n.cfg.EmailFrom) == "" {
			return
		}
		out = append(out, Notification{Channel: ChannelEmail, Audience: audience, EventType: event.Type, TicketID: event.TicketID, Summary: summary})
	}
	webhook := func(summary string) {
		if strings.TrimSpace(n.cfg.WebhookURL) == "" {
			return
		}
		out = append(out, Notification{Channel: ChannelWebhook, Audience: AudienceWebhook, EventType: event.Type, TicketID: event.TicketID, Summary: summary})
	}

	switch payload := event.Payload.(type) {
	case events.TicketCreatedPayload:
		email(AudienceRequester, "ticket received: "+payload.Title)
		if payload.TeamID != nil {
			email(AudienceTeam, "new ticket: "+payload.Title)
		}
		webhook("ticket created")
	case events.TicketStatusChangedPayload:
		summary := "status " + string(payload.OldStatus) + " -> " + string(payload.NewStatus)
		if payload.NewStatus == domain.TicketStatusResolved || payload.NewStatus == domain.TicketStatusPendingUser {
			email(AudienceRequester, summary)
		}
		webhook(summary)
	case events.TicketAssignedPayload:
		if payload.AssigneeStaffID != nil {
			email(AudienceAssignee, "ticket assigned to you")
		} else if payload.TeamID != nil {
			email(AudienceTeam, "ticket routed to your team")
		}
		webhook("ticket assigned")
	case events.TicketMessageAddedPayload:
		// Internal notes never reach the requester's inbox.
		if !payload.MessageType.CustomerVisible() {
			return out
		}
		if payload.AuthorType == domain.AuthorTypeStaff {
			email(AudienceRequester, "new reply: "+payload.BodyPreview)
		} else {
			email(AudienceAssignee, "customer replied: "+payload.BodyPreview)
		}
	case events.TicketAutoClosedPayload:
		email(AudienceRequester, "ticket closed after "+payload.After.String()+" without activity")
		webhook("ticket auto closed")
	default:
		n.logger.Debug("no notification plan for event", zap.String("event_type", string(event.Type)))
	}
	return out
}

func (n *NotificationService) deliver(ctx context.Context, notification Notification) {
	n.logger.Info("notification",
		zap.String("channel", string(notification.Channel)),
		zap.String("audience", notification.Audience),
		zap.String("event_type", string(notification.EventType)),
		zap.String("ticket_id", notification.TicketID),
		zap.String("summary", notification.Summary))
	if n.sink != nil {
		n.sink(ctx, notification)
	}
}
