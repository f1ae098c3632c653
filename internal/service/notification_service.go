package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/events"
)

// NotificationService alerts the sales team about activity that needs a
// human: new inbound mail, failed sends and closed deals.
type NotificationService struct {
	dispatcher events.Dispatcher
	email      channels.EmailSender
	logger     *zap.Logger
	from       string
	to         string
}

// NewNotificationService creates the service. An empty recipient only logs.
func NewNotificationService(dispatcher events.Dispatcher, email channels.EmailSender, logger *zap.Logger, from, to string) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		email:      email,
		logger:     loggerOrNop(logger),
		from:       from,
		to:         strings.TrimSpace(to),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(domain.ActivityConversationCreated, n.handleConversationCreated)
	n.dispatcher.Subscribe(domain.ActivityMessageSendFailed, n.handleSendFailed)
	n.dispatcher.Subscribe(domain.ActivityCaseStatusChanged, n.handleCaseStatusChanged)
}

func (n *NotificationService) handleConversationCreated(ctx context.Context, event events.Event) error {
	if event.Actor.Type != domain.ActorTypeWebhook {
		return nil
	}
	n.logger.Info("ConversationCreated", zap.Stringp("conversation_id", event.ConversationID), zap.Any("payload", event.Payload))
	return n.notify(ctx, event, fmt.Sprintf("New %v conversation: %v", event.Payload["channel"], event.Payload["subject"]))
}

func (n *NotificationService) handleSendFailed(ctx context.Context, event events.Event) error {
	n.logger.Warn("MessageSendFailed", zap.Stringp("conversation_id", event.ConversationID), zap.Any("payload", event.Payload))
	return n.notify(ctx, event, "Outbound message could not be delivered")
}

func (n *NotificationService) handleCaseStatusChanged(ctx context.Context, event events.Event) error {
	to, _ := event.Payload["to"].(string)
	if !domain.CaseStatus(to).IsClosed() {
		return nil
	}
	n.logger.Info("CaseClosed", zap.Stringp("case_id", event.CaseID), zap.String("status", to))
	return n.notify(ctx, event, "Case closed as "+to)
}

func (n *NotificationService) notify(ctx context.Context, event events.Event, subject string) error {
	if n.to == "" || n.email == nil {
		return nil
	}
	var body strings.Builder
	fmt.Fprintf(&body, "%s\n\nEvent: %s\nAt: %s\n", subject, event.Type, event.Timestamp.Format("2006-01-02 15:04 MST"))
	if event.ConversationID != nil {
		fmt.Fprintf(&body, "Conversation: %s\n", *event.ConversationID)
	}
	if event.CaseID != nil {
		fmt.Fprintf(&body, "Case: %s\n", *event.CaseID)
	}
	_, err := n.email.SendEmail(ctx, channels.EmailMessage{
		From:     n.from,
		To:       n.to,
		Subject:  "[CRM] " + subject,
		TextBody: body.String(),
	})
	return err
}
