package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/observability"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// Channel failure codes retained on the message.
const (
	SendErrorRequiresTemplate = "requires_template"
	SendErrorTimeout          = "timeout"
	SendErrorNoRecipient      = "no_recipient"
	SendErrorUnavailable      = "channel_unavailable"
	SendErrorProvider         = "provider_error"
)

// Recipient overrides the addressee taken from the conversation.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// WhatsAppTemplate selects a pre-approved template for sends outside the
// service window.
type WhatsAppTemplate struct {
	Name       string
	Language   string
	Components []channels.TemplateComponent
}

// SendRequest asks the dispatcher to deliver a draft on one or more channels.
type SendRequest struct {
	ConversationID   string
	MessageID        string
	Channels         []domain.Channel
	Recipient        Recipient
	Attachments      []domain.Attachment
	Subject          string
	WhatsAppTemplate *WhatsAppTemplate
}

// SendResult reports which channels delivered and which failed.
type SendResult struct {
	Message      *domain.Message
	Conversation *domain.Conversation
	SentChannels []domain.Channel
	Errors       []domain.ChannelError
}

// OutboundDispatcher approves drafts and fans them out to channel transports.
type OutboundDispatcher struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	email         channels.EmailSender
	whatsapp      channels.WhatsAppSender
	activities    *ActivityRecorder
	logger        *zap.Logger
	now           Clock
	emailFrom     string
	sendTimeout   time.Duration
	window        time.Duration
}

// DispatcherDependencies bundles collaborators for the dispatcher.
type DispatcherDependencies struct {
	ConversationRepo repository.ConversationRepository
	MessageRepo      repository.MessageRepository
	Email            channels.EmailSender
	WhatsApp         channels.WhatsAppSender
	Activities       *ActivityRecorder
	Logger           *zap.Logger
	Clock            Clock
	EmailFrom        string
	SendTimeout      time.Duration
	WhatsAppWindow   time.Duration
}

// NewOutboundDispatcher constructs the dispatcher.
func NewOutboundDispatcher(deps DispatcherDependencies) *OutboundDispatcher {
	timeout := deps.SendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	window := deps.WhatsAppWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &OutboundDispatcher{
		conversations: deps.ConversationRepo,
		messages:      deps.MessageRepo,
		email:         deps.Email,
		whatsapp:      deps.WhatsApp,
		activities:    deps.Activities,
		logger:        loggerOrNop(deps.Logger),
		now:           clockOrNow(deps.Clock),
		emailFrom:     deps.EmailFrom,
		sendTimeout:   timeout,
		window:        window,
	}
}

type channelOutcome struct {
	channel domain.Channel
	refs    domain.DeliveryRefs
	err     *domain.ChannelError
}

// ApproveAndSend delivers a draft or pending message on every requested
// channel independently. The message is marked sent when at least one
// channel succeeded; failures on the other channels are kept on it. When
// every channel fails the message keeps its status and can be retried.
func (d *OutboundDispatcher) ApproveAndSend(ctx context.Context, actor domain.Actor, req SendRequest) (*SendResult, error) {
	details := ids("conversation_id", req.ConversationID, "message_id", req.MessageID)
	requested, err := normalizeChannels(req.Channels)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), details)
	}

	conv, err := d.conversations.GetByID(ctx, req.ConversationID)
	if err != nil {
		return nil, repoErr(err, "conversation", details)
	}
	msg, err := d.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		return nil, repoErr(err, "message", details)
	}
	if msg.ConversationID != conv.ID {
		return nil, apperrors.NewNotFound("message", details)
	}
	if msg.Direction != domain.DirectionOutbound || !msg.Status.Editable() {
		return nil, apperrors.NewInvalidTransition("message", msg.Status, domain.MessageStatusSent, details)
	}

	outcomes := d.fanOut(ctx, conv, msg, req, requested)

	var (
		sent       []domain.Channel
		sendErrors []domain.ChannelError
		refs       domain.DeliveryRefs
	)
	for _, outcome := range outcomes {
		observability.RecordChannelSend(string(outcome.channel), outcome.err == nil)
		if outcome.err != nil {
			sendErrors = append(sendErrors, *outcome.err)
			continue
		}
		sent = append(sent, outcome.channel)
		mergeRefs(&refs, outcome.refs)
	}

	if len(sent) == 0 {
		d.logger.Warn("outbound send failed on every channel",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Int("channels", len(requested)))
		d.activities.Record(ctx, ActivityInput{
			Type:           domain.ActivityMessageSendFailed,
			ConversationID: conv.ID,
			CustomerID:     derefString(conv.CustomerID),
			Actor:          actor,
			Metadata:       map[string]any{"message_id": msg.ID, "errors": sendErrors},
		})
		failure := map[string]any{"errors": sendErrors}
		for k, v := range details {
			failure[k] = v
		}
		return nil, apperrors.NewTotalChannelFailure(failure)
	}

	at := d.now()
	var sentBy *string
	if actor.Type == domain.ActorTypeOperator {
		sentBy = strPtr(actor.ID)
	}
	stored, err := d.messages.MarkSent(ctx, msg.ID, domain.SendOutcome{
		SentChannels: sent,
		SendErrors:   sendErrors,
		Delivery:     refs,
		SentAt:       at,
		SentBy:       sentBy,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotEditable) {
			return nil, apperrors.NewConflict("message was sent concurrently", details)
		}
		return nil, repoErr(err, "message", details)
	}

	reply := domain.ReplyStatusAwaitingCustomer
	preview := stringPreview(firstNonEmpty(stored.Content, stored.ContentHTML), previewLength)
	applied := repository.MessageApplied{
		ReplyStatus: &reply,
		Preview:     &preview,
		At:          at,
		ThreadID:    refs.EmailThreadID,
	}
	if next, ok := domain.NextConversationStatus(conv.Status, domain.ConversationEventOutboundSent); ok {
		applied.Status = &next
	}
	updated, err := d.conversations.RecordMessage(ctx, conv.ID, applied)
	if err != nil {
		observability.ConsistencyErrorsTotal.Inc()
		d.logger.Error("message sent but conversation was not updated",
			zap.Bool("consistency_error", true),
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return nil, apperrors.NewConsistencyError("message sent but conversation was not updated", details, err)
	}

	d.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityMessageSent,
		ConversationID: conv.ID,
		CustomerID:     derefString(updated.CustomerID),
		Actor:          actor,
		Metadata: map[string]any{
			"message_id":    msg.ID,
			"sent_channels": sent,
			"send_errors":   sendErrors,
			"ai_generated":  stored.AIGenerated,
		},
	})
	d.logger.Info("outbound message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.Int("succeeded", len(sent)),
		zap.Int("failed", len(sendErrors)))

	return &SendResult{Message: stored, Conversation: updated, SentChannels: sent, Errors: sendErrors}, nil
}

// fanOut sends on every channel concurrently. Results keep request order.
func (d *OutboundDispatcher) fanOut(ctx context.Context, conv *domain.Conversation, msg *domain.Message, req SendRequest, requested []domain.Channel) []channelOutcome {
	outcomes := make([]channelOutcome, len(requested))
	var g errgroup.Group
	for i, ch := range requested {
		i, ch := i, ch
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			outcomes[i] = d.sendBounded(sendCtx, conv, msg, req, ch)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// sendBounded returns when the channel answers or its deadline passes,
// whichever comes first. A transport that ignores ctx finishes in the
// background and its late result is dropped.
func (d *OutboundDispatcher) sendBounded(ctx context.Context, conv *domain.Conversation, msg *domain.Message, req SendRequest, ch domain.Channel) channelOutcome {
	done := make(chan channelOutcome, 1)
	go func() {
		done <- d.sendOne(ctx, conv, msg, req, ch)
	}()
	select {
	case outcome := <-done:
		return outcome
	case <-ctx.Done():
		select {
		case outcome := <-done:
			return outcome
		default:
		}
		outcome := channelOutcome{channel: ch, err: channelError(ch, ctx.Err())}
		d.logger.Warn("channel delivery abandoned",
			zap.String("channel", string(ch)),
			zap.String("message_id", msg.ID),
			zap.String("code", outcome.err.Code),
			zap.Error(ctx.Err()))
		return outcome
	}
}

func (d *OutboundDispatcher) sendOne(ctx context.Context, conv *domain.Conversation, msg *domain.Message, req SendRequest, ch domain.Channel) channelOutcome {
	outcome := channelOutcome{channel: ch}
	var err error
	switch ch {
	case domain.ChannelManual:
		// Delivered by the operator outside the system.
		return outcome
	case domain.ChannelEmail:
		outcome.refs, err = d.sendEmail(ctx, conv, msg, req)
	case domain.ChannelWhatsApp:
		outcome.refs, err = d.sendWhatsApp(ctx, conv, msg, req)
	}
	if err != nil {
		outcome.err = channelError(ch, err)
		d.logger.Warn("channel delivery failed",
			zap.String("channel", string(ch)),
			zap.String("message_id", msg.ID),
			zap.String("code", outcome.err.Code),
			zap.Error(err))
	}
	return outcome
}

var (
	errNoRecipient = errors.New("no recipient address for channel")
	errUnavailable = errors.New("channel transport not configured")
)

func (d *OutboundDispatcher) sendEmail(ctx context.Context, conv *domain.Conversation, msg *domain.Message, req SendRequest) (domain.DeliveryRefs, error) {
	if d.email == nil {
		return domain.DeliveryRefs{}, errUnavailable
	}
	to := domain.NormalizeEmail(firstNonEmpty(req.Recipient.Email, conv.Sender.Email))
	if to == "" {
		return domain.DeliveryRefs{}, errNoRecipient
	}
	subject := firstNonEmpty(req.Subject, conv.Subject)
	if subject != "" && conv.ChannelMeta.EmailThreadID != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	attachments := req.Attachments
	if attachments == nil {
		attachments = msg.Attachments
	}
	result, err := d.email.SendEmail(ctx, channels.EmailMessage{
		From:        d.emailFrom,
		To:          to,
		Subject:     subject,
		HTMLBody:    firstNonEmpty(msg.ContentHTML, msg.Content),
		TextBody:    msg.Content,
		InReplyTo:   firstNonEmpty(conv.ChannelMeta.InternetMessageID, conv.ChannelMeta.EmailMessageID),
		ThreadID:    conv.ChannelMeta.EmailThreadID,
		Attachments: attachments,
	})
	if err != nil {
		return domain.DeliveryRefs{}, err
	}
	return domain.DeliveryRefs{EmailMessageID: result.MessageID, EmailThreadID: result.ThreadID}, nil
}

func (d *OutboundDispatcher) sendWhatsApp(ctx context.Context, conv *domain.Conversation, msg *domain.Message, req SendRequest) (domain.DeliveryRefs, error) {
	if d.whatsapp == nil {
		return domain.DeliveryRefs{}, errUnavailable
	}
	to := domain.NormalizePhone(firstNonEmpty(req.Recipient.Phone, conv.ChannelMeta.WhatsAppPhone, conv.Sender.Phone))
	if to == "" {
		return domain.DeliveryRefs{}, errNoRecipient
	}
	out := channels.WhatsAppMessage{To: to, Body: msg.Content}
	if !channels.WithinServiceWindow(conv.LastInboundAt, d.now(), d.window) {
		if req.WhatsAppTemplate == nil || req.WhatsAppTemplate.Name == "" {
			return domain.DeliveryRefs{}, channels.ErrRequiresTemplate
		}
		out.Template = req.WhatsAppTemplate.Name
		out.TemplateLanguage = req.WhatsAppTemplate.Language
		out.TemplateComponents = req.WhatsAppTemplate.Components
	}
	result, err := d.whatsapp.SendWhatsApp(ctx, out)
	if err != nil {
		return domain.DeliveryRefs{}, err
	}
	return domain.DeliveryRefs{WhatsAppMessageID: result.ID, WhatsAppTemplate: out.Template}, nil
}

func channelError(ch domain.Channel, err error) *domain.ChannelError {
	ce := &domain.ChannelError{Channel: ch, Code: SendErrorProvider, Message: err.Error()}
	switch {
	case errors.Is(err, channels.ErrRequiresTemplate):
		ce.Code = SendErrorRequiresTemplate
		ce.RequiresTemplate = true
	case errors.Is(err, context.DeadlineExceeded):
		ce.Code = SendErrorTimeout
	case errors.Is(err, errNoRecipient):
		ce.Code = SendErrorNoRecipient
	case errors.Is(err, errUnavailable):
		ce.Code = SendErrorUnavailable
	}
	return ce
}

func mergeRefs(dst *domain.DeliveryRefs, src domain.DeliveryRefs) {
	if src.EmailMessageID != "" {
		dst.EmailMessageID = src.EmailMessageID
	}
	if src.EmailThreadID != "" {
		dst.EmailThreadID = src.EmailThreadID
	}
	if src.WhatsAppMessageID != "" {
		dst.WhatsAppMessageID = src.WhatsAppMessageID
	}
	if src.WhatsAppTemplate != "" {
		dst.WhatsAppTemplate = src.WhatsAppTemplate
	}
}

func normalizeChannels(requested []domain.Channel) ([]domain.Channel, error) {
	if len(requested) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	seen := map[domain.Channel]bool{}
	out := make([]domain.Channel, 0, len(requested))
	for _, ch := range requested {
		switch ch {
		case domain.ChannelEmail, domain.ChannelWhatsApp, domain.ChannelManual:
		default:
			return nil, errors.New("unsupported send channel: " + string(ch))
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out, nil
}
