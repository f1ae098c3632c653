package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/domain"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// replyDraft ingests an inbound email and stores an outbound draft reply.
func replyDraft(t *testing.T, h *harness) (convID, msgID string) {
	t.Helper()
	ctx := context.Background()
	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "Can you quote 5k units?"))
	require.NoError(t, err)
	draft, err := h.conversations.AddMessage(ctx, operator, res.Conversation.ID, MessageInput{
		Direction: domain.DirectionOutbound,
		Content:   "Sure, quote attached.",
	})
	require.NoError(t, err)
	require.Equal(t, domain.MessageStatusDraft, draft.Message.Status)
	return res.Conversation.ID, draft.Message.ID
}

func TestApproveAndSendAllChannels(t *testing.T) {
	h := newHarness(t)
	convID, msgID := replyDraft(t, h)

	result, err := h.dispatcher.ApproveAndSend(context.Background(), operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp, domain.ChannelEmail},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp}, result.SentChannels)
	assert.Empty(t, result.Errors)
	assert.Equal(t, domain.MessageStatusSent, result.Message.Status)
	assert.Equal(t, domain.ConversationStatusPending, result.Conversation.Status)
	assert.Equal(t, domain.ReplyStatusAwaitingCustomer, result.Conversation.ReplyStatus)

	require.Len(t, h.email.sent, 1)
	assert.Equal(t, "jane@example.com", h.email.sent[0].To)
	assert.Equal(t, "Re: Private label inquiry", h.email.sent[0].Subject)
	assert.Equal(t, "thread-1", h.email.sent[0].ThreadID)
	require.Len(t, h.whatsapp.sent, 1)
	assert.Equal(t, "+15550100", h.whatsapp.sent[0].To)
	assert.Empty(t, h.whatsapp.sent[0].Template)

	_, err = h.dispatcher.ApproveAndSend(context.Background(), operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelEmail},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestApproveAndSendPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.whatsapp.err = errProviderDown
	convID, msgID := replyDraft(t, h)

	result, err := h.dispatcher.ApproveAndSend(context.Background(), operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, result.SentChannels)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ChannelWhatsApp, result.Errors[0].Channel)
	assert.Equal(t, SendErrorProvider, result.Errors[0].Code)
	assert.Equal(t, domain.MessageStatusSent, result.Message.Status)
	assert.Len(t, result.Message.SendErrors, 1)
	assert.Equal(t, "out-email-1", result.Message.Delivery.EmailMessageID)
}

func TestApproveAndSendTotalFailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.email.err = errProviderDown
	h.whatsapp.err = errProviderDown
	convID, msgID := replyDraft(t, h)
	ctx := context.Background()

	_, err := h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChannelDelivery))

	_, msgs, err := h.conversations.GetConversation(ctx, convID)
	require.NoError(t, err)
	var draft *domain.Message
	for i := range msgs {
		if msgs[i].ID == msgID {
			draft = &msgs[i]
		}
	}
	require.NotNil(t, draft)
	assert.Equal(t, domain.MessageStatusDraft, draft.Status)

	conv := h.conversation(t, convID)
	assert.Equal(t, domain.ConversationStatusOpen, conv.Status)
	assert.Equal(t, domain.ReplyStatusAwaitingUs, conv.ReplyStatus)

	h.email.err = nil
	result, err := h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelEmail},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, result.Message.Status)
}

func TestWhatsAppOutsideWindowRequiresTemplate(t *testing.T) {
	h := newHarness(t)
	convID, msgID := replyDraft(t, h)
	ctx := context.Background()
	h.advance(24 * time.Hour)

	_, err := h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelWhatsApp},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChannelDelivery))
	details := apperrors.ToDomainError(err).Details
	channelErrors, ok := details["errors"].([]domain.ChannelError)
	require.True(t, ok)
	require.Len(t, channelErrors, 1)
	assert.True(t, channelErrors[0].RequiresTemplate)
	assert.Equal(t, SendErrorRequiresTemplate, channelErrors[0].Code)
	assert.Empty(t, h.whatsapp.sent)

	result, err := h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{
		ConversationID:   convID,
		MessageID:        msgID,
		Channels:         []domain.Channel{domain.ChannelWhatsApp},
		WhatsAppTemplate: &WhatsAppTemplate{Name: "quote_follow_up", Language: "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "quote_follow_up", result.Message.Delivery.WhatsAppTemplate)
	require.Len(t, h.whatsapp.sent, 1)
	assert.Equal(t, "quote_follow_up", h.whatsapp.sent[0].Template)
}

func TestManualChannelAlwaysSucceeds(t *testing.T) {
	h := newHarness(t)
	h.email.err = errProviderDown
	convID, msgID := replyDraft(t, h)

	result, err := h.dispatcher.ApproveAndSend(context.Background(), operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelManual, domain.ChannelEmail},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{domain.ChannelManual}, result.SentChannels)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ChannelEmail, result.Errors[0].Channel)
}

func TestApproveAndSendRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	convID, msgID := replyDraft(t, h)
	ctx := context.Background()

	_, err := h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{ConversationID: convID, MessageID: msgID})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{
		ConversationID: convID,
		MessageID:      msgID,
		Channels:       []domain.Channel{domain.ChannelContactForm},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.dispatcher.ApproveAndSend(ctx, operator, SendRequest{
		ConversationID: convID,
		MessageID:      "missing",
		Channels:       []domain.Channel{domain.ChannelEmail},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

// stalledWhatsApp never answers on its own. With honourCtx it gives up when
// the context ends; otherwise it waits for release.
type stalledWhatsApp struct {
	honourCtx bool
	release   chan struct{}
}

func (f *stalledWhatsApp) SendWhatsApp(ctx context.Context, _ channels.WhatsAppMessage) (channels.WhatsAppResult, error) {
	if f.honourCtx {
		<-ctx.Done()
		return channels.WhatsAppResult{}, ctx.Err()
	}
	<-f.release
	return channels.WhatsAppResult{ID: "wamid.late"}, nil
}

func dispatcherWith(h *harness, whatsapp channels.WhatsAppSender, timeout time.Duration) *OutboundDispatcher {
	return NewOutboundDispatcher(DispatcherDependencies{
		ConversationRepo: h.store.Conversations,
		MessageRepo:      h.store.Messages,
		Email:            h.email,
		WhatsApp:         whatsapp,
		Activities:       h.activities,
		Clock:            func() time.Time { return h.now },
		SendTimeout:      timeout,
		WhatsAppWindow:   24 * time.Hour,
	})
}

func TestApproveAndSendTimedOutChannelFailsAlone(t *testing.T) {
	tests := []struct {
		name      string
		honourCtx bool
	}{
		{"transport honours context", true},
		{"transport ignores context", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			convID, msgID := replyDraft(t, h)
			slow := &stalledWhatsApp{honourCtx: tt.honourCtx, release: make(chan struct{})}
			defer close(slow.release)
			dispatcher := dispatcherWith(h, slow, 50*time.Millisecond)

			start := time.Now()
			result, err := dispatcher.ApproveAndSend(context.Background(), operator, SendRequest{
				ConversationID: convID,
				MessageID:      msgID,
				Channels:       []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp},
			})
			require.NoError(t, err)
			assert.Less(t, time.Since(start), time.Second)

			assert.Equal(t, []domain.Channel{domain.ChannelEmail}, result.SentChannels)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, domain.ChannelWhatsApp, result.Errors[0].Channel)
			assert.Equal(t, SendErrorTimeout, result.Errors[0].Code)
			assert.Equal(t, domain.MessageStatusSent, result.Message.Status)
			assert.Empty(t, result.Message.Delivery.WhatsAppMessageID)
		})
	}
}
