package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

func TestIngestSkipsRedeliveredEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := emailEvent("gmail-1", "thread-1", "Do you make private label serums?")

	first, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), event)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, outcomeCreated, first.Outcome)

	second, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), event)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, ReasonEmailMessageID, second.Reason)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	assert.Equal(t, 1, h.store.CountConversations())
	total, unread := h.store.CountMessages(first.Conversation.ID)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, unread)

	conv := h.conversation(t, first.Conversation.ID)
	assert.Equal(t, 1, conv.MessageCount)
	assert.Equal(t, 1, conv.UnreadCount)

	skips := h.activitiesOf(t, repository.ActivityFilter{ConversationID: &conv.ID}, domain.ActivityDuplicateSkipped)
	assert.Len(t, skips, 1)
}

func TestIngestAppendsToEmailThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelEmail)

	first, err := h.conversations.Ingest(ctx, actor, emailEvent("gmail-1", "thread-1", "Hello"))
	require.NoError(t, err)
	h.advance(time.Minute)
	second, err := h.conversations.Ingest(ctx, actor, emailEvent("gmail-2", "thread-1", "Any update?"))
	require.NoError(t, err)

	assert.Equal(t, outcomeAppended, second.Outcome)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, 2, second.Conversation.MessageCount)
	assert.Equal(t, 2, second.Conversation.UnreadCount)
	assert.Equal(t, "Any update?", second.Conversation.Preview)
	assert.Equal(t, 1, h.store.CountConversations())
}

func TestIngestKeepsOneWhatsAppThreadPerNumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelWhatsApp)

	first, err := h.conversations.Ingest(ctx, actor, whatsappEvent("wamid.1", "+44 7700 900123", "hi"))
	require.NoError(t, err)
	second, err := h.conversations.Ingest(ctx, actor, whatsappEvent("wamid.2", "+447700900123", "price list?"))
	require.NoError(t, err)
	again, err := h.conversations.Ingest(ctx, actor, whatsappEvent("wamid.2", "+447700900123", "price list?"))
	require.NoError(t, err)

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.True(t, again.Skipped)
	assert.Equal(t, ReasonWhatsAppMessageID, again.Reason)
	assert.Equal(t, 1, h.store.CountConversations())
	total, _ := h.store.CountMessages(first.Conversation.ID)
	assert.Equal(t, 2, total)
	assert.Equal(t, "+447700900123", h.conversation(t, first.Conversation.ID).ChannelMeta.WhatsAppPhone)
}

func TestIngestResolvesCustomerByEmailThenPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	byEmail, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "", "hello"))
	require.NoError(t, err)
	require.NotNil(t, byEmail.Conversation.CustomerID)

	byPhone, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelWhatsApp), whatsappEvent("wamid.1", "+15550100", "hi again"))
	require.NoError(t, err)
	require.NotNil(t, byPhone.Conversation.CustomerID)
	assert.Equal(t, *byEmail.Conversation.CustomerID, *byPhone.Conversation.CustomerID)

	customer, err := h.customers.Get(ctx, *byEmail.Conversation.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", customer.Email)
	assert.Equal(t, 2, customer.Stats.TotalConversations)
	require.NotNil(t, customer.Stats.LastContactAt)
}

func TestMarkReadClearsUnread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelEmail)

	res, err := h.conversations.Ingest(ctx, actor, emailEvent("gmail-1", "thread-1", "one"))
	require.NoError(t, err)
	_, err = h.conversations.Ingest(ctx, actor, emailEvent("gmail-2", "thread-1", "two"))
	require.NoError(t, err)

	conv, err := h.conversations.MarkRead(ctx, operator, res.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, 2, conv.MessageCount)

	total, unread := h.store.CountMessages(conv.ID)
	assert.Equal(t, conv.MessageCount, total)
	assert.Equal(t, conv.UnreadCount, unread)
}

func TestCloseAndReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "hello"))
	require.NoError(t, err)
	id := res.Conversation.ID

	closed, err := h.conversations.Close(ctx, operator, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	_, err = h.conversations.Close(ctx, operator, id)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	reopened, err := h.conversations.Reopen(ctx, operator, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)

	_, err = h.conversations.Close(ctx, operator, id)
	require.NoError(t, err)
	h.advance(time.Hour)
	_, err = h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-2", "thread-1", "still there?"))
	require.NoError(t, err)

	conv := h.conversation(t, id)
	assert.Equal(t, domain.ConversationStatusOpen, conv.Status)
	assert.Equal(t, domain.ReplyStatusAwaitingUs, conv.ReplyStatus)
	assert.Nil(t, conv.ClosedAt)
}

func TestConvertedConversationStaysConvertedOnInbound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "hello"))
	require.NoError(t, err)
	_, err = h.conversations.ConvertToCase(ctx, operator, res.Conversation.ID, "case-1")
	require.NoError(t, err)

	_, err = h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-2", "thread-1", "follow-up"))
	require.NoError(t, err)

	conv := h.conversation(t, res.Conversation.ID)
	assert.Equal(t, domain.ConversationStatusConverted, conv.Status)
	assert.Equal(t, 2, conv.MessageCount)

	_, err = h.conversations.ConvertToCase(ctx, operator, conv.ID, "case-2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	_, err = h.conversations.ConvertToCase(ctx, operator, conv.ID, "case-1")
	assert.NoError(t, err)
}

func TestSnoozeSweepReopensOnlyDueConversations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelWhatsApp)

	soon, err := h.conversations.Ingest(ctx, actor, whatsappEvent("wamid.1", "+15550101", "a"))
	require.NoError(t, err)
	later, err := h.conversations.Ingest(ctx, actor, whatsappEvent("wamid.2", "+15550102", "b"))
	require.NoError(t, err)

	_, err = h.conversations.Snooze(ctx, operator, soon.Conversation.ID, h.now.Add(-time.Minute))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.conversations.Snooze(ctx, operator, soon.Conversation.ID, h.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = h.conversations.Snooze(ctx, operator, later.Conversation.ID, h.now.Add(48*time.Hour))
	require.NoError(t, err)

	reopened, err := h.conversations.CheckSnoozed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened)

	h.advance(2 * time.Hour)
	reopened, err = h.conversations.CheckSnoozed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened)

	assert.Equal(t, domain.ConversationStatusOpen, h.conversation(t, soon.Conversation.ID).Status)
	assert.Nil(t, h.conversation(t, soon.Conversation.ID).SnoozedUntil)
	assert.Equal(t, domain.ConversationStatusSnoozed, h.conversation(t, later.Conversation.ID).Status)

	reopened, err = h.conversations.CheckSnoozed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened)
}

func TestAddMessageReportsConsistencyError(t *testing.T) {
	h := newHarness(t, withConversationRepo(func(repo repository.ConversationRepository) repository.ConversationRepository {
		return lostUpdateRepo{ConversationRepository: repo}
	}))
	ctx := context.Background()

	res, err := h.conversations.CreateConversation(ctx, operator, InboundEvent{
		Channel: domain.ChannelManual,
		Sender:  domain.SenderSnapshot{Email: "buyer@example.com"},
		Subject: "Phone call",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Message)

	_, err = h.conversations.AddMessage(ctx, operator, res.Conversation.ID, MessageInput{
		Direction: domain.DirectionInbound,
		Content:   "called about samples",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConsistency))

	total, _ := h.store.CountMessages(res.Conversation.ID)
	assert.Equal(t, 1, total)
}

func TestOnlyUnsentMessagesAreEditable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "", "hello"))
	require.NoError(t, err)
	convID := res.Conversation.ID

	draft, err := h.conversations.AddMessage(ctx, operator, convID, MessageInput{
		Direction:   domain.DirectionOutbound,
		Content:     "Thanks, attaching our catalogue.",
		AIGenerated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusPendingApproval, draft.Message.Status)
	assert.Equal(t, 2, draft.Conversation.MessageCount)
	assert.Equal(t, 1, draft.Conversation.UnreadCount)

	toDraft := domain.MessageStatusDraft
	edited, err := h.conversations.UpdateMessage(ctx, operator, convID, draft.Message.ID, MessagePatch{Status: &toDraft})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusDraft, edited.Status)

	toSent := domain.MessageStatusSent
	_, err = h.conversations.UpdateMessage(ctx, operator, convID, draft.Message.ID, MessagePatch{Status: &toSent})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	sent, err := h.conversations.AddMessage(ctx, operator, convID, MessageInput{
		Direction:   domain.DirectionOutbound,
		Content:     "Sent from my phone",
		AlreadySent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, sent.Message.Status)
	assert.Equal(t, domain.ConversationStatusPending, sent.Conversation.Status)
	assert.Equal(t, domain.ReplyStatusAwaitingCustomer, sent.Conversation.ReplyStatus)

	err = h.conversations.DeleteMessage(ctx, operator, convID, sent.Message.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	require.NoError(t, h.conversations.DeleteMessage(ctx, operator, convID, draft.Message.ID))
	conv := h.conversation(t, convID)
	total, _ := h.store.CountMessages(convID)
	assert.Equal(t, total, conv.MessageCount)
}

func TestImportLegacySkipsKnownRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	records := []LegacyRecord{
		ContactFormRecord{ID: "cf-1", Name: "Sam", Email: "sam@example.com", Message: "Do you ship to Canada?"},
		QuoteFormRecord{ID: "qf-1", Email: "buyer@example.com", ProductType: "Serum", Quantity: "5000"},
		EmailThreadRecord{ID: "et-1", ThreadID: "thread-9", MessageID: "gmail-9", FromEmail: "old@example.com", Subject: "Samples", Body: "Please send samples"},
	}

	first := h.conversations.ImportLegacy(ctx, domain.SystemActor, records)
	assert.Equal(t, 3, first.Created)
	assert.Zero(t, first.Failed)

	second := h.conversations.ImportLegacy(ctx, domain.SystemActor, records)
	assert.Equal(t, 3, second.Skipped)
	assert.Zero(t, second.Created)
	assert.Equal(t, 3, h.store.CountConversations())

	live, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-9", "thread-9", "Please send samples"))
	require.NoError(t, err)
	assert.True(t, live.Skipped)
}

func TestDeleteConversationReleasesKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := emailEvent("gmail-1", "thread-1", "hello")

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), event)
	require.NoError(t, err)
	require.NoError(t, h.conversations.DeleteConversation(ctx, admin, res.Conversation.ID))

	_, _, err = h.conversations.GetConversation(ctx, res.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	again, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), event)
	require.NoError(t, err)
	assert.False(t, again.Skipped)
	assert.NotEqual(t, res.Conversation.ID, again.Conversation.ID)
}

func TestConcurrentRedeliveryStoresOneConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelEmail)
	const deliveries = 24

	var (
		wg      sync.WaitGroup
		stored  atomic.Int32
		skipped atomic.Int32
		failed  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := h.conversations.Ingest(ctx, actor, emailEvent("gmail-1", "thread-1", "Do you make private label serums?"))
			switch {
			case err != nil:
				failed.Add(1)
			case res.Skipped:
				skipped.Add(1)
			default:
				stored.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.EqualValues(t, 1, stored.Load())
	assert.EqualValues(t, deliveries-1, skipped.Load())
	assert.Equal(t, 1, h.store.CountConversations())

	convs, err := h.store.Conversations.List(ctx, repository.ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	total, unread := h.store.CountMessages(convs[0].ID)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, unread)
	assert.Equal(t, 1, convs[0].MessageCount)
	assert.Equal(t, 1, convs[0].UnreadCount)
}

func TestConcurrentFirstMessagesShareEmailThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelEmail)
	const deliveries = 16

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := h.conversations.Ingest(ctx, actor, emailEvent(fmt.Sprintf("gmail-%d", i), "thread-1", "hello"))
			assert.NoError(t, err)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, h.store.CountConversations())
	convs, err := h.store.Conversations.List(ctx, repository.ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	total, unread := h.store.CountMessages(convs[0].ID)
	assert.Equal(t, deliveries, total)
	assert.Equal(t, total, convs[0].MessageCount)
	assert.Equal(t, unread, convs[0].UnreadCount)
}

func TestCountersMatchMessagesUnderConcurrentReadsAndAppends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-0", "thread-1", "first"))
	require.NoError(t, err)
	convID := res.Conversation.ID
	const appends = 50

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 1; i <= appends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := h.conversations.AddMessage(ctx, domain.WebhookActor(domain.ChannelEmail), convID, MessageInput{
				Direction: domain.DirectionInbound,
				Channel:   domain.ChannelEmail,
				Content:   fmt.Sprintf("follow-up %d", i),
				Keys:      domain.MessageKeys{EmailMessageID: fmt.Sprintf("gmail-%d", i)},
			})
			assert.NoError(t, err)
		}(i)
		if i%5 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := h.conversations.MarkRead(ctx, operator, convID)
				assert.NoError(t, err)
			}()
		}
	}
	close(start)
	wg.Wait()

	conv := h.conversation(t, convID)
	total, unread := h.store.CountMessages(convID)
	assert.Equal(t, appends+1, total)
	assert.Equal(t, total, conv.MessageCount)
	assert.Equal(t, unread, conv.UnreadCount)
}
