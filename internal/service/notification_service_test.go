package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/events"
)

func TestNotificationsFollowRecordedActivities(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	email := &fakeEmail{}
	NewNotificationService(dispatcher, email, nil, "crm@example.com", " sales@example.com ").RegisterHandlers()
	recorder := NewActivityRecorder(ActivityDependencies{Dispatcher: dispatcher})
	ctx := context.Background()

	recorder.Record(ctx, ActivityInput{
		Type:           domain.ActivityConversationCreated,
		ConversationID: "conv-1",
		Actor:          domain.WebhookActor(domain.ChannelEmail),
		Metadata:       map[string]any{"channel": "email", "subject": "Samples"},
	})
	recorder.Record(ctx, ActivityInput{
		Type:           domain.ActivityConversationCreated,
		ConversationID: "conv-2",
		Actor:          operator,
	})
	recorder.Record(ctx, ActivityInput{
		Type:     domain.ActivityCaseStatusChanged,
		CaseID:   "case-1",
		Actor:    operator,
		Metadata: map[string]any{"from": "new", "to": "qualifying"},
	})
	recorder.Record(ctx, ActivityInput{
		Type:     domain.ActivityCaseStatusChanged,
		CaseID:   "case-1",
		Actor:    operator,
		Metadata: map[string]any{"from": "negotiating", "to": "won"},
	})

	require.Len(t, email.sent, 2)
	assert.Equal(t, "sales@example.com", email.sent[0].To)
	assert.Equal(t, "crm@example.com", email.sent[0].From)
	assert.Equal(t, "[CRM] New email conversation: Samples", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].TextBody, "Conversation: conv-1")
	assert.Equal(t, "[CRM] Case closed as won", email.sent[1].Subject)
	assert.Contains(t, email.sent[1].TextBody, "Case: case-1")
}

func TestNotificationsWithoutRecipientOnlyLog(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	email := &fakeEmail{}
	NewNotificationService(dispatcher, email, nil, "crm@example.com", "").RegisterHandlers()

	NewActivityRecorder(ActivityDependencies{Dispatcher: dispatcher}).Record(context.Background(), ActivityInput{
		Type:           domain.ActivityMessageSendFailed,
		ConversationID: "conv-1",
		Actor:          operator,
	})
	assert.Empty(t, email.sent)
}

// heldEmail blocks every send until released.
type heldEmail struct {
	fakeEmail
	release chan struct{}
}

func (f *heldEmail) SendEmail(ctx context.Context, msg channels.EmailMessage) (channels.EmailResult, error) {
	<-f.release
	return f.fakeEmail.SendEmail(ctx, msg)
}

func (f *heldEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRecordDoesNotWaitForNotificationDelivery(t *testing.T) {
	dispatcher := events.NewAsyncDispatcher(events.NewInMemoryDispatcher(nil), 16, nil)
	email := &heldEmail{release: make(chan struct{})}
	NewNotificationService(dispatcher, email, nil, "crm@example.com", "sales@example.com").RegisterHandlers()
	recorder := NewActivityRecorder(ActivityDependencies{Dispatcher: dispatcher})

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	recorder.Record(ctx, ActivityInput{
		Type:           domain.ActivityConversationCreated,
		ConversationID: "conv-1",
		Actor:          domain.WebhookActor(domain.ChannelEmail),
		Metadata:       map[string]any{"channel": "email", "subject": "Samples"},
	})
	cancel()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, email.count())

	close(email.release)
	assert.Eventually(t, func() bool { return email.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, dispatcher.Close(context.Background()))
}
