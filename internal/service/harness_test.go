package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	"github.com/spec-kit/crm-service/internal/repository/memory"
)

var operator = domain.Actor{Type: domain.ActorTypeOperator, ID: "op-1", Role: domain.OperatorRoleSales}

var admin = domain.Actor{Type: domain.ActorTypeOperator, ID: "op-admin", Role: domain.OperatorRoleAdmin}

type harness struct {
	store         *memory.Store
	now           time.Time
	customers     *CustomerResolver
	activities    *ActivityRecorder
	conversations *ConversationService
	cases         *CaseService
	email         *fakeEmail
	whatsapp      *fakeWhatsApp
	dispatcher    *OutboundDispatcher
}

type harnessOption func(deps *ConversationDependencies)

func withConversationRepo(wrap func(repository.ConversationRepository) repository.ConversationRepository) harnessOption {
	return func(deps *ConversationDependencies) {
		deps.ConversationRepo = wrap(deps.ConversationRepo)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		now:      time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		email:    &fakeEmail{},
		whatsapp: &fakeWhatsApp{},
	}
	clock := func() time.Time { return h.now }

	h.activities = NewActivityRecorder(ActivityDependencies{ActivityRepo: h.store.Activities, Clock: clock})
	h.customers = NewCustomerResolver(CustomerDependencies{CustomerRepo: h.store.Customers, Clock: clock})

	deps := ConversationDependencies{
		ConversationRepo: h.store.Conversations,
		MessageRepo:      h.store.Messages,
		Customers:        h.customers,
		Activities:       h.activities,
		Clock:            clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.conversations = NewConversationService(deps)
	h.cases = NewCaseService(CaseDependencies{
		CaseRepo:      h.store.Cases,
		Conversations: h.conversations,
		Customers:     h.customers,
		Activities:    h.activities,
		Clock:         clock,
	})
	h.dispatcher = NewOutboundDispatcher(DispatcherDependencies{
		ConversationRepo: h.store.Conversations,
		MessageRepo:      h.store.Messages,
		Email:            h.email,
		WhatsApp:         h.whatsapp,
		Activities:       h.activities,
		Clock:            clock,
		EmailFrom:        "sales@example.com",
		SendTimeout:      time.Second,
		WhatsAppWindow:   24 * time.Hour,
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) conversation(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	conv, _, err := h.conversations.GetConversation(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func (h *harness) activitiesOf(t *testing.T, filter repository.ActivityFilter, typ domain.ActivityType) []domain.Activity {
	t.Helper()
	all, err := h.activities.List(context.Background(), filter)
	require.NoError(t, err)
	var out []domain.Activity
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func emailEvent(messageID, threadID, body string) InboundEvent {
	return InboundEvent{
		Channel: domain.ChannelEmail,
		Sender:  domain.SenderSnapshot{Name: "Jane Doe", Email: "Jane@Example.com", Phone: "+1 555 0100"},
		Subject: "Private label inquiry",
		Content: body,
		Meta: domain.ChannelMetadata{
			EmailMessageID: messageID,
			EmailThreadID:  threadID,
		},
	}
}

func whatsappEvent(messageID, phone, body string) InboundEvent {
	return InboundEvent{
		Channel: domain.ChannelWhatsApp,
		Sender:  domain.SenderSnapshot{Name: "Ali", Phone: phone},
		Content: body,
		Meta:    domain.ChannelMetadata{WhatsAppMessageID: messageID, WhatsAppPhone: phone},
	}
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []channels.EmailMessage
	err  error
}

func (f *fakeEmail) SendEmail(_ context.Context, msg channels.EmailMessage) (channels.EmailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return channels.EmailResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	return channels.EmailResult{MessageID: "out-email-1", ThreadID: "thread-out"}, nil
}

type fakeWhatsApp struct {
	mu   sync.Mutex
	sent []channels.WhatsAppMessage
	err  error
}

func (f *fakeWhatsApp) SendWhatsApp(_ context.Context, msg channels.WhatsAppMessage) (channels.WhatsAppResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return channels.WhatsAppResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	return channels.WhatsAppResult{ID: "wamid.out-1"}, nil
}

// lostUpdateRepo fails every RecordMessage as if the conversation vanished.
type lostUpdateRepo struct {
	repository.ConversationRepository
}

func (lostUpdateRepo) RecordMessage(context.Context, string, repository.MessageApplied) (*domain.Conversation, error) {
	return nil, repository.ErrNotFound
}

// rejectingUpdateRepo fails every operator-side conversation update.
type rejectingUpdateRepo struct {
	repository.ConversationRepository
}

func (rejectingUpdateRepo) Update(context.Context, *domain.Conversation, domain.ConversationStatus) error {
	return errors.New("conversation store unavailable")
}

var errProviderDown = errors.New("provider returned 503")
