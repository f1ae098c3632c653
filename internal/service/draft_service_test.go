package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/ai"
	"github.com/spec-kit/crm-service/internal/config"
	"github.com/spec-kit/crm-service/internal/domain"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

type cannedGenerator struct {
	reply  string
	prompt string
}

func (g *cannedGenerator) Generate(_ context.Context, prompt string, _ ai.Options) (string, error) {
	g.prompt = prompt
	return g.reply, nil
}

func TestDraftReplyWaitsForApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gen := &cannedGenerator{reply: "  Thanks Jane, we will send samples this week.  "}
	drafts := NewDraftService(h.conversations, gen, nil)

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "Can I get samples?"))
	require.NoError(t, err)

	draft, err := drafts.DraftReply(ctx, operator, res.Conversation.ID, "mention free shipping")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusPendingApproval, draft.Message.Status)
	assert.True(t, draft.Message.AIGenerated)
	assert.Equal(t, "Thanks Jane, we will send samples this week.", draft.Message.Content)
	assert.Equal(t, domain.ConversationStatusOpen, draft.Conversation.Status)

	assert.Contains(t, gen.prompt, "Customer: Can I get samples?")
	assert.Contains(t, gen.prompt, "Instructions: mention free shipping")
}

func TestDraftReplyDisabledGenerator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	drafts := NewDraftService(h.conversations, ai.NewGenerator(config.AIConfig{}), nil)

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "", "hello"))
	require.NoError(t, err)

	_, err = drafts.DraftReply(ctx, operator, res.Conversation.ID, "")
	assert.True(t, apperrors.HasCode(err, "AI_DISABLED"))
}

func TestBuildDraftPromptSkipsUnsentDrafts(t *testing.T) {
	conv := &domain.Conversation{Channel: domain.ChannelWhatsApp, Sender: domain.SenderSnapshot{Name: "Ali"}}
	msgs := []domain.Message{
		{Direction: domain.DirectionInbound, Content: "hi"},
		{Direction: domain.DirectionOutbound, Status: domain.MessageStatusDraft, Content: "unsent draft"},
		{Direction: domain.DirectionOutbound, Status: domain.MessageStatusSent, Content: "hello Ali"},
	}

	prompt := buildDraftPrompt(conv, msgs, "")
	assert.Contains(t, prompt, "Customer: Ali")
	assert.Contains(t, prompt, "Us: hello Ali")
	assert.NotContains(t, prompt, "unsent draft")
	assert.NotContains(t, prompt, "Instructions:")
}
