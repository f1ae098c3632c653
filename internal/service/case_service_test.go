package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

func newCustomer(t *testing.T, h *harness, email string) string {
	t.Helper()
	id, err := h.customers.Resolve(context.Background(), ResolveInput{Email: email, FallbackName: "Buyer", AutoCreate: true})
	require.NoError(t, err)
	require.NotNil(t, id)
	return *id
}

func newCase(t *testing.T, h *harness, customerID string) *domain.Case {
	t.Helper()
	c, err := h.cases.CreateCase(context.Background(), operator, CaseInput{
		CustomerID: customerID,
		Title:      "Private label moisturizer",
		Type:       domain.CaseTypePrivateLabel,
		Financials: domain.Financials{EstimatedValue: 1200},
	})
	require.NoError(t, err)
	return c
}

func TestCreateCaseDefaults(t *testing.T) {
	h := newHarness(t)
	customerID := newCustomer(t, h, "buyer@example.com")

	c := newCase(t, h, customerID)
	assert.Equal(t, domain.CaseStatusNew, c.Status)
	assert.Equal(t, domain.CasePriorityMedium, c.Priority)
	assert.Equal(t, "USD", c.Financials.Currency)
	assert.NotEmpty(t, c.CaseNumber)
	require.Len(t, c.StatusHistory, 1)
	assert.Equal(t, domain.CaseStatusNew, c.StatusHistory[0].Status)

	customer, err := h.customers.Get(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, 1, customer.Stats.TotalCases)
	assert.Equal(t, 1, customer.Stats.OpenCases)

	_, err = h.cases.CreateCase(context.Background(), operator, CaseInput{CustomerID: "missing", Title: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = h.cases.CreateCase(context.Background(), operator, CaseInput{CustomerID: customerID, Title: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestQuotesAdvancePipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customerID := newCustomer(t, h, "buyer@example.com")
	c := newCase(t, h, customerID)

	c, draft, err := h.cases.AddQuoteToCase(ctx, operator, c.ID, QuoteInput{Amount: 900})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusDraft, draft.Status)
	assert.Equal(t, domain.CaseStatusQualifying, c.Status)

	c, _, err = h.cases.AddQuoteToCase(ctx, operator, c.ID, QuoteInput{Amount: 1500, Status: domain.QuoteStatusSent})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusQuoteSent, c.Status)
	assert.Equal(t, 1500.0, c.Financials.QuotedValue)

	negotiating := domain.CaseStatusNegotiating
	c, err = h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &negotiating, Note: "customer countered"})
	require.NoError(t, err)

	accepted := domain.QuoteStatusAccepted
	c, quote, err := h.cases.UpdateCaseQuote(ctx, operator, c.ID, draft.ID, QuotePatch{Status: &accepted})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusAccepted, quote.Status)
	assert.Equal(t, domain.CaseStatusWon, c.Status)
	assert.Equal(t, 900.0, c.Financials.FinalValue)
	assert.NotNil(t, c.ClosedAt)

	statuses := make([]domain.CaseStatus, 0, len(c.StatusHistory))
	for _, entry := range c.StatusHistory {
		statuses = append(statuses, entry.Status)
	}
	assert.Equal(t, []domain.CaseStatus{
		domain.CaseStatusNew,
		domain.CaseStatusQualifying,
		domain.CaseStatusQuoteSent,
		domain.CaseStatusNegotiating,
		domain.CaseStatusWon,
	}, statuses)

	customer, err := h.customers.Get(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, 0, customer.Stats.OpenCases)
	assert.Equal(t, 1, customer.Stats.WonCases)
	assert.Equal(t, 900.0, customer.Stats.TotalValue)

	_, _, err = h.cases.AddQuoteToCase(ctx, operator, c.ID, QuoteInput{Amount: 10})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestRejectedQuoteDoesNotMoveCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := newCase(t, h, newCustomer(t, h, "buyer@example.com"))

	c, sent, err := h.cases.AddQuoteToCase(ctx, operator, c.ID, QuoteInput{Amount: 400, Status: domain.QuoteStatusSent})
	require.NoError(t, err)
	require.Equal(t, domain.CaseStatusQuoteSent, c.Status)

	rejected := domain.QuoteStatusRejected
	c, _, err = h.cases.UpdateCaseQuote(ctx, operator, c.ID, sent.ID, QuotePatch{Status: &rejected})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusQuoteSent, c.Status)
	assert.Len(t, h.activitiesOf(t, repository.ActivityFilter{CaseID: &c.ID}, domain.ActivityQuoteRejected), 1)
}

func TestQuotedValueTracksLargestQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := newCase(t, h, newCustomer(t, h, "buyer@example.com"))

	var quoteIDs []string
	for _, amount := range []float64{100, 250, 80} {
		var q *domain.Quote
		var err error
		c, q, err = h.cases.AddQuoteToCase(ctx, operator, c.ID, QuoteInput{Amount: amount})
		require.NoError(t, err)
		quoteIDs = append(quoteIDs, q.ID)
	}
	assert.Equal(t, 250.0, c.Financials.QuotedValue)

	c, err := h.cases.DeleteQuoteFromCase(ctx, operator, c.ID, quoteIDs[1])
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.Financials.QuotedValue)

	for _, id := range []string{quoteIDs[0], quoteIDs[2]} {
		c, err = h.cases.DeleteQuoteFromCase(ctx, operator, c.ID, id)
		require.NoError(t, err)
	}
	assert.Empty(t, c.Quotes)
	assert.Equal(t, 0.0, c.Financials.QuotedValue)

	_, err = h.cases.DeleteQuoteFromCase(ctx, operator, c.ID, quoteIDs[0])
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestManualCaseTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := newCase(t, h, newCustomer(t, h, "buyer@example.com"))

	won := domain.CaseStatusWon
	_, err := h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &won})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	qualifying := domain.CaseStatusQualifying
	onHold := domain.CaseStatusOnHold
	negotiating := domain.CaseStatusNegotiating
	_, err = h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &qualifying})
	require.NoError(t, err)
	held, err := h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &onHold})
	require.NoError(t, err)
	require.NotNil(t, held.HoldFromStatus)
	assert.Equal(t, domain.CaseStatusQualifying, *held.HoldFromStatus)

	_, err = h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &negotiating})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	resumed, err := h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &qualifying})
	require.NoError(t, err)
	assert.Nil(t, resumed.HoldFromStatus)

	lost := domain.CaseStatusLost
	closed, err := h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &lost})
	require.NoError(t, err)
	assert.NotNil(t, closed.ClosedAt)

	title := "renamed"
	_, err = h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Title: &title})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	reopened, err := h.cases.UpdateCase(ctx, admin, c.ID, CasePatch{Status: &qualifying, Note: "reopened by admin"})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusQualifying, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
}

func TestWonWithoutFinalValueUsesQuotedValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := newCase(t, h, newCustomer(t, h, "buyer@example.com"))

	c, _, err := h.cases.AddQuoteToCase(ctx, operator, c.ID, QuoteInput{Amount: 700, Status: domain.QuoteStatusSent})
	require.NoError(t, err)

	won := domain.CaseStatusWon
	c, err = h.cases.UpdateCase(ctx, operator, c.ID, CasePatch{Status: &won})
	require.NoError(t, err)
	assert.Equal(t, 700.0, c.Financials.FinalValue)
	assert.Equal(t, 700.0, c.DealValue())
}

func TestCreateCaseFromConversationLinksBothWays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "Need 10k units"))
	require.NoError(t, err)

	c, conv, err := h.cases.CreateCaseFromConversation(ctx, operator, res.Conversation.ID, CaseInput{})
	require.NoError(t, err)
	assert.Equal(t, "Private label inquiry", c.Title)
	require.NotNil(t, c.SourceConversationID)
	assert.Equal(t, conv.ID, *c.SourceConversationID)
	assert.Contains(t, c.Description, "Source conversation: "+conv.ID)
	assert.Equal(t, *res.Conversation.CustomerID, c.CustomerID)
	assert.Equal(t, domain.ConversationStatusConverted, conv.Status)
	require.NotNil(t, conv.LinkedCaseID)
	assert.Equal(t, c.ID, *conv.LinkedCaseID)

	_, _, err = h.cases.CreateCaseFromConversation(ctx, operator, conv.ID, CaseInput{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	require.NoError(t, h.cases.DeleteCase(ctx, admin, c.ID))
	released := h.conversation(t, conv.ID)
	assert.Equal(t, domain.ConversationStatusOpen, released.Status)
	assert.Nil(t, released.LinkedCaseID)

	customer, err := h.customers.Get(ctx, c.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, 0, customer.Stats.TotalCases)
	assert.Equal(t, 0, customer.Stats.OpenCases)
}

func TestLinkConversationToExistingCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "Need 10k units"))
	require.NoError(t, err)
	c := newCase(t, h, *res.Conversation.CustomerID)

	linkedCase, conv, err := h.cases.LinkConversation(ctx, operator, c.ID, res.Conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, linkedCase.SourceConversationID)
	assert.Equal(t, conv.ID, *linkedCase.SourceConversationID)
	assert.Equal(t, domain.ConversationStatusConverted, conv.Status)
	require.NotNil(t, conv.LinkedCaseID)
	assert.Equal(t, c.ID, *conv.LinkedCaseID)

	_, _, err = h.cases.LinkConversation(ctx, operator, c.ID, conv.ID)
	require.NoError(t, err)

	require.NoError(t, h.cases.DeleteCase(ctx, admin, c.ID))
	released := h.conversation(t, conv.ID)
	assert.Equal(t, domain.ConversationStatusOpen, released.Status)
	assert.Nil(t, released.LinkedCaseID)
}

func TestLinkConversationRejectsUnknownOrTakenCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := domain.WebhookActor(domain.ChannelEmail)

	first, err := h.conversations.Ingest(ctx, actor, emailEvent("gmail-1", "thread-1", "hello"))
	require.NoError(t, err)
	second, err := h.conversations.Ingest(ctx, actor, emailEvent("gmail-2", "thread-2", "hello again"))
	require.NoError(t, err)

	_, _, err = h.cases.LinkConversation(ctx, operator, "no-such-case", first.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	untouched := h.conversation(t, first.Conversation.ID)
	assert.Equal(t, domain.ConversationStatusOpen, untouched.Status)
	assert.Nil(t, untouched.LinkedCaseID)

	c := newCase(t, h, *first.Conversation.CustomerID)
	_, _, err = h.cases.LinkConversation(ctx, operator, c.ID, first.Conversation.ID)
	require.NoError(t, err)

	_, _, err = h.cases.LinkConversation(ctx, operator, c.ID, second.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.Nil(t, h.conversation(t, second.Conversation.ID).LinkedCaseID)

	other := newCase(t, h, *first.Conversation.CustomerID)
	_, _, err = h.cases.LinkConversation(ctx, operator, other.ID, first.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	stored, err := h.cases.GetCase(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SourceConversationID)
}

func TestLinkConversationRollsBackCaseSource(t *testing.T) {
	h := newHarness(t, withConversationRepo(func(repo repository.ConversationRepository) repository.ConversationRepository {
		return rejectingUpdateRepo{repo}
	}))
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "thread-1", "hello"))
	require.NoError(t, err)
	c := newCase(t, h, *res.Conversation.CustomerID)

	_, _, err = h.cases.LinkConversation(ctx, operator, c.ID, res.Conversation.ID)
	require.Error(t, err)

	stored, err := h.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SourceConversationID)
	assert.Nil(t, h.conversation(t, res.Conversation.ID).LinkedCaseID)
}

func TestCreateCaseFromQuoteFormUsesQuoteRequestType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.CreateConversation(ctx, domain.WebhookActor(domain.ChannelQuoteForm),
		QuoteFormRecord{ID: "qf-1", Email: "buyer@example.com", ProductType: "Serum"}.Normalize())
	require.NoError(t, err)

	c, _, err := h.cases.CreateCaseFromConversation(ctx, operator, res.Conversation.ID, CaseInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseTypeQuoteRequest, c.Type)
}

func TestDeleteCaseToleratesMissingConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.conversations.Ingest(ctx, domain.WebhookActor(domain.ChannelEmail), emailEvent("gmail-1", "", "hello"))
	require.NoError(t, err)
	c, _, err := h.cases.CreateCaseFromConversation(ctx, operator, res.Conversation.ID, CaseInput{Title: "Samples"})
	require.NoError(t, err)

	require.NoError(t, h.conversations.DeleteConversation(ctx, admin, res.Conversation.ID))
	require.NoError(t, h.cases.DeleteCase(ctx, admin, c.ID))

	_, err = h.cases.GetCase(ctx, c.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	deleted := h.activitiesOf(t, repository.ActivityFilter{CaseID: &c.ID}, domain.ActivityCaseDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, true, deleted[0].Metadata["orphaned"])
}

func TestPipelineAndStatistics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customerID := newCustomer(t, h, "buyer@example.com")

	open := newCase(t, h, customerID)
	winner := newCase(t, h, customerID)
	loser := newCase(t, h, customerID)

	_, _, err := h.cases.AddQuoteToCase(ctx, operator, open.ID, QuoteInput{Amount: 300})
	require.NoError(t, err)
	_, _, err = h.cases.AddQuoteToCase(ctx, operator, winner.ID, QuoteInput{Amount: 2000, Status: domain.QuoteStatusAccepted})
	require.NoError(t, err)
	lost := domain.CaseStatusLost
	_, err = h.cases.UpdateCase(ctx, operator, loser.ID, CasePatch{Status: &lost})
	require.NoError(t, err)

	columns, err := h.cases.GetPipelineCases(ctx, PipelineFilter{})
	require.NoError(t, err)
	byStatus := map[domain.CaseStatus]PipelineColumn{}
	for _, col := range columns {
		byStatus[col.Status] = col
	}
	assert.NotContains(t, byStatus, domain.CaseStatusWon)
	assert.Equal(t, 1, byStatus[domain.CaseStatusQualifying].Count)
	assert.Equal(t, 300.0, byStatus[domain.CaseStatusQualifying].TotalValue)

	columns, err = h.cases.GetPipelineCases(ctx, PipelineFilter{IncludeClosed: true})
	require.NoError(t, err)
	assert.Len(t, columns, len(domain.PipelineStages))

	stats, err := h.cases.GetCaseStatistics(ctx, StatisticsFilter{CustomerID: &customerID})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2000.0, stats.WonValue)
	assert.Equal(t, 300.0, stats.PipelineValue)
	assert.InDelta(t, 0.5, stats.ConversionRate, 1e-9)
	assert.Equal(t, 2000.0, stats.AverageWonDeal)
}
