package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextConversationStatus(t *testing.T) {
	tests := []struct {
		name    string
		current ConversationStatus
		event   ConversationEvent
		want    ConversationStatus
		ok      bool
	}{
		{"inbound reopens closed", ConversationStatusClosed, ConversationEventInbound, ConversationStatusOpen, true},
		{"inbound wakes snoozed", ConversationStatusSnoozed, ConversationEventInbound, ConversationStatusOpen, true},
		{"inbound keeps converted", ConversationStatusConverted, ConversationEventInbound, ConversationStatusConverted, true},
		{"send moves open to pending", ConversationStatusOpen, ConversationEventOutboundSent, ConversationStatusPending, true},
		{"send keeps converted", ConversationStatusConverted, ConversationEventOutboundSent, ConversationStatusConverted, true},
		{"close pending", ConversationStatusPending, ConversationEventClose, ConversationStatusClosed, true},
		{"close converted rejected", ConversationStatusConverted, ConversationEventClose, "", false},
		{"snooze closed rejected", ConversationStatusClosed, ConversationEventSnooze, "", false},
		{"snooze expiry only from snoozed", ConversationStatusOpen, ConversationEventSnoozeExpired, "", false},
		{"reopen closed", ConversationStatusClosed, ConversationEventReopen, ConversationStatusOpen, true},
		{"reopen open rejected", ConversationStatusOpen, ConversationEventReopen, "", false},
		{"convert closed", ConversationStatusClosed, ConversationEventConvert, ConversationStatusConverted, true},
		{"convert twice rejected", ConversationStatusConverted, ConversationEventConvert, "", false},
		{"case deleted releases conversion", ConversationStatusConverted, ConversationEventCaseDeleted, ConversationStatusOpen, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextConversationStatus(tt.current, tt.event)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestReplyStatusAfter(t *testing.T) {
	rs, ok := ReplyStatusAfter(ConversationEventInbound)
	assert.True(t, ok)
	assert.Equal(t, ReplyStatusAwaitingUs, rs)

	rs, ok = ReplyStatusAfter(ConversationEventOutboundSent)
	assert.True(t, ok)
	assert.Equal(t, ReplyStatusAwaitingCustomer, rs)

	_, ok = ReplyStatusAfter(ConversationEventClose)
	assert.False(t, ok)
}

func TestCanTransitionCase(t *testing.T) {
	qualifying := CaseStatusQualifying

	assert.True(t, CanTransitionCase(CaseStatusNew, CaseStatusQualifying, nil))
	assert.True(t, CanTransitionCase(CaseStatusQuoteSent, CaseStatusWon, nil))
	assert.False(t, CanTransitionCase(CaseStatusNew, CaseStatusWon, nil))
	assert.False(t, CanTransitionCase(CaseStatusWon, CaseStatusNegotiating, nil))
	assert.False(t, CanTransitionCase(CaseStatusLost, CaseStatusNew, nil))

	assert.True(t, CanTransitionCase(CaseStatusOnHold, CaseStatusQualifying, &qualifying))
	assert.False(t, CanTransitionCase(CaseStatusOnHold, CaseStatusNegotiating, &qualifying))
	assert.True(t, CanTransitionCase(CaseStatusOnHold, CaseStatusLost, nil))
	assert.False(t, CanTransitionCase(CaseStatusOnHold, CaseStatusNew, nil))
}

func TestNextCaseStatus(t *testing.T) {
	tests := []struct {
		name    string
		current CaseStatus
		event   PipelineEvent
		want    CaseStatus
		moved   bool
	}{
		{"draft quote qualifies new case", CaseStatusNew, PipelineEventQuoteDrafted, CaseStatusQualifying, true},
		{"draft quote leaves negotiating", CaseStatusNegotiating, PipelineEventQuoteDrafted, CaseStatusNegotiating, false},
		{"sent quote from new", CaseStatusNew, PipelineEventQuoteSent, CaseStatusQuoteSent, true},
		{"sent quote from qualifying", CaseStatusQualifying, PipelineEventQuoteSent, CaseStatusQuoteSent, true},
		{"sent quote never moves backwards", CaseStatusNegotiating, PipelineEventQuoteSent, CaseStatusNegotiating, false},
		{"accepted quote wins", CaseStatusNegotiating, PipelineEventQuoteAccepted, CaseStatusWon, true},
		{"accepted quote on lost case", CaseStatusLost, PipelineEventQuoteAccepted, CaseStatusLost, false},
		{"rejected quote never moves", CaseStatusQuoteSent, PipelineEventQuoteRejected, CaseStatusQuoteSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, moved := NextCaseStatus(tt.current, tt.event)
			assert.Equal(t, tt.moved, moved)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecomputeQuotedValue(t *testing.T) {
	c := &Case{Quotes: []Quote{{ID: "a", Amount: 100}, {ID: "b", Amount: 250}, {ID: "c", Amount: 80}}}
	c.RecomputeQuotedValue()
	assert.Equal(t, 250.0, c.Financials.QuotedValue)

	c.Quotes = c.Quotes[:1]
	c.RecomputeQuotedValue()
	assert.Equal(t, 100.0, c.Financials.QuotedValue)

	c.Quotes = nil
	c.RecomputeQuotedValue()
	assert.Equal(t, 0.0, c.Financials.QuotedValue)
}

func TestStatsContribution(t *testing.T) {
	open := &Case{Status: CaseStatusQualifying}
	won := &Case{Status: CaseStatusWon, Financials: Financials{FinalValue: 500}}

	diff := won.StatsContribution().Sub(open.StatsContribution())
	assert.Equal(t, 0, diff.TotalCases)
	assert.Equal(t, -1, diff.OpenCases)
	assert.Equal(t, 1, diff.WonCases)
	assert.Equal(t, 500.0, diff.TotalValue)
	assert.True(t, open.StatsContribution().Sub(open.StatsContribution()).IsZero())
}

func TestCustomerStatsApply(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	var s CustomerStats
	s.Apply(CustomerStatsDelta{TotalConversations: 1, LastContactAt: &later})
	s.Apply(CustomerStatsDelta{TotalConversations: 1, LastContactAt: &earlier})

	assert.Equal(t, 2, s.TotalConversations)
	assert.Equal(t, later, *s.LastContactAt)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
	assert.Equal(t, "+15551234567", NormalizePhone("+1 (555) 123-4567"))
	assert.Equal(t, "5551234", NormalizePhone("555-1234"))
	assert.Equal(t, "", NormalizePhone("+"))
}

func TestMessageStatusMoves(t *testing.T) {
	assert.True(t, MessageStatusDraft.Editable())
	assert.True(t, MessageStatusPendingApproval.Editable())
	assert.False(t, MessageStatusSent.Editable())
	assert.True(t, CanMoveMessage(MessageStatusDraft, MessageStatusPendingApproval))
	assert.False(t, CanMoveMessage(MessageStatusPendingApproval, MessageStatusSent))
	assert.False(t, CanMoveMessage(MessageStatusSent, MessageStatusDraft))
}
