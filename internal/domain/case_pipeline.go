package domain

// PipelineEvent is a quote-ledger event that may move a case automatically.
type PipelineEvent string

const (
	PipelineEventQuoteDrafted  PipelineEvent = "quote_drafted"
	PipelineEventQuoteSent     PipelineEvent = "quote_sent"
	PipelineEventQuoteAccepted PipelineEvent = "quote_accepted"
	PipelineEventQuoteRejected PipelineEvent = "quote_rejected"
)

// PipelineEventForQuote maps a quote status onto the event it raises.
func PipelineEventForQuote(status QuoteStatus) (PipelineEvent, bool) {
	switch status {
	case QuoteStatusDraft:
		return PipelineEventQuoteDrafted, true
	case QuoteStatusSent:
		return PipelineEventQuoteSent, true
	case QuoteStatusAccepted:
		return PipelineEventQuoteAccepted, true
	case QuoteStatusRejected:
		return PipelineEventQuoteRejected, true
	}
	return "", false
}

var manualCaseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusNew:         {CaseStatusQualifying, CaseStatusLost, CaseStatusOnHold},
	CaseStatusQualifying:  {CaseStatusNew, CaseStatusQuoteSent, CaseStatusLost, CaseStatusOnHold},
	CaseStatusQuoteSent:   {CaseStatusQualifying, CaseStatusNegotiating, CaseStatusWon, CaseStatusLost, CaseStatusOnHold},
	CaseStatusNegotiating: {CaseStatusQuoteSent, CaseStatusWon, CaseStatusLost, CaseStatusOnHold},
	CaseStatusWon:         {},
	CaseStatusLost:        {},
}

// CanTransitionCase validates an operator-requested stage change. holdFrom is
// the stage a case was in before it went on hold; on_hold only returns there,
// or to lost.
func CanTransitionCase(from, to CaseStatus, holdFrom *CaseStatus) bool {
	if from == CaseStatusOnHold {
		if to == CaseStatusLost {
			return true
		}
		return holdFrom != nil && *holdFrom == to
	}
	for _, candidate := range manualCaseTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// NextCaseStatus is the single source of automatic case transitions. ok is
// false when the event leaves the case where it is.
func NextCaseStatus(current CaseStatus, event PipelineEvent) (next CaseStatus, ok bool) {
	switch event {
	case PipelineEventQuoteDrafted:
		if current == CaseStatusNew {
			return CaseStatusQualifying, true
		}
	case PipelineEventQuoteSent:
		if current == CaseStatusNew || current == CaseStatusQualifying {
			return CaseStatusQuoteSent, true
		}
	case PipelineEventQuoteAccepted:
		if !current.IsClosed() {
			return CaseStatusWon, true
		}
	}
	return current, false
}
