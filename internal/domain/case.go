package domain

import "time"

// CaseStatus enumerates pipeline stages.
type CaseStatus string

const (
	CaseStatusNew         CaseStatus = "new"
	CaseStatusQualifying  CaseStatus = "qualifying"
	CaseStatusQuoteSent   CaseStatus = "quote_sent"
	CaseStatusNegotiating CaseStatus = "negotiating"
	CaseStatusWon         CaseStatus = "won"
	CaseStatusLost        CaseStatus = "lost"
	CaseStatusOnHold      CaseStatus = "on_hold"
)

// PipelineStages lists the board columns in display order.
var PipelineStages = []CaseStatus{
	CaseStatusNew,
	CaseStatusQualifying,
	CaseStatusQuoteSent,
	CaseStatusNegotiating,
	CaseStatusOnHold,
	CaseStatusWon,
	CaseStatusLost,
}

// IsClosed reports whether the stage is terminal.
func (s CaseStatus) IsClosed() bool {
	return s == CaseStatusWon || s == CaseStatusLost
}

// Valid reports whether s is a known stage.
func (s CaseStatus) Valid() bool {
	for _, stage := range PipelineStages {
		if stage == s {
			return true
		}
	}
	return false
}

// CaseType classifies the opportunity.
type CaseType string

const (
	CaseTypeInquiry       CaseType = "inquiry"
	CaseTypeQuoteRequest  CaseType = "quote_request"
	CaseTypeSample        CaseType = "sample_request"
	CaseTypePrivateLabel  CaseType = "private_label"
	CaseTypeCustomFormula CaseType = "custom_formula"
	CaseTypeOther         CaseType = "other"
)

// CasePriority enumerates urgency.
type CasePriority string

const (
	CasePriorityLow    CasePriority = "low"
	CasePriorityMedium CasePriority = "medium"
	CasePriorityHigh   CasePriority = "high"
	CasePriorityUrgent CasePriority = "urgent"
)

// Financials tracks deal value.
type Financials struct {
	EstimatedValue float64 `json:"estimated_value"`
	QuotedValue    float64 `json:"quoted_value"`
	FinalValue     float64 `json:"final_value"`
	Currency       string  `json:"currency"`
}

// CaseProduct is a product line discussed in the case.
type CaseProduct struct {
	Name      string  `json:"name"`
	SKU       string  `json:"sku,omitempty"`
	Quantity  int     `json:"quantity,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// QuoteStatus enumerates quote lifecycle states.
type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "draft"
	QuoteStatusSent     QuoteStatus = "sent"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
	QuoteStatusExpired  QuoteStatus = "expired"
)

// Valid reports whether s is a known quote status.
func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteStatusDraft, QuoteStatusSent, QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired:
		return true
	}
	return false
}

// Quote is an entry in the case quote ledger.
type Quote struct {
	ID         string      `json:"id"`
	Amount     float64     `json:"amount"`
	Currency   string      `json:"currency"`
	ValidUntil *time.Time  `json:"valid_until,omitempty"`
	Status     QuoteStatus `json:"status"`
	Notes      string      `json:"notes,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// StatusHistoryEntry is an append-only record of a case stage change.
type StatusHistoryEntry struct {
	Status         CaseStatus `json:"status"`
	PreviousStatus CaseStatus `json:"previous_status,omitempty"`
	ChangedBy      string     `json:"changed_by"`
	ChangedAt      time.Time  `json:"changed_at"`
	Note           string     `json:"note,omitempty"`
}

// Case is a sales opportunity tracked through the pipeline.
type Case struct {
	ID                   string
	CaseNumber           string
	CustomerID           string
	SourceConversationID *string
	Title                string
	Description          string
	Type                 CaseType
	Status               CaseStatus
	HoldFromStatus       *CaseStatus
	Priority             CasePriority
	AssignedTo           *string
	Tags                 []string
	Financials           Financials
	Products             []CaseProduct
	Quotes               []Quote
	StatusHistory        []StatusHistoryEntry
	ExpectedCloseDate    *time.Time
	ActualCloseDate      *time.Time
	ClosedAt             *time.Time
	CreatedBy            string
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FindQuote returns the index of the quote with id, or -1.
func (c *Case) FindQuote(id string) int {
	for i := range c.Quotes {
		if c.Quotes[i].ID == id {
			return i
		}
	}
	return -1
}

// RecomputeQuotedValue sets QuotedValue to the largest quote amount, or 0.
func (c *Case) RecomputeQuotedValue() {
	max := 0.0
	for _, q := range c.Quotes {
		if q.Amount > max {
			max = q.Amount
		}
	}
	c.Financials.QuotedValue = max
}

// DealValue is the best known value of the opportunity.
func (c *Case) DealValue() float64 {
	switch {
	case c.Status == CaseStatusWon:
		return c.Financials.FinalValue
	case c.Financials.QuotedValue > 0:
		return c.Financials.QuotedValue
	default:
		return c.Financials.EstimatedValue
	}
}

// StatsContribution is what this case adds to its customer's aggregates.
func (c *Case) StatsContribution() CustomerStatsDelta {
	d := CustomerStatsDelta{TotalCases: 1}
	switch c.Status {
	case CaseStatusWon:
		d.WonCases = 1
		d.TotalValue = c.Financials.FinalValue
	case CaseStatusLost:
		d.LostCases = 1
	default:
		d.OpenCases = 1
	}
	return d
}
