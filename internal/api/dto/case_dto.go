package dto

import (
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
)

// CaseProductDTO is a product line on a case.
type CaseProductDTO struct {
	Name      string  `json:"name" validate:"required"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity" validate:"gte=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Notes     string  `json:"notes"`
}

// CaseFields are shared by both case creation payloads.
type CaseFields struct {
	Title             string           `json:"title" validate:"max=300"`
	Description       string           `json:"description"`
	Type              string           `json:"type" validate:"omitempty,oneof=inquiry quote_request sample_request private_label custom_formula other"`
	Priority          string           `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssignedTo        *string          `json:"assigned_to"`
	Tags              []string         `json:"tags"`
	EstimatedValue    float64          `json:"estimated_value" validate:"gte=0"`
	Currency          string           `json:"currency" validate:"omitempty,len=3"`
	Products          []CaseProductDTO `json:"products" validate:"dive"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date"`
	Note              string           `json:"note"`
}

// CreateCaseRequest payload for a case opened directly on a customer.
type CreateCaseRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	CaseFields
}

// CreateCaseFromConversationRequest payload. The customer comes from the
// conversation.
type CreateCaseFromConversationRequest struct {
	CaseFields
}

// UpdateCaseRequest is a partial update.
type UpdateCaseRequest struct {
	Title             *string           `json:"title" validate:"omitempty,min=1,max=300"`
	Description       *string           `json:"description"`
	Type              *string           `json:"type" validate:"omitempty,oneof=inquiry quote_request sample_request private_label custom_formula other"`
	Priority          *string           `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssignedTo        *string           `json:"assigned_to"`
	Tags              *[]string         `json:"tags"`
	EstimatedValue    *float64          `json:"estimated_value" validate:"omitempty,gte=0"`
	FinalValue        *float64          `json:"final_value" validate:"omitempty,gte=0"`
	Currency          *string           `json:"currency" validate:"omitempty,len=3"`
	Products          *[]CaseProductDTO `json:"products"`
	ExpectedCloseDate *time.Time        `json:"expected_close_date"`
	Status            *string           `json:"status" validate:"omitempty,oneof=new qualifying quote_sent negotiating won lost on_hold"`
	Note              string            `json:"note"`
}

// QuoteRequest appends a quote.
type QuoteRequest struct {
	Amount     float64    `json:"amount" validate:"gte=0"`
	Currency   string     `json:"currency" validate:"omitempty,len=3"`
	ValidUntil *time.Time `json:"valid_until"`
	Status     string     `json:"status" validate:"omitempty,oneof=draft sent accepted rejected expired"`
	Notes      string     `json:"notes"`
}

// UpdateQuoteRequest is a partial quote update.
type UpdateQuoteRequest struct {
	Amount     *float64   `json:"amount" validate:"omitempty,gte=0"`
	Currency   *string    `json:"currency" validate:"omitempty,len=3"`
	ValidUntil *time.Time `json:"valid_until"`
	Status     *string    `json:"status" validate:"omitempty,oneof=draft sent accepted rejected expired"`
	Notes      *string    `json:"notes"`
}

// ToProducts converts request product lines.
func ToProducts(in []CaseProductDTO) []domain.CaseProduct {
	if in == nil {
		return nil
	}
	out := make([]domain.CaseProduct, 0, len(in))
	for _, p := range in {
		out = append(out, domain.CaseProduct{
			Name:      p.Name,
			SKU:       p.SKU,
			Quantity:  p.Quantity,
			UnitPrice: p.UnitPrice,
			Notes:     p.Notes,
		})
	}
	return out
}

// CaseResponse is the API view of a case.
type CaseResponse struct {
	ID                   string                      `json:"id"`
	CaseNumber           string                      `json:"case_number"`
	CustomerID           string                      `json:"customer_id"`
	SourceConversationID *string                     `json:"source_conversation_id"`
	Title                string                      `json:"title"`
	Description          string                      `json:"description"`
	Type                 domain.CaseType             `json:"type"`
	Status               domain.CaseStatus           `json:"status"`
	Priority             domain.CasePriority         `json:"priority"`
	AssignedTo           *string                     `json:"assigned_to"`
	Tags                 []string                    `json:"tags"`
	Financials           domain.Financials           `json:"financials"`
	Products             []domain.CaseProduct        `json:"products"`
	Quotes               []domain.Quote              `json:"quotes"`
	StatusHistory        []domain.StatusHistoryEntry `json:"status_history"`
	ExpectedCloseDate    *time.Time                  `json:"expected_close_date"`
	ActualCloseDate      *time.Time                  `json:"actual_close_date"`
	ClosedAt             *time.Time                  `json:"closed_at"`
	CreatedBy            string                      `json:"created_by"`
	Version              int                         `json:"version"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
}

// CaseCard is the compact case shown on the pipeline board.
type CaseCard struct {
	ID         string              `json:"id"`
	CaseNumber string              `json:"case_number"`
	CustomerID string              `json:"customer_id"`
	Title      string              `json:"title"`
	Type       domain.CaseType     `json:"type"`
	Priority   domain.CasePriority `json:"priority"`
	AssignedTo *string             `json:"assigned_to"`
	Value      float64             `json:"value"`
	Currency   string              `json:"currency"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// PipelineColumnResponse is one board column.
type PipelineColumnResponse struct {
	Status     domain.CaseStatus `json:"status"`
	Count      int               `json:"count"`
	TotalValue float64           `json:"total_value"`
	Cases      []CaseCard        `json:"cases"`
}

// NewCaseResponse maps a case.
func NewCaseResponse(c *domain.Case) CaseResponse {
	return CaseResponse{
		ID:                   c.ID,
		CaseNumber:           c.CaseNumber,
		CustomerID:           c.CustomerID,
		SourceConversationID: c.SourceConversationID,
		Title:                c.Title,
		Description:          c.Description,
		Type:                 c.Type,
		Status:               c.Status,
		Priority:             c.Priority,
		AssignedTo:           c.AssignedTo,
		Tags:                 nonNil(c.Tags),
		Financials:           c.Financials,
		Products:             nonNil(c.Products),
		Quotes:               nonNil(c.Quotes),
		StatusHistory:        nonNil(c.StatusHistory),
		ExpectedCloseDate:    c.ExpectedCloseDate,
		ActualCloseDate:      c.ActualCloseDate,
		ClosedAt:             c.ClosedAt,
		CreatedBy:            c.CreatedBy,
		Version:              c.Version,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// NewCaseResponses maps a case list.
func NewCaseResponses(cases []domain.Case) []CaseResponse {
	out := make([]CaseResponse, 0, len(cases))
	for i := range cases {
		out = append(out, NewCaseResponse(&cases[i]))
	}
	return out
}

// NewCaseCard maps a case onto a board card.
func NewCaseCard(c *domain.Case) CaseCard {
	return CaseCard{
		ID:         c.ID,
		CaseNumber: c.CaseNumber,
		CustomerID: c.CustomerID,
		Title:      c.Title,
		Type:       c.Type,
		Priority:   c.Priority,
		AssignedTo: c.AssignedTo,
		Value:      c.DealValue(),
		Currency:   c.Financials.Currency,
		UpdatedAt:  c.UpdatedAt,
	}
}
