package dto

import (
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
)

// UpdateCustomerRequest edits identity fields.
type UpdateCustomerRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email   *string `json:"email" validate:"omitempty,email"`
	Phone   *string `json:"phone" validate:"omitempty,max=32"`
	Company *string `json:"company" validate:"omitempty,max=200"`
}

// CustomerResponse is the API view of a customer.
type CustomerResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Email     string               `json:"email,omitempty"`
	Phone     string               `json:"phone,omitempty"`
	Company   string               `json:"company,omitempty"`
	Stats     domain.CustomerStats `json:"stats"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewCustomerResponse maps a customer.
func NewCustomerResponse(c *domain.Customer) CustomerResponse {
	return CustomerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Company:   c.Company,
		Stats:     c.Stats,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// ActivityResponse is the API view of an activity record.
type ActivityResponse struct {
	ID             string              `json:"id"`
	Type           domain.ActivityType `json:"type"`
	ConversationID *string             `json:"conversation_id,omitempty"`
	CaseID         *string             `json:"case_id,omitempty"`
	CustomerID     *string             `json:"customer_id,omitempty"`
	PerformedBy    string              `json:"performed_by"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NewActivityResponses maps an activity list.
func NewActivityResponses(activities []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, ActivityResponse{
			ID:             a.ID,
			Type:           a.Type,
			ConversationID: a.ConversationID,
			CaseID:         a.CaseID,
			CustomerID:     a.CustomerID,
			PerformedBy:    a.PerformedBy,
			Metadata:       a.Metadata,
			CreatedAt:      a.CreatedAt,
		})
	}
	return out
}
