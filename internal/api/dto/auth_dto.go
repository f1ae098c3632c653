package dto

import (
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
)

// LoginRequest payload for operator login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CreateOperatorRequest payload for a new operator account.
type CreateOperatorRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=AGENT SALES ADMIN"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	Operator  OperatorResponse `json:"operator"`
}

// OperatorResponse is the API view of an operator.
type OperatorResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Email     string              `json:"email"`
	Role      domain.OperatorRole `json:"role"`
	Active    bool                `json:"active"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewOperatorResponse maps an operator without its password hash.
func NewOperatorResponse(op *domain.Operator) OperatorResponse {
	return OperatorResponse{
		ID:        op.ID,
		Name:      op.Name,
		Email:     op.Email,
		Role:      op.Role,
		Active:    op.Active,
		CreatedAt: op.CreatedAt,
	}
}
