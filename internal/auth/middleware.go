package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

const operatorKey = "auth_operator"

// AuthMiddleware validates bearer tokens and loads the operator.
type AuthMiddleware struct {
	tokens    *TokenManager
	operators repository.OperatorRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, operators repository.OperatorRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, operators: operators}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	op, err := m.operators.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewUnauthorized("operator not found")
		}
		return apperrors.MapError(err)
	}
	if !op.Active {
		return apperrors.NewUnauthorized("operator inactive")
	}

	c.Locals(operatorKey, op)
	return c.Next()
}

// OperatorFromContext retrieves the authenticated operator.
func OperatorFromContext(c *fiber.Ctx) (*domain.Operator, bool) {
	op, ok := c.Locals(operatorKey).(*domain.Operator)
	return op, ok && op != nil
}

// ActorFromContext returns who is performing the request. Unauthenticated
// routes act as the system.
func ActorFromContext(c *fiber.Ctx) domain.Actor {
	if op, ok := OperatorFromContext(c); ok {
		return domain.OperatorActor(op)
	}
	return domain.SystemActor
}
