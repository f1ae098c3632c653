package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/domain"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// RequireRole ensures the operator has one of the allowed roles. An empty
// list only requires authentication.
func RequireRole(allowed ...domain.OperatorRole) fiber.Handler {
	allowedSet := make(map[domain.OperatorRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		op, ok := OperatorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[op.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
