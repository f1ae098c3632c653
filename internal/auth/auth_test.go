package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository/memory"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 15)

	token, exp, err := tm.GenerateToken("op-1", domain.OperatorRoleSales)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.Subject)
	assert.Equal(t, domain.OperatorRoleSales, claims.Role)

	_, err = NewTokenManager("other", 15).ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenRejectsForeignIssuer(t *testing.T) {
	claims := &Claims{
		Role: domain.OperatorRoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenManager("secret", 15).ParseToken(signed)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "correct horse"))
	assert.Error(t, ComparePassword(hash, "wrong horse"))
}

func newProtectedApp(t *testing.T, roles ...domain.OperatorRole) (*fiber.App, *TokenManager, *memory.Store) {
	t.Helper()
	store := memory.New()
	tm := NewTokenManager("secret", 15)
	mw := NewAuthMiddleware(tm, store.Operators)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
		},
	})
	app.Get("/me", mw.Handle, RequireRole(roles...), func(c *fiber.Ctx) error {
		return c.SendString(ActorFromContext(c).ID)
	})
	return app, tm, store
}

func addOperator(t *testing.T, store *memory.Store, id string, role domain.OperatorRole, active bool) {
	t.Helper()
	require.NoError(t, store.Operators.Create(context.Background(), &domain.Operator{
		ID:     id,
		Name:   id,
		Email:  id + "@example.com",
		Role:   role,
		Active: active,
	}))
}

func TestAuthMiddleware(t *testing.T) {
	app, tm, store := newProtectedApp(t, domain.OperatorRoleAdmin)
	addOperator(t, store, "admin-1", domain.OperatorRoleAdmin, true)
	addOperator(t, store, "agent-1", domain.OperatorRoleAgent, true)
	addOperator(t, store, "gone-1", domain.OperatorRoleAdmin, false)

	tokenFor := func(id string, role domain.OperatorRole) string {
		token, _, err := tm.GenerateToken(id, role)
		require.NoError(t, err)
		return "Bearer " + token
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"unknown operator", tokenFor("ghost", domain.OperatorRoleAdmin), http.StatusUnauthorized},
		{"inactive operator", tokenFor("gone-1", domain.OperatorRoleAdmin), http.StatusUnauthorized},
		{"insufficient role", tokenFor("agent-1", domain.OperatorRoleAgent), http.StatusForbidden},
		{"admin", tokenFor("admin-1", domain.OperatorRoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestActorFromContextDefaultsToSystem(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(string(ActorFromContext(c).Type))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
