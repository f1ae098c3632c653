package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-service/internal/config"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository/memory"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

func newAuthService() *AuthService {
	cfg := config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 5, BcryptCost: 4}
	return NewAuthService(cfg, memory.New().Operators, nil)
}

func TestBootstrapCreatesAdminOnce(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	require.NoError(t, svc.Bootstrap(ctx, "Admin@Example.com", "changeme123"))
	require.NoError(t, svc.Bootstrap(ctx, "admin@example.com", "changeme123"))

	op, token, _, err := svc.Login(ctx, "admin@example.com", "changeme123")
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorRoleAdmin, op.Role)

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, op.ID, claims.Subject)
}

func TestBootstrapWithoutCredentialsIsNoop(t *testing.T) {
	svc := newAuthService()
	assert.NoError(t, svc.Bootstrap(context.Background(), "", ""))
	_, _, _, err := svc.Login(context.Background(), "admin@example.com", "x")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
}

func TestCreateOperatorValidation(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	tests := []struct {
		name string
		in   OperatorInput
		code string
	}{
		{"missing email", OperatorInput{Name: "A", Password: "longenough"}, apperrors.CodeValidation},
		{"short password", OperatorInput{Name: "A", Email: "a@example.com", Password: "short"}, apperrors.CodeValidation},
		{"unknown role", OperatorInput{Name: "A", Email: "a@example.com", Password: "longenough", Role: "OWNER"}, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOperator(ctx, tt.in)
			assert.True(t, apperrors.HasCode(err, tt.code))
		})
	}

	op, err := svc.CreateOperator(ctx, OperatorInput{Name: "Agent", Email: "agent@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorRoleAgent, op.Role)

	_, err = svc.CreateOperator(ctx, OperatorInput{Name: "Agent", Email: "AGENT@example.com", Password: "longenough"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, _, _, err = svc.Login(ctx, "agent@example.com", "wrong-password")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
}
