package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/config"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// OperatorInput describes a new dashboard operator.
type OperatorInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.OperatorRole
}

// AuthService coordinates operator accounts and login.
type AuthService struct {
	operators  repository.OperatorRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
	now        Clock
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, operators repository.OperatorRepository, logger *zap.Logger) *AuthService {
	return &AuthService{
		operators:  operators,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
		logger:     loggerOrNop(logger),
		now:        clockOrNow(nil),
	}
}

// Bootstrap creates the first admin when credentials are configured and no
// operator with that email exists yet.
func (s *AuthService) Bootstrap(ctx context.Context, email, password string) error {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.operators.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	op, err := s.CreateOperator(ctx, OperatorInput{Name: "Administrator", Email: email, Password: password, Role: domain.OperatorRoleAdmin})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			return nil
		}
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("operator_id", op.ID))
	return nil
}

// CreateOperator registers a new operator account.
func (s *AuthService) CreateOperator(ctx context.Context, in OperatorInput) (*domain.Operator, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Email == "" || in.Name == "" {
		return nil, apperrors.NewValidationError("name and email are required", nil)
	}
	if len(in.Password) < auth.MinPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{"min_length": auth.MinPasswordLength})
	}
	switch in.Role {
	case domain.OperatorRoleAgent, domain.OperatorRoleSales, domain.OperatorRoleAdmin:
	case "":
		in.Role = domain.OperatorRoleAgent
	default:
		return nil, apperrors.NewValidationError("unknown operator role", map[string]any{"role": in.Role})
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	now := s.now()
	op := &domain.Operator{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.operators.Create(ctx, op); err != nil {
		if _, ok := repository.AsDuplicate(err); ok {
			return nil, apperrors.NewConflict("email already registered", nil)
		}
		return nil, apperrors.MapError(err)
	}
	return op, nil
}

// Login authenticates an operator and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Operator, string, time.Time, error) {
	op, err := s.operators.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if !op.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("operator inactive")
	}
	if err := auth.ComparePassword(op.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(op.ID, op.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return op, token, exp, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
