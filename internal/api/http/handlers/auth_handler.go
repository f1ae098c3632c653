package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/api/dto"
	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/service"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// AuthHandler exposes operator login and account management.
type AuthHandler struct {
	service *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{service: authService}
}

// Login POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	op, token, exp, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{
		Token:     token,
		ExpiresAt: exp,
		Operator:  dto.NewOperatorResponse(op),
	}})
}

// Me GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	op, ok := auth.OperatorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": dto.NewOperatorResponse(op)})
}

// CreateOperator POST /operators.
func (h *AuthHandler) CreateOperator(c *fiber.Ctx) error {
	var req dto.CreateOperatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	op, err := h.service.CreateOperator(c.UserContext(), service.OperatorInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     domain.OperatorRole(req.Role),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewOperatorResponse(op)})
}
