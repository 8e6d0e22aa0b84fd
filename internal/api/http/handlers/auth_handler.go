package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/api/dto"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/helpdesk-kit/ticket-lifecycle/pkg/util"
)

// AuthHandler exposes directory-user login.
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
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput("invalid payload", nil)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperrors.NewInvalidInput("email and password required", nil)
	}

	result, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LoginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		Name:      result.User.Name,
		Email:     result.User.Email,
		RoleID:    result.User.RoleID,
	}})
}
