package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthHandler exposes login endpoints for end-users and staff.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// LoginUser handles POST /auth/users/login.
func (h *AuthHandler) LoginUser(c *fiber.Ctx) error {
	req, err := parseLogin(c)
	if err != nil {
		return err
	}
	user, token, err := h.auth.LoginUser(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": dto.PrincipalResponse{
				ID:             user.ID,
				OrganizationID: user.OrganizationID,
				Name:           user.Name,
				Email:          user.Email,
			},
			"auth": authResponse(token),
		},
	})
}

// LoginStaff handles POST /auth/staff/login.
func (h *AuthHandler) LoginStaff(c *fiber.Ctx) error {
	req, err := parseLogin(c)
	if err != nil {
		return err
	}
	staff, token, err := h.auth.LoginStaff(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"staff": dto.PrincipalResponse{
				ID:             staff.ID,
				OrganizationID: staff.OrganizationID,
				Name:           staff.Name,
				Email:          staff.Email,
			},
			"auth": authResponse(token),
		},
	})
}

func parseLogin(c *fiber.Ctx) (dto.LoginRequest, error) {
	var req dto.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return req, apperrors.NewValidationError("email and password required", nil)
	}
	return req, nil
}

func authResponse(token domain.Token) dto.AuthResponse {
	return dto.AuthResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Subject:   token.Subject,
		Role:      token.Role,
	}
}
