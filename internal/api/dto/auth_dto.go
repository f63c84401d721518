package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// LoginRequest payload for user and staff login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Subject   domain.SubjectType `json:"subject_type"`
	Role      *domain.StaffRole  `json:"role,omitempty"`
}

// PrincipalResponse identifies the logged-in account.
type PrincipalResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
}
