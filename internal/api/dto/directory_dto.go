package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TeamResponse describes a team.
type TeamResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// StaffMemberResponse describes a staff member without credentials.
type StaffMemberResponse struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Email  string           `json:"email"`
	Role   domain.StaffRole `json:"role"`
	TeamID *string          `json:"team_id"`
	Active bool             `json:"active"`
}
