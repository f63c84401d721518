package domain

import "time"

// Team groups agents inside an organization.
type Team struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
