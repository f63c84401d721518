package domain

import "time"

// UserStatus represents lifecycle states for an end-user.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is a customer who submits tickets to an organization.
type User struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	PasswordHash   string
	Status         UserStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
