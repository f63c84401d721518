package domain

import "time"

// SubjectType differentiates users vs staff tokens.
type SubjectType string

const (
	SubjectTypeUser  SubjectType = "USER"
	SubjectTypeStaff SubjectType = "STAFF"
)

// Token is an issued bearer token and its metadata.
type Token struct {
	Value     string
	SubjectID string
	Subject   SubjectType
	Role      *StaffRole
	ExpiresAt time.Time
}
