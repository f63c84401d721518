package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the service and HTTP layers.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodeInternal              = "INTERNAL_ERROR"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeTransitionBlocked     = "TRANSITION_BLOCKED"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewInvalidStatus reports a status that is not part of an organization's workflow.
func NewInvalidStatus(status string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["status"] = status
	return NewDomainError(CodeInvalidStatus, fmt.Sprintf("unknown status %q", status), http.StatusUnprocessableEntity, details)
}

// NewInvalidInput reports malformed caller-supplied data.
func NewInvalidInput(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidInput, message, http.StatusBadRequest, details)
}

// NewTransitionBlocked reports a status change rejected by required workflow rules.
func NewTransitionBlocked(required, recommended []string) error {
	return NewDomainError(CodeTransitionBlocked, "status transition blocked", http.StatusConflict, map[string]any{
		"required":    required,
		"recommended": recommended,
	})
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
