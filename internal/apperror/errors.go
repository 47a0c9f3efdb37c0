// Package apperror carries the client-facing failure taxonomy of the API.
// Each AppError knows its HTTP status, a stable machine-readable type and a
// message that is safe to show. The wrapped Internal error is for logs only.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	TypeValidation         = "validation_error"
	TypeDuplicateEmail     = "duplicate_email"
	TypeInvalidCredentials = "invalid_credentials"
	TypeNotFound           = "not_found"
	TypeMethodNotAllowed   = "method_not_allowed"
	TypeInvalidOrExpired   = "invalid_or_expired"
	TypeDeliveryFailed     = "delivery_failed"
	TypeInternal           = "internal_error"
)

// AppError is the error type every handler failure is reduced to.
type AppError struct {
	Code     int
	Type     string
	Message  string
	Internal error
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// NewValidation is a 400 for missing or malformed input.
func NewValidation(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Type: TypeValidation, Message: message}
}

// NewDuplicateEmail is a 409 for signups against a registered address.
func NewDuplicateEmail() *AppError {
	return &AppError{Code: http.StatusConflict, Type: TypeDuplicateEmail, Message: "Email already in use"}
}

// NewInvalidCredentials is the single 401 for both unknown email and wrong
// password.
func NewInvalidCredentials() *AppError {
	return &AppError{Code: http.StatusUnauthorized, Type: TypeInvalidCredentials, Message: "Invalid credentials"}
}

// NewNotFound is a 404.
func NewNotFound(message string) *AppError {
	return &AppError{Code: http.StatusNotFound, Type: TypeNotFound, Message: message}
}

// NewMethodNotAllowed is a 405 for a known path hit with the wrong verb.
func NewMethodNotAllowed() *AppError {
	return &AppError{Code: http.StatusMethodNotAllowed, Type: TypeMethodNotAllowed, Message: "Method not allowed"}
}

// NewInvalidOrExpired is the single 400 for every reset token failure.
func NewInvalidOrExpired() *AppError {
	return &AppError{Code: http.StatusBadRequest, Type: TypeInvalidOrExpired, Message: "Invalid or expired reset token"}
}

// NewDeliveryFailed is a 500 for a notification that could not be sent.
func NewDeliveryFailed(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeDeliveryFailed,
		Message:  "Failed to send password reset email",
		Internal: err,
	}
}

// NewInternal is the catch-all 500. The client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "Internal server error",
		Internal: err,
	}
}

// From returns err as an *AppError, wrapping anything else as internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}
