package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Account errors. These are client-input errors and are safe to show to the caller.
var (
	ErrDuplicateAccount      = errors.New("username or email already exists")
	ErrInvalidCredentials    = errors.New("invalid username or password")
	ErrInvalidSession        = errors.New("invalid session")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired password reset token")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrWeakPassword    = errors.New("password does not meet requirements")
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrInvalidUsername = errors.New("invalid username format")

	// Rate limiting errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInternal hides storage and crypto failures from callers.
	ErrInternal = errors.New("internal error")
)

// Storage errors, never returned past the service layer.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// AppError wraps errors with additional context
type AppError struct {
	Err     error
	Message string
	Code    int
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error
func NewAppError(err error, message string, code int) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// Wrap attaches message and the status code of err for display. Errors
// outside the caller-facing taxonomy are replaced by ErrInternal.
func Wrap(err error, message string) *AppError {
	code := Code(err)
	if code == http.StatusInternalServerError {
		err = ErrInternal
	}
	return NewAppError(err, message, code)
}

// Code maps err to the HTTP status a caller would see.
func Code(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidOrExpiredToken),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidUsername):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err belongs to the caller-facing taxonomy
// and may be shown as-is.
func IsClientError(err error) bool {
	return Code(err) < http.StatusInternalServerError
}
