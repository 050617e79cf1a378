// Package apperror defines the error taxonomy shared by every layer.
//
// Each failure class is a sentinel. Constructors wrap the sentinel in an
// *AppError that carries a human-readable message, so callers can match with
// errors.Is and still show the user something sensible:
//
//	if errors.Is(err, apperror.ErrRateLimited) { ... }
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// OAuth outcomes.
	ErrAuthDenied   = errors.New("authorization denied")
	ErrPopupBlocked = errors.New("popup blocked")
	ErrTimeout      = errors.New("timed out")
	ErrCancelled    = errors.New("cancelled")

	// ErrAlreadyConnected is informational: the identity was connected before.
	ErrAlreadyConnected = errors.New("already connected")

	ErrNetwork      = errors.New("network error")
	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidToken = errors.New("invalid token")
	ErrPersistence  = errors.New("persistence error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Status  int    // Optional: upstream HTTP status
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func AuthDenied(platform string) *AppError {
	return &AppError{
		Err:     ErrAuthDenied,
		Message: fmt.Sprintf("%s authorization was denied", platform),
	}
}

func PopupBlocked() *AppError {
	return &AppError{
		Err:     ErrPopupBlocked,
		Message: "the authorization window was blocked; allow popups and try again",
	}
}

func Timeout(what string) *AppError {
	return &AppError{
		Err:     ErrTimeout,
		Message: fmt.Sprintf("%s timed out", what),
	}
}

func Cancelled(what string) *AppError {
	return &AppError{
		Err:     ErrCancelled,
		Message: fmt.Sprintf("%s was cancelled", what),
	}
}

func AlreadyConnected(platform, id string) *AppError {
	return &AppError{
		Err:     ErrAlreadyConnected,
		Message: fmt.Sprintf("%s account %s is already connected", platform, id),
	}
}

// Network wraps a transport failure (or an upstream 5xx).
func Network(op string, cause error) *AppError {
	msg := fmt.Sprintf("%s: network error", op)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", op, cause)
	}
	return &AppError{
		Err:     errors.Join(ErrNetwork, cause),
		Message: msg,
	}
}

func RateLimited(surface string, resetAt time.Time) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: fmt.Sprintf("rate limited on %s, resets at %s", surface, resetAt.UTC().Format(time.RFC3339)),
		Status:  429,
	}
}

func InvalidToken(status int, message string) *AppError {
	if message == "" {
		message = "access token was rejected"
	}
	return &AppError{
		Err:     ErrInvalidToken,
		Message: message,
		Status:  status,
	}
}

func Persistence(op string, cause error) *AppError {
	msg := fmt.Sprintf("%s failed", op)
	if cause != nil {
		msg = fmt.Sprintf("%s failed: %v", op, cause)
	}
	return &AppError{
		Err:     errors.Join(ErrPersistence, cause),
		Message: msg,
	}
}
