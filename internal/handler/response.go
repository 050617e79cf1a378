package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "rate_limited", "message": "rate limited on linkedin, resets at ..."}
//
// The front end switches on "error" to pick what to show (a reconnect
// button, a "resets at" hint, an "already connected" toast).

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/social-insights/internal/apperror"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE writing the body. Once
// Encode writes, the headers are sent and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping pairs a sentinel with its HTTP status and wire name. The
// first match wins, so more specific sentinels come first.
var errorMapping = []struct {
	target error
	status int
	name   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrAlreadyConnected, http.StatusConflict, "already_connected"},
	{apperror.ErrAuthDenied, http.StatusForbidden, "auth_denied"},
	{apperror.ErrPopupBlocked, http.StatusConflict, "popup_blocked"},
	{apperror.ErrCancelled, http.StatusConflict, "cancelled"},
	{apperror.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	// A rejected provider token is account state, not a failed login of
	// the API caller, so it is not a 401.
	{apperror.ErrInvalidToken, http.StatusConflict, "invalid_token"},
	{apperror.ErrPersistence, http.StatusBadGateway, "persistence_error"},
	{apperror.ErrNetwork, http.StatusBadGateway, "network_error"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.Is() walks the whole chain (via Unwrap), so an error wrapped with
// fmt.Errorf("registry: ...: %w", apperror.Persistence(...)) still maps to
// persistence_error.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"
		for _, m := range errorMapping {
			if errors.Is(err, m.target) {
				status, errorType = m.status, m.name
				break
			}
		}
		writeJSON(w, status, ErrorResponse{Error: errorType, Message: appErr.Message})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "timeout", Message: "the request took too long"})
		return
	}

	// Unknown error: never expose internal details to the client.
	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
