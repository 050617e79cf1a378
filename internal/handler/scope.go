package handler

import (
	"context"
	"net/http"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/auth"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/session"
)

// Scopes hands out the per-user state every API call works on.
// *session.Manager implements it.
type Scopes interface {
	Open(ctx context.Context, userID, customerID string) (*session.Scope, error)
	Logout(ctx context.Context, userID string) error
}

var _ Scopes = (*session.Manager)(nil)

// openScope resolves the caller's scope. On failure the error response has
// already been written and ok is false.
//
// The first call for a user hydrates the registry, so it can be slow (one
// link-store round trip). Later calls are a map lookup.
func openScope(w http.ResponseWriter, r *http.Request, scopes Scopes) (*session.Scope, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		// RequireAuth guards every route that gets here.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "valid authentication required"})
		return nil, false
	}
	s, err := scopes.Open(r.Context(), id.UserID, id.CustomerID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

// userContext ends when either the request or the user's scope ends, so a
// logout in another tab stops a long batch or backoff for this user.
func userContext(r *http.Request, s *session.Scope) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// parsePlatform reads a platform path or query value; "x" means twitter.
func parsePlatform(raw string) (model.Platform, error) {
	if raw == "" {
		return "", apperror.ValidationFailed("platform", "platform is required")
	}
	p, ok := model.ParsePlatform(raw)
	if !ok {
		return "", apperror.ValidationFailed("platform", "unsupported platform "+raw)
	}
	return p, nil
}
