package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/social-insights/internal/auth"
)

// AuthHandler covers the session endpoints of the API caller.
//
// Signing in is the host application's job: it sets the "token" cookie.
// This handler only reports who is signed in and tears their state down.
//
// HANDLER RESPONSIBILITIES:
//   - HandleMe     → who the cookie belongs to and where their accounts came from
//   - HandleLogout → stop pending work, wipe the cache namespace, clear the cookie
type AuthHandler struct {
	scopes Scopes
	logger *slog.Logger
}

func NewAuthHandler(scopes Scopes, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{scopes: scopes, logger: logger}
}

// HandleMe returns the authenticated caller.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":     s.UserID,
		"customerId": s.CustomerID,
		"source":     s.Source,
		"accounts":   len(s.Registry.List("")),
	})
}

// HandleLogout signs the caller out of the engine.
//
// HTTP: POST /auth/logout
//
// WHY POST AND NOT GET?
// Logout is a state-changing operation. Using GET would be vulnerable to
// CSRF and to browsers pre-fetching the URL.
//
// ORDER:
// Pending authorizations are cancelled and background waits stopped before
// the cache namespace is cleared, so nothing late can write into it. The
// cookie is cleared even when the wipe fails; the error is still reported.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "valid authentication required"})
		return
	}

	err := h.scopes.Logout(r.Context(), id.UserID)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if err != nil {
		h.logger.Error("logout failed",
			slog.String("userID", id.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
