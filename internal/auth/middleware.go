package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of this type, so nobody else can read
// or shadow the identity stored in the context.
type contextKey string

const identityKey contextKey = "identity"

// CookieName is the HttpOnly cookie the host application sets.
const CookieName = "token"

// RequireAuth enforces authentication on protected routes.
//
// The JWT is read from the "token" HttpOnly cookie, or from an
// "Authorization: Bearer" header for non-browser callers. The OAuth popup
// callback relies on the cookie: the provider redirects the popup back to
// us and the browser attaches it (SameSite=Lax allows top-level GETs).
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := extractIdentity(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity stores id in ctx. Handler tests use it to skip the JWT.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

var errNoToken = errors.New("auth: no token")

func extractIdentity(r *http.Request, tokens *TokenService) (Identity, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return tokens.Validate(cookie.Value)
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if bearer, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tokens.Validate(strings.TrimSpace(bearer))
		}
	}
	return Identity{}, errNoToken
}
