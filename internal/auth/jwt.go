// Package auth validates the JWTs that identify API callers.
//
// WHO ISSUES THE TOKEN?
// The host application signs the user in and issues an HS256 token with the
// shared secret. This service only verifies it. Generate exists for the
// host's integration tests and for local development.
//
// WHAT THE TOKEN CARRIES:
//
//	{"sub": "<userID>", "cid": "<customerID>", "iss": "social-insights", "exp": ...}
//
//   - sub namespaces the per-user cache, so two people sharing a browser
//     never see each other's accounts
//   - cid addresses the backend link-store (one customer can have several
//     users); it defaults to sub when absent
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "social-insights"

// DefaultTTL is the lifetime Generate gives a token.
const DefaultTTL = 15 * time.Minute

// Identity is who an authenticated request acts for.
type Identity struct {
	UserID     string
	CustomerID string
}

// TokenService handles JWT creation and validation.
//
// The same secret must be used for both operations. Keep it safe, rotate it
// periodically in production.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. "sub" holds the user id; CustomerID is our own
// private claim.
type claims struct {
	jwt.RegisteredClaims
	CustomerID string `json:"cid,omitempty"`
}

// Generate signs a token for id that expires after d.
func (s *TokenService) Generate(id Identity, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
		CustomerID: id.CustomerID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired (ExpiresAt is in the future)
//   - Issuer matches "social-insights"
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	id := Identity{UserID: c.Subject, CustomerID: c.CustomerID}
	if id.CustomerID == "" {
		id.CustomerID = id.UserID
	}
	return id, nil
}
