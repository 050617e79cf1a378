// Package token classifies account credentials and keeps them usable.
//
// TOKEN KINDS:
//   - short_lived: what an OAuth code exchange returns (hours)
//   - long_lived: a short-lived token traded in for an extended one (weeks)
//   - never_expiring_page_token: a Facebook page token derived from a
//     long-lived user token; it has no enforced expiry
//
// Upgrades are best effort. A failed exchange leaves the account exactly as
// it was; it is never marked active just because an upgrade was attempted.
// Auth failures seen anywhere else (401/403) go through Invalidate so the
// account is flagged for reconnection instead of being retried.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/social-insights/internal/model"
)

// DefaultExpiryBuffer treats tokens expiring within five minutes as expired.
const DefaultExpiryBuffer = 5 * time.Minute

// Scope says which credential an auth failure was about.
type Scope int

const (
	ScopeUser Scope = iota
	ScopePage
)

// Grant is the outcome of one exchange call.
type Grant struct {
	AccessToken string
	// ExpiresAt is nil for never-expiring tokens.
	ExpiresAt *time.Time
}

// Exchanger performs the provider token exchanges, usually through the
// backend proxy (see HTTPExchanger).
type Exchanger interface {
	LongLived(ctx context.Context, platform model.Platform, accessToken string) (Grant, error)
	PageToken(ctx context.Context, platform model.Platform, userToken, pageID string) (Grant, error)
}

// Manager classifies, invalidates and upgrades account tokens.
type Manager struct {
	exchanger Exchanger
	logger    *slog.Logger
	now       func() time.Time
	// longLived lists the platforms that support the long-lived exchange.
	longLived map[model.Platform]bool
}

func NewManager(exchanger Exchanger, logger *slog.Logger) *Manager {
	return &Manager{
		exchanger: exchanger,
		logger:    logger,
		now:       time.Now,
		longLived: map[model.Platform]bool{
			model.PlatformFacebook:  true,
			model.PlatformInstagram: true,
		},
	}
}

// IsExpired reports whether the token expires within buffer. Accounts
// without an expiry never expire here; callers still handle 401s.
func (m *Manager) IsExpired(acc model.ConnectedAccount, buffer time.Duration) bool {
	if acc.TokenExpiresAt == nil {
		return false
	}
	return acc.TokenExpiresAt.Sub(m.now()) < buffer
}

// Classify derives the token status. A non-active status already recorded
// (by Invalidate) is kept until the account is reconnected. A page-only
// Facebook account counts its page tokens as its credential.
func (m *Manager) Classify(acc model.ConnectedAccount) model.TokenStatus {
	switch {
	case acc.TokenStatus != "" && acc.TokenStatus != model.TokenActive:
		return acc.TokenStatus
	case acc.Token == "" && !hasPageToken(acc):
		return model.TokenInvalidUserToken
	case m.IsExpired(acc, 0):
		return model.TokenExpired
	default:
		return model.TokenActive
	}
}

// Apply records Classify's verdict on acc. Anything but active flags the
// account for reconnection; an active verdict leaves the flag as it was.
func (m *Manager) Apply(acc *model.ConnectedAccount) {
	acc.TokenStatus = m.Classify(*acc)
	if acc.TokenStatus != model.TokenActive {
		acc.NeedsReconnection = true
	}
}

func hasPageToken(acc model.ConnectedAccount) bool {
	for _, p := range acc.Pages {
		if p.AccessToken != "" {
			return true
		}
	}
	return false
}

// Invalidate flags acc after an auth failure.
func (m *Manager) Invalidate(acc *model.ConnectedAccount, scope Scope, reason string) {
	status := model.TokenInvalidUserToken
	switch {
	case m.IsExpired(*acc, DefaultExpiryBuffer):
		status = model.TokenExpired
	case scope == ScopePage:
		status = model.TokenInvalidPageToken
	}

	acc.NeedsReconnection = true
	acc.TokenStatus = status
	acc.RefreshError = &reason

	m.logger.Warn("token: account needs reconnection",
		slog.String("accountID", acc.ID),
		slog.String("platform", string(acc.Platform)),
		slog.String("status", string(status)),
		slog.String("reason", reason),
	)
}

// Upgrade returns a copy of acc with upgraded credentials, plus the joined
// errors of any exchange that failed. The copy is always usable: failed
// exchanges leave their part untouched.
func (m *Manager) Upgrade(ctx context.Context, acc model.ConnectedAccount) (model.ConnectedAccount, error) {
	out := acc.Clone()
	if m.exchanger == nil {
		return out, nil
	}
	var errs []error

	if out.TokenType == model.TokenShortLived && out.Token != "" && m.longLived[out.Platform] {
		grant, err := m.exchanger.LongLived(ctx, out.Platform, out.Token)
		if err != nil {
			errs = append(errs, fmt.Errorf("token: long-lived exchange: %w", err))
		} else {
			out.Token = grant.AccessToken
			out.TokenType = model.TokenLongLived
			out.TokenExpiresAt = grant.ExpiresAt
			out.LastRefreshed = m.now().UTC()
			out.TokenStatus = model.TokenActive
			out.NeedsReconnection = false
			out.RefreshError = nil
		}
	}

	// Never-expiring page tokens can only be derived from a long-lived user
	// token.
	if out.Platform == model.PlatformFacebook && out.TokenType == model.TokenLongLived {
		for i := range out.Pages {
			page := &out.Pages[i]
			if page.AccessToken == "" || page.TokenType == model.TokenNeverExpiringPage {
				continue
			}
			grant, err := m.exchanger.PageToken(ctx, out.Platform, out.Token, page.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("token: page %s exchange: %w", page.ID, err))
				continue
			}
			page.AccessToken = grant.AccessToken
			page.TokenType = model.TokenNeverExpiringPage
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.logger.Warn("token: upgrade incomplete, keeping current tokens",
			slog.String("accountID", out.ID),
			slog.String("error", err.Error()),
		)
		return out, err
	}
	return out, nil
}
