// Package analytics fetches per-post engagement without burning provider
// quota.
//
// DECISION ORDER for one post:
//  1. fresh cache entry (younger than FreshFor) → served, no network
//  2. account flagged for reconnection → cached or zero value, no network
//  3. surface in rate-limit cooldown → cached or zero value, no network
//  4. token expiring within token.DefaultExpiryBuffer → upgraded when the
//     platform allows it, otherwise flagged for reconnection, no network
//  5. network fetch, retried with exponential backoff on transient errors
//
// Failures never reach the caller as errors. They degrade to the last cached
// value (marked Stale) or to a zero-valued default, with flags that tell the
// UI why. A 429 starts a persisted cooldown that only wall-clock expiry ends.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/cache"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/token"
)

const (
	DefaultFreshFor    = time.Hour
	DefaultCooldown    = 24 * time.Hour
	DefaultBaseBackoff = time.Second
	DefaultMaxAttempts = 3
)

// Source performs the network call for one post.
type Source interface {
	PostMetrics(ctx context.Context, acc model.ConnectedAccount, postID string) (model.PostMetrics, error)
}

// Accounts is the part of the registry the fetcher needs.
type Accounts interface {
	Get(id string) (model.ConnectedAccount, bool)
	Replace(ctx context.Context, acc model.ConnectedAccount) error
}

// Invalidator flags accounts whose token was rejected.
type Invalidator interface {
	Invalidate(acc *model.ConnectedAccount, scope token.Scope, reason string)
}

// Tokens is the part of the token manager the fetcher needs.
type Tokens interface {
	Invalidator
	IsExpired(acc model.ConnectedAccount, buffer time.Duration) bool
	Upgrade(ctx context.Context, acc model.ConnectedAccount) (model.ConnectedAccount, error)
}

type Config struct {
	FreshFor    time.Duration
	Cooldown    time.Duration
	BaseBackoff time.Duration
	MaxAttempts int
	// PerAccountQuota lists platforms whose rate limit applies per account
	// rather than per platform.
	PerAccountQuota []model.Platform
}

func (c Config) withDefaults() Config {
	if c.FreshFor <= 0 {
		c.FreshFor = DefaultFreshFor
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Result is what the caller shows for one post.
type Result struct {
	AccountID string            `json:"accountId"`
	PostID    string            `json:"postId"`
	Metrics   model.PostMetrics `json:"metrics"`
	// CachedAt is nil for the zero-valued default.
	CachedAt          *time.Time `json:"cachedAt"`
	FromCache         bool       `json:"fromCache"`
	Stale             bool       `json:"stale"`
	RateLimited       bool       `json:"rateLimited"`
	ResetAt           *time.Time `json:"resetAt,omitempty"`
	NeedsReconnection bool       `json:"needsReconnection"`
}

type Fetcher struct {
	cfg      Config
	source   Source
	accounts Accounts
	tokens   Tokens
	store    *cache.Scoped
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, source Source, accounts Accounts, tokens Tokens, store *cache.Scoped, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		cfg:      cfg.withDefaults(),
		source:   source,
		accounts: accounts,
		tokens:   tokens,
		store:    store,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// outcome tells a batch whether it may keep dispatching.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeRateLimited
	outcomeReconnect
)

// FetchPostAnalytics returns the metrics of one post. The error is non-nil
// only for an unknown account or when ctx ends.
func (f *Fetcher) FetchPostAnalytics(ctx context.Context, accountID, postID string) (Result, error) {
	acc, ok := f.accounts.Get(accountID)
	if !ok {
		return Result{}, apperror.NotFound("account", accountID)
	}
	res, _, err := f.fetch(ctx, acc, postID, nil)
	return res, err
}

// Cached returns what is known about a post without any network call.
func (f *Fetcher) Cached(ctx context.Context, accountID, postID string) (Result, error) {
	acc, ok := f.accounts.Get(accountID)
	if !ok {
		return Result{}, apperror.NotFound("account", accountID)
	}
	entry, hasEntry := f.entry(ctx, accountID, postID)
	res := f.degraded(accountID, postID, entry, hasEntry)
	if state := f.rateLimit(ctx, f.surface(acc)); state.Active(f.now()) {
		res.RateLimited = true
		res.ResetAt = &state.ResetAt
	}
	res.NeedsReconnection = acc.NeedsReconnection
	return res, nil
}

// fetch resolves one post. A non-nil gate is waited on right before the
// first network call, so cache hits and degraded answers never pay for it.
func (f *Fetcher) fetch(ctx context.Context, acc model.ConnectedAccount, postID string, gate *rate.Limiter) (Result, outcome, error) {
	now := f.now()
	entry, hasEntry := f.entry(ctx, acc.ID, postID)
	if hasEntry && now.Sub(entry.CachedAt) < f.cfg.FreshFor {
		return f.fromEntry(entry, false), outcomeContinue, nil
	}

	if acc.NeedsReconnection {
		res := f.degraded(acc.ID, postID, entry, hasEntry)
		res.NeedsReconnection = true
		return res, outcomeReconnect, nil
	}

	surface := f.surface(acc)
	if state := f.rateLimit(ctx, surface); state.Active(now) {
		res := f.degraded(acc.ID, postID, entry, hasEntry)
		res.RateLimited = true
		res.ResetAt = &state.ResetAt
		return res, outcomeRateLimited, nil
	}

	if f.tokens.IsExpired(acc, token.DefaultExpiryBuffer) {
		renewed, ok := f.renew(ctx, acc)
		if !ok {
			res := f.degraded(acc.ID, postID, entry, hasEntry)
			res.NeedsReconnection = true
			return res, outcomeReconnect, nil
		}
		acc = renewed
	}

	if gate != nil {
		if err := gate.Wait(ctx); err != nil {
			return Result{}, outcomeContinue, err
		}
	}

	var lastErr error
retry:
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		metrics, err := f.source.PostMetrics(ctx, acc, postID)
		if err == nil {
			return f.remember(ctx, acc.ID, postID, metrics), outcomeContinue, nil
		}
		if ctx.Err() != nil {
			return Result{}, outcomeContinue, ctx.Err()
		}
		lastErr = err

		switch {
		case errors.Is(err, apperror.ErrRateLimited):
			state := f.startCooldown(ctx, surface)
			res := f.degraded(acc.ID, postID, entry, hasEntry)
			res.RateLimited = true
			res.ResetAt = &state.ResetAt
			return res, outcomeRateLimited, nil

		case errors.Is(err, apperror.ErrInvalidToken):
			f.invalidate(ctx, acc, err)
			res := f.degraded(acc.ID, postID, entry, hasEntry)
			res.NeedsReconnection = true
			return res, outcomeReconnect, nil

		case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrValidation):
			// The same request cannot succeed on retry.
			break retry
		}

		if attempt < f.cfg.MaxAttempts-1 {
			delay := f.cfg.BaseBackoff << attempt
			f.logger.Debug("analytics: retrying post metrics",
				slog.String("accountID", acc.ID),
				slog.String("postID", postID),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay),
			)
			if err := f.sleep(ctx, delay); err != nil {
				return Result{}, outcomeContinue, err
			}
		}
	}

	f.logger.Warn("analytics: post metrics unavailable, serving fallback",
		slog.String("accountID", acc.ID),
		slog.String("postID", postID),
		slog.Bool("cached", hasEntry),
		slog.String("error", lastErr.Error()),
	)
	return f.degraded(acc.ID, postID, entry, hasEntry), outcomeContinue, nil
}

// surface names the quota a call counts against.
func (f *Fetcher) surface(acc model.ConnectedAccount) string {
	if slices.Contains(f.cfg.PerAccountQuota, acc.Platform) {
		return string(acc.Platform) + ":" + acc.ID
	}
	return string(acc.Platform)
}

func (f *Fetcher) entry(ctx context.Context, accountID, postID string) (model.CacheEntry, bool) {
	var e model.CacheEntry
	ok, err := f.store.GetJSON(ctx, cache.AnalyticsKey(accountID, postID), &e)
	if err != nil {
		f.logger.Warn("analytics: unreadable cache entry",
			slog.String("accountID", accountID),
			slog.String("postID", postID),
			slog.String("error", err.Error()),
		)
		return model.CacheEntry{}, false
	}
	return e, ok
}

func (f *Fetcher) remember(ctx context.Context, accountID, postID string, m model.PostMetrics) Result {
	e := model.CacheEntry{AccountID: accountID, PostID: postID, Metrics: m, CachedAt: f.now().UTC()}
	if err := f.store.SetJSON(ctx, cache.AnalyticsKey(accountID, postID), e); err != nil {
		f.logger.Warn("analytics: caching post metrics failed",
			slog.String("accountID", accountID),
			slog.String("postID", postID),
			slog.String("error", err.Error()),
		)
	}
	res := f.fromEntry(e, false)
	res.FromCache = false
	return res
}

func (f *Fetcher) fromEntry(e model.CacheEntry, stale bool) Result {
	at := e.CachedAt
	return Result{
		AccountID: e.AccountID,
		PostID:    e.PostID,
		Metrics:   e.Metrics,
		CachedAt:  &at,
		FromCache: true,
		Stale:     stale,
	}
}

// degraded is the cached value (possibly stale) or the zero default.
func (f *Fetcher) degraded(accountID, postID string, e model.CacheEntry, ok bool) Result {
	if ok {
		return f.fromEntry(e, f.now().Sub(e.CachedAt) >= f.cfg.FreshFor)
	}
	return Result{AccountID: accountID, PostID: postID}
}

func (f *Fetcher) rateLimit(ctx context.Context, surface string) model.RateLimitState {
	var s model.RateLimitState
	if _, err := f.store.GetJSON(ctx, cache.RateLimitKey(surface), &s); err != nil {
		f.logger.Warn("analytics: unreadable rate-limit state",
			slog.String("surface", surface),
			slog.String("error", err.Error()),
		)
	}
	return s
}

func (f *Fetcher) startCooldown(ctx context.Context, surface string) model.RateLimitState {
	s := model.RateLimitState{Surface: surface, IsLimited: true, ResetAt: f.now().Add(f.cfg.Cooldown).UTC()}
	if err := f.store.SetJSON(ctx, cache.RateLimitKey(surface), s); err != nil {
		f.logger.Error("analytics: persisting rate-limit state failed",
			slog.String("surface", surface),
			slog.String("error", err.Error()),
		)
	}
	f.logger.Warn("analytics: rate limited",
		slog.String("surface", surface),
		slog.Time("resetAt", s.ResetAt),
	)
	return s
}

// renew trades an expiring token for a fresh one before any call is spent
// on it. When no exchange can help, the account is flagged for
// reconnection and false is returned.
func (f *Fetcher) renew(ctx context.Context, acc model.ConnectedAccount) (model.ConnectedAccount, bool) {
	up, err := f.tokens.Upgrade(ctx, acc)
	if err == nil && !f.tokens.IsExpired(up, token.DefaultExpiryBuffer) {
		if err := f.accounts.Replace(ctx, up); err != nil {
			f.logger.Warn("analytics: recording renewed token failed",
				slog.String("accountID", acc.ID),
				slog.String("error", err.Error()),
			)
		}
		return up, true
	}

	cause := errors.New("token expired")
	if err != nil {
		cause = fmt.Errorf("token expired and renewal failed: %w", err)
	}
	f.invalidate(ctx, acc, cause)
	return acc, false
}

func (f *Fetcher) invalidate(ctx context.Context, acc model.ConnectedAccount, cause error) {
	_, scope := Credential(acc)
	f.tokens.Invalidate(&acc, scope, cause.Error())
	if err := f.accounts.Replace(ctx, acc); err != nil {
		f.logger.Warn("analytics: recording reconnection flag failed",
			slog.String("accountID", acc.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Credential picks the token used for analytics calls: the account token,
// or the first page token of a page-only Facebook account.
func Credential(acc model.ConnectedAccount) (string, token.Scope) {
	if acc.Token == "" {
		for _, p := range acc.Pages {
			if p.AccessToken != "" {
				return p.AccessToken, token.ScopePage
			}
		}
	}
	return acc.Token, token.ScopeUser
}
