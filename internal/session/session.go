// Package session owns the per-user state of the engine.
//
// Every authenticated user gets one Scope: a cache namespace, an account
// registry, a token manager, an OAuth broker and an analytics fetcher. All
// of them hang off one context, so logging out can stop everything that
// might still write for that user.
//
// LOGOUT ORDER:
//  1. close the broker (pending OAuth listeners resolve as cancelled)
//  2. detach the cache view (later writes fail with cache.ErrDetached;
//     writes already running finish first)
//  3. cancel the scope context (backoff sleeps and batch staggers end)
//  4. clear the cache namespace
//
// A late response, such as a failed backend delete restoring its account,
// can no longer write into a namespace that was already wiped, and the next
// user on the device starts empty.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/social-insights/internal/analytics"
	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/cache"
	"github.com/sakif/social-insights/internal/oauth"
	"github.com/sakif/social-insights/internal/registry"
	"github.com/sakif/social-insights/internal/token"
)

// Deps are the shared collaborators every scope is built from.
type Deps struct {
	Store     cache.Store
	Links     registry.LinkStore
	Exchanger token.Exchanger
	Source    analytics.Source
	Profiles  oauth.ProfileFetcher
	// Opener is optional; the broker hands the URL to the client by default.
	Opener    oauth.Opener
	OAuth     oauth.Config
	Analytics analytics.Config
}

// Scope is everything that belongs to one signed-in user.
type Scope struct {
	UserID     string
	CustomerID string

	Cache     *cache.Scoped
	Registry  *registry.Registry
	Tokens    *token.Manager
	Broker    *oauth.Broker
	Analytics *analytics.Fetcher

	// Source is where the registry was hydrated from.
	Source registry.Source

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the user logs out. Work done on behalf of the
// user after the request returns must run under it.
func (s *Scope) Context() context.Context { return s.ctx }

// stop closes the broker, detaches the cache view, then cancels the scope
// context.
func (s *Scope) stop() {
	s.Broker.Close()
	s.Cache.Detach()
	s.cancel()
}

type Manager struct {
	deps   Deps
	logger *slog.Logger

	// root parents every scope context.
	root context.Context

	mu     sync.Mutex
	scopes map[string]*Scope
}

func NewManager(root context.Context, deps Deps, logger *slog.Logger) *Manager {
	return &Manager{
		deps:   deps,
		logger: logger,
		root:   root,
		scopes: make(map[string]*Scope),
	}
}

// Open returns the user's scope, building and hydrating it on first use.
// Legacy un-namespaced cache keys are migrated before hydration.
func (m *Manager) Open(ctx context.Context, userID, customerID string) (*Scope, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "a user id is required")
	}
	if customerID == "" {
		customerID = userID
	}

	if s, ok := m.Get(userID); ok {
		return s, nil
	}

	// Hydration is a network call, so it runs outside the lock. Two racing
	// opens both hydrate; the first to register wins.
	s := m.build(userID, customerID)

	moved, err := s.Cache.MigrateLegacy(ctx)
	if err != nil {
		m.logger.Warn("session: legacy cache migration failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	} else if moved > 0 {
		m.logger.Info("session: migrated legacy cache keys",
			slog.String("userID", userID),
			slog.Int("keys", moved),
		)
	}

	src, err := s.Registry.Hydrate(ctx)
	if err != nil {
		s.stop()
		return nil, fmt.Errorf("session: opening scope for %s: %w", userID, err)
	}
	s.Source = src

	m.mu.Lock()
	if existing, ok := m.scopes[userID]; ok {
		m.mu.Unlock()
		s.stop()
		return existing, nil
	}
	m.scopes[userID] = s
	m.mu.Unlock()

	m.logger.Info("session: scope opened",
		slog.String("userID", userID),
		slog.String("customerID", customerID),
		slog.String("source", string(src)),
		slog.Int("accounts", len(s.Registry.List(""))),
	)
	return s, nil
}

func (m *Manager) build(userID, customerID string) *Scope {
	ctx, cancel := context.WithCancel(m.root)
	store := cache.NewScoped(m.deps.Store, userID)
	logger := m.logger.With(slog.String("userID", userID))

	tokens := token.NewManager(m.deps.Exchanger, logger)
	reg := registry.New(customerID, m.deps.Links, tokens, store, logger)

	return &Scope{
		UserID:     userID,
		CustomerID: customerID,
		Cache:      store,
		Registry:   reg,
		Tokens:     tokens,
		Broker:     oauth.New(ctx, m.deps.OAuth, m.deps.Opener, nil, reg, m.deps.Profiles, logger),
		Analytics:  analytics.New(m.deps.Analytics, m.deps.Source, reg, tokens, store, logger),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Get returns an open scope without building one.
func (m *Manager) Get(userID string) (*Scope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scopes[userID]
	return s, ok
}

// Logout tears the user's scope down and wipes its cache namespace. It is a
// no-op for users without an open scope, apart from clearing the cache.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.scopes[userID]
	delete(m.scopes, userID)
	m.mu.Unlock()

	store := cache.NewScoped(m.deps.Store, userID)
	if ok {
		s.stop()
		store = s.Cache
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("session: clearing cache for %s: %w", userID, err)
	}
	m.logger.Info("session: logged out", slog.String("userID", userID))
	return nil
}

// Close stops every scope without clearing caches. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	scopes := m.scopes
	m.scopes = make(map[string]*Scope)
	m.mu.Unlock()

	for _, s := range scopes {
		s.stop()
	}
}
