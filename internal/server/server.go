// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and routes,
// and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → cache.Store (sqlite | redis | memory, optionally sealed)
//	  → gateway.Client → linkstore, token exchanger, analytics source, profiles, overviews
//	  → session.Manager (one Scope per signed-in user)
//	  → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/social-insights/internal/analytics"
	"github.com/sakif/social-insights/internal/auth"
	"github.com/sakif/social-insights/internal/cache"
	"github.com/sakif/social-insights/internal/config"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/handler"
	"github.com/sakif/social-insights/internal/linkstore"
	"github.com/sakif/social-insights/internal/metrics"
	"github.com/sakif/social-insights/internal/middleware"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/oauth"
	"github.com/sakif/social-insights/internal/service"
	"github.com/sakif/social-insights/internal/session"
	"github.com/sakif/social-insights/internal/token"
)

// writeTimeout leaves room for the longest long-poll.
const writeTimeout = handler.MaxWait + 20*time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the cache store and every user scope. On shutdown the
// scopes are stopped first (pending authorizations cancelled), then the
// store is closed so nothing writes into a closed database.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   cache.Store
	manager *session.Manager

	// cancel ends the root context every user scope hangs off.
	cancel context.CancelFunc
}

// New creates a Server from cfg.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// === CREATE CACHE STORE ===
	store, err := openStore(context.Background(), cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	// === BACKEND CLIENTS ===
	// One gateway serves every backend call, so the primary → fallback
	// origin logic lives in one place.
	gw := gateway.New(gateway.Config{
		Primary:  cfg.Backend.Primary,
		Fallback: cfg.Backend.Fallback,
		Timeout:  cfg.Backend.Timeout,
	}, nil, logger)

	root, cancel := context.WithCancel(context.Background())
	manager := session.NewManager(root, session.Deps{
		Store:     store,
		Links:     linkstore.New(gw, logger),
		Exchanger: token.NewHTTPExchanger(gw),
		Source:    analytics.NewHTTPSource(gw),
		Profiles:  oauth.NewGatewayProfiles(gw),
		OAuth: oauth.Config{
			Providers:    providers,
			Timeout:      cfg.OAuth.Timeout,
			WindowCheck:  cfg.OAuth.WindowCheck,
			PollInterval: cfg.OAuth.PollInterval,
			MaxPolls:     cfg.OAuth.MaxPolls,
			Retention:    cfg.OAuth.Retention,
		},
		Analytics: analytics.Config{
			FreshFor:        cfg.Analytics.FreshFor,
			Cooldown:        cfg.Analytics.Cooldown,
			BaseBackoff:     cfg.Analytics.BaseBackoff,
			MaxAttempts:     cfg.Analytics.MaxAttempts,
			PerAccountQuota: platforms(cfg.Analytics.PerAccountQuota),
		},
	}, logger)

	aggregator := metrics.New(metrics.Params{
		CapThreshold:       cfg.Metrics.CapThreshold,
		RateCap:            cfg.Metrics.RateCap,
		ReachPerEngagement: cfg.Metrics.ReachPerEngagement,
		BrandPerFollower:   cfg.Metrics.BrandPerFollower,
		ContentPerPost:     cfg.Metrics.ContentPerPost,
		MonthlyFee:         cfg.Metrics.MonthlyFee,
	})
	dashboard := service.NewDashboardService(service.NewHTTPOverviews(gw), aggregator, logger)

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		manager: manager,
		cancel:  cancel,
	}
	s.setupRoutes(tokens, aggregator, dashboard)

	logger.Info("server configured",
		slog.String("cache", cfg.Cache.Backend),
		slog.Bool("sealed", cfg.Cache.SealSecret != ""),
		slog.Int("providers", len(providers)),
	)
	return s, nil
}

// openStore picks the cache backend. A seal secret wraps it so values are
// encrypted at rest.
func openStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendRedis:
		store, err = cache.ConnectRedis(ctx, cfg.RedisURL)
	case config.BackendMemory:
		store = cache.NewMemoryStore()
	default:
		// Ensure the data directory exists (like `mkdir -p`).
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		store, err = cache.NewSQLiteStore(cfg.DBPath)
	}
	if err != nil {
		return nil, err
	}
	if cfg.SealSecret != "" {
		store = cache.NewSealed(store, cfg.SealSecret)
	}
	return store, nil
}

// buildProviders configures every platform that has a client id.
func buildProviders(cfg config.Config) (map[model.Platform]oauth.ProviderConfig, error) {
	out := make(map[model.Platform]oauth.ProviderConfig)
	for _, p := range model.Platforms {
		creds, ok := cfg.OAuth.Providers[string(p)]
		if !ok || creds.ClientID == "" {
			continue
		}
		pc, err := oauth.DefaultProvider(p, oauth.Credentials{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  cfg.RedirectURL(p),
		})
		if err != nil {
			return nil, fmt.Errorf("configuring %s authorization: %w", p, err)
		}
		out[p] = pc
	}
	return out, nil
}

func platforms(names []string) []model.Platform {
	out := make([]model.Platform, 0, len(names))
	for _, n := range names {
		if p, ok := model.ParsePlatform(n); ok {
			out = append(out, p)
		}
	}
	return out
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                                   → liveness + cache probe
// GET    /oauth/{platform}/callback                 → provider redirect (HTML)
// POST   /auth/logout                               → stop work, wipe cache
// GET    /api/me                                    → caller + hydrate source
// POST   /api/oauth/{platform}/start                → open an authorization
// GET    /api/oauth/sessions/{id}?wait=25           → long-poll its outcome
// POST   /api/oauth/sessions/{id}/events            → popup closed / blocked
// GET    /api/accounts[?platform=]                  → connected accounts
// POST   /api/accounts                              → ingest raw accounts
// DELETE /api/accounts                              → disconnect all
// GET    /api/accounts/selected?platform=           → selected account
// POST   /api/accounts/{id}/select                  → change selection
// DELETE /api/accounts/{id}                         → disconnect one
// GET    /api/accounts/{id}/posts/{postId}/analytics → one post's metrics
// POST   /api/accounts/{id}/analytics/batch         → staggered batch
// POST   /api/metrics/aggregate                     → aggregate given datasets
// GET    /api/dashboard                             → aggregate every account
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (our Logger prints it)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(tokens *auth.TokenService, aggregator *metrics.Aggregator, dashboard *service.DashboardService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	oauthH := handler.NewOAuthHandler(s.manager, s.config.AppOrigin, s.logger)
	accountH := handler.NewAccountHandler(s.manager, s.logger)
	analyticsH := handler.NewAnalyticsHandler(s.manager, s.logger)
	metricsH := handler.NewMetricsHandler(s.manager, aggregator, dashboard, s.logger)
	authH := handler.NewAuthHandler(s.manager, s.logger)

	// Everything below needs a signed-in caller.
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/oauth/{platform}/callback", oauthH.HandleCallback)
		r.Post("/auth/logout", authH.HandleLogout)

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", authH.HandleMe)

			r.Post("/oauth/{platform}/start", oauthH.HandleStart)
			r.Get("/oauth/sessions/{id}", oauthH.HandleAwait)
			r.Post("/oauth/sessions/{id}/events", oauthH.HandleEvent)

			r.Get("/accounts", accountH.HandleList)
			r.Post("/accounts", accountH.HandleIngest)
			r.Delete("/accounts", accountH.HandleDisconnectAll)
			r.Get("/accounts/selected", accountH.HandleSelected)
			r.Post("/accounts/{id}/select", accountH.HandleSelect)
			r.Delete("/accounts/{id}", accountH.HandleDisconnect)

			r.Get("/accounts/{id}/posts/{postId}/analytics", analyticsH.HandlePost)
			r.Post("/accounts/{id}/analytics/batch", analyticsH.HandleBatch)

			r.Post("/metrics/aggregate", metricsH.HandleAggregate)
			r.Get("/dashboard", metricsH.HandleDashboard)
		})
	})
}

// handleHealth reports whether the cache store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if _, _, err := s.store.Get(ctx, "healthz"); err != nil {
		s.logger.Warn("health check: cache store unavailable", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Close stops every user scope and closes the store. Caches are not wiped:
// users find their accounts again after a restart.
func (s *Server) Close() error {
	s.manager.Close()
	s.cancel()
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests (long-polls included) to finish
// 3. Stop user scopes, then close the cache store
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing cache store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  90 * time.Second,
	}
	// Closing the brokers resolves pending long-polls as cancelled, so
	// Shutdown does not sit out their wait.
	srv.RegisterOnShutdown(s.manager.Close)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("backend", s.config.Backend.Primary),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), handler.MaxWait+5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
