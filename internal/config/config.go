// Package config resolves the runtime configuration of the server.
//
// PRIORITY ORDER:
//
//	defaults → YAML file (CONFIG_FILE, optional) → environment variables
//
// The file is the place for tuning (timers, coefficients, providers); the
// environment carries deployment values and secrets, so a container can run
// with no file at all.
//
// Example file:
//
//	port: 8080
//	cache:
//	  backend: redis
//	  redis_url: redis://localhost:6379/0
//	backend:
//	  primary: https://api.example.com
//	  fallback: https://example.com
//	oauth:
//	  timeout: 5m
//	  providers:
//	    linkedin:
//	      client_id: abc
//	metrics:
//	  monthly_fee: 499
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/social-insights/internal/model"
)

// Cache backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	// PublicURL is where browsers reach this server. Provider redirect URLs
	// default to PublicURL + /oauth/{platform}/callback.
	PublicURL string `yaml:"public_url"`
	// AppOrigin is the front end's origin, the postMessage target of the
	// callback page. Empty means same origin.
	AppOrigin string `yaml:"app_origin"`
	JWTSecret string `yaml:"jwt_secret"`

	Cache     CacheConfig     `yaml:"cache"`
	Backend   BackendConfig   `yaml:"backend"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type CacheConfig struct {
	Backend  string `yaml:"backend"`
	DBPath   string `yaml:"db_path"`
	RedisURL string `yaml:"redis_url"`
	// SealSecret encrypts cached values at rest when set.
	SealSecret string `yaml:"seal_secret"`
}

// BackendConfig addresses the backend proxy. Relative paths are tried on
// Primary, then on Fallback.
type BackendConfig struct {
	Primary  string        `yaml:"primary"`
	Fallback string        `yaml:"fallback"`
	Timeout  time.Duration `yaml:"timeout"`
}

type OAuthConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	WindowCheck  time.Duration `yaml:"window_check"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
	Retention    time.Duration `yaml:"retention"`
	// Providers is keyed by platform name. Platforms without a client id
	// cannot be authorized.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type AnalyticsConfig struct {
	FreshFor        time.Duration `yaml:"fresh_for"`
	Cooldown        time.Duration `yaml:"cooldown"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	MaxAttempts     int           `yaml:"max_attempts"`
	PerAccountQuota []string      `yaml:"per_account_quota"`
}

type MetricsConfig struct {
	CapThreshold       int64   `yaml:"cap_threshold"`
	RateCap            float64 `yaml:"rate_cap"`
	ReachPerEngagement float64 `yaml:"reach_per_engagement"`
	BrandPerFollower   float64 `yaml:"brand_per_follower"`
	ContentPerPost     float64 `yaml:"content_per_post"`
	MonthlyFee         float64 `yaml:"monthly_fee"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Cache: CacheConfig{
			Backend: BackendSQLite,
			DBPath:  "data/social-insights.db",
		},
		Backend: BackendConfig{
			Primary: "http://localhost:4000/api",
			Timeout: 15 * time.Second,
		},
		OAuth: OAuthConfig{
			Timeout:      5 * time.Minute,
			WindowCheck:  500 * time.Millisecond,
			PollInterval: 2 * time.Second,
			MaxPolls:     150,
			Retention:    time.Minute,
			Providers:    map[string]ProviderConfig{},
		},
		Analytics: AnalyticsConfig{
			FreshFor:        time.Hour,
			Cooldown:        24 * time.Hour,
			BaseBackoff:     time.Second,
			MaxAttempts:     3,
			PerAccountQuota: []string{string(model.PlatformFacebook), string(model.PlatformInstagram)},
		},
		Metrics: MetricsConfig{
			CapThreshold:       10,
			RateCap:            100,
			ReachPerEngagement: 0.10,
			BrandPerFollower:   0.05,
			ContentPerPost:     25,
		},
	}
}

// Load resolves the configuration. An empty path, or a path that does not
// exist, skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			// Unmarshal onto the defaults: keys missing from the file keep
			// their default value.
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("PORT", cfg.Port)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.PublicURL = envOrDefault("PUBLIC_URL", cfg.PublicURL)
	cfg.AppOrigin = envOrDefault("APP_ORIGIN", cfg.AppOrigin)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)

	cfg.Cache.Backend = strings.ToLower(envOrDefault("CACHE_BACKEND", cfg.Cache.Backend))
	cfg.Cache.DBPath = envOrDefault("DB_PATH", cfg.Cache.DBPath)
	cfg.Cache.RedisURL = envOrDefault("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.SealSecret = envOrDefault("CACHE_SEAL_SECRET", cfg.Cache.SealSecret)

	cfg.Backend.Primary = envOrDefault("BACKEND_URL", cfg.Backend.Primary)
	cfg.Backend.Fallback = envOrDefault("BACKEND_FALLBACK_URL", cfg.Backend.Fallback)

	if cfg.OAuth.Providers == nil {
		cfg.OAuth.Providers = map[string]ProviderConfig{}
	}
	for _, p := range model.Platforms {
		prefix := strings.ToUpper(string(p)) + "_"
		pc := cfg.OAuth.Providers[string(p)]
		pc.ClientID = envOrDefault(prefix+"CLIENT_ID", pc.ClientID)
		pc.ClientSecret = envOrDefault(prefix+"CLIENT_SECRET", pc.ClientSecret)
		pc.RedirectURL = envOrDefault(prefix+"REDIRECT_URL", pc.RedirectURL)
		if pc != (ProviderConfig{}) {
			cfg.OAuth.Providers[string(p)] = pc
		}
	}

	cfg.Metrics.CapThreshold = int64(envInt("FOLLOWER_CAP_THRESHOLD", int(cfg.Metrics.CapThreshold)))
	cfg.Metrics.MonthlyFee = envFloat("MONTHLY_FEE", cfg.Metrics.MonthlyFee)
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	switch c.Cache.Backend {
	case BackendSQLite:
		if c.Cache.DBPath == "" {
			return errors.New("config: sqlite cache needs db_path")
		}
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New("config: redis cache needs REDIS_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Backend.Primary == "" {
		return errors.New("config: missing BACKEND_URL")
	}
	for name := range c.OAuth.Providers {
		if _, ok := model.ParsePlatform(name); !ok {
			return fmt.Errorf("config: unknown oauth provider %q", name)
		}
	}
	for _, name := range c.Analytics.PerAccountQuota {
		if _, ok := model.ParsePlatform(name); !ok {
			return fmt.Errorf("config: unknown platform %q in per_account_quota", name)
		}
	}
	return nil
}

// RedirectURL is the provider redirect of platform: the configured one, or
// PublicURL + /oauth/{platform}/callback.
func (c Config) RedirectURL(platform model.Platform) string {
	if pc, ok := c.OAuth.Providers[string(platform)]; ok && pc.RedirectURL != "" {
		return pc.RedirectURL
	}
	base := strings.TrimRight(c.PublicURL, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return base + "/oauth/" + string(platform) + "/callback"
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
