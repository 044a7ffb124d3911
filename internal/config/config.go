// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/MGallo-Code/ferry/internal/auth"
	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/caarlos0/env/v11"
)

// Config holds all env configuration vars for ferry.
type Config struct {
	// OAuth client settings. Immutable once loaded.
	OAuth oauth.Config

	// UpstreamTimeout bounds each call to the authorization server. Default 10s.
	UpstreamTimeout time.Duration

	Port     string
	LogLevel slog.Level

	// RedisURL enables callback rate limiting. Empty disables it.
	RedisURL string

	// Rate limit policy for callback attempts per client IP.
	// Defaults: max=20, window=1m, lockout=5m.
	RateCallbackMax     int
	RateCallbackWindow  time.Duration
	RateCallbackLockout time.Duration

	// TrustedProxies are the peers whose X-Forwarded-For / X-Real-IP headers
	// are believed for the callback rate limit key. Empty trusts nobody.
	TrustedProxies []netip.Prefix

	// MetricsEnabled mounts /metrics. Default true; only "false" disables.
	MetricsEnabled bool

	// OTelEndpoint is the OTLP/HTTP trace collector URL. Empty disables tracing.
	OTelEndpoint string
}

// rawEnv mirrors the environment; LoadConfig validates and maps it onto Config.
type rawEnv struct {
	Domain       string `env:"AUTH0_DOMAIN"`
	ClientID     string `env:"AUTH0_CLIENT_ID"`
	ClientSecret string `env:"AUTH0_CLIENT_SECRET"`
	RedirectURI  string `env:"AUTH0_REDIRECT_URI"`
	Audience     string `env:"AUTH0_AUDIENCE"`
	Scope        string `env:"AUTH0_SCOPE" envDefault:"openid profile email"`

	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	Port     string `env:"PORT" envDefault:"7865"`
	LogLevel string `env:"LOG_LEVEL"`

	RedisURL            string        `env:"REDIS_URL"`
	RateCallbackMax     int           `env:"RATE_CALLBACK_MAX" envDefault:"20"`
	RateCallbackWindow  time.Duration `env:"RATE_CALLBACK_WINDOW" envDefault:"1m"`
	RateCallbackLockout time.Duration `env:"RATE_CALLBACK_LOCKOUT" envDefault:"5m"`
	TrustedProxies      []string      `env:"TRUSTED_PROXIES" envSeparator:","`

	MetricsEnabled string `env:"METRICS_ENABLED"`
	OTelEndpoint   string `env:"OTEL_ENDPOINT"`
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if any required AUTH0_* variable is missing or a value
// fails to parse.
func LoadConfig() (*Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{
		OAuth: oauth.Config{
			Domain:       strings.TrimSpace(raw.Domain),
			ClientID:     raw.ClientID,
			ClientSecret: raw.ClientSecret,
			RedirectURI:  raw.RedirectURI,
			Audience:     raw.Audience,
			Scope:        raw.Scope,
		},
		UpstreamTimeout: raw.UpstreamTimeout,
		Port:            raw.Port,
		RedisURL:        raw.RedisURL,
		OTelEndpoint:    raw.OTelEndpoint,
	}

	// Set-but-empty vars skip envDefault, so apply defaults again here.
	if cfg.Port == "" {
		cfg.Port = "7865"
	}
	// A bare empty AUTH0_SCOPE still means the default.
	if strings.TrimSpace(cfg.OAuth.Scope) == "" {
		cfg.OAuth.Scope = oauth.DefaultScope
	}

	// The domain is a host, the scheme is always https.
	if strings.Contains(cfg.OAuth.Domain, "://") {
		return nil, fmt.Errorf("AUTH0_DOMAIN must be a host name without scheme")
	}
	if err := cfg.OAuth.Validate(); err != nil {
		return nil, err
	}

	if cfg.UpstreamTimeout <= 0 {
		slog.Warn("invalid env var, using default", "key", "UPSTREAM_TIMEOUT", "value", raw.UpstreamTimeout, "default", 10*time.Second)
		cfg.UpstreamTimeout = 10 * time.Second
	}

	// Parse log level, default to info
	switch strings.ToLower(raw.LogLevel) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	// Rate limit: fall back to the default on non-positive values so a
	// misconfigured env doesn't silently disable limiting.
	cfg.RateCallbackMax = positiveInt("RATE_CALLBACK_MAX", raw.RateCallbackMax, 20)
	cfg.RateCallbackWindow = positiveDuration("RATE_CALLBACK_WINDOW", raw.RateCallbackWindow, time.Minute)
	cfg.RateCallbackLockout = positiveDuration("RATE_CALLBACK_LOCKOUT", raw.RateCallbackLockout, 5*time.Minute)

	proxies, err := auth.ParseTrustedProxies(raw.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	// Default true -- only explicit "false" disables.
	cfg.MetricsEnabled = raw.MetricsEnabled != "false"

	return cfg, nil
}

// positiveInt returns v, or def with a warning if v is not positive.
func positiveInt(key string, v, def int) int {
	if v <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}

// positiveDuration returns v, or def with a warning if v is not positive.
func positiveDuration(key string, v, def time.Duration) time.Duration {
	if v <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}
