package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/ferry/internal/auth"
	"github.com/MGallo-Code/ferry/internal/config"
	"github.com/MGallo-Code/ferry/internal/metrics"
	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/store"
	"github.com/MGallo-Code/ferry/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (redis, tracer) always execute before os.Exit.
	if err := run(ctx, cfg, nil, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// routes bundles what buildRouter mounts.
type routes struct {
	handler  *auth.AuthHandler
	login    auth.Stage
	callback auth.Stage
	metrics  *metrics.Metrics // nil = no /metrics route
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// upstream overrides the HTTP client used for the authorization server (nil = default).
func run(ctx context.Context, cfg *config.Config, ready chan<- string, upstream *http.Client) error {
	shutdownTracing, err := telemetry.Setup(ctx, "ferry", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	m := metrics.New()

	opts := []oauth.Option{oauth.WithTimeout(cfg.UpstreamTimeout), oauth.WithMetrics(m)}
	if upstream != nil {
		opts = append(opts, oauth.WithHTTPClient(upstream))
	}
	client := oauth.NewClient(cfg.OAuth, opts...)

	// Rate limiting is optional; without REDIS_URL every callback is allowed.
	var rl auth.RateLimiter = store.NoopRateLimiter{}
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rl = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set, callback rate limiting disabled")
	}

	rt := routes{
		handler: &auth.AuthHandler{RL: rl},
		login:   &auth.LoginStage{Config: cfg.OAuth, Metrics: m},
		callback: &auth.CallbackStage{
			Tokens:   client,
			Profiles: client,
			RL:       rl,
			Policy: store.RateLimit{
				MaxAttempts: cfg.RateCallbackMax,
				Window:      cfg.RateCallbackWindow,
				LockoutTTL:  cfg.RateCallbackLockout,
			},
			Metrics:        m,
			TrustedProxies: cfg.TrustedProxies,
		},
	}
	if cfg.MetricsEnabled {
		rt.metrics = m
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ferry listening", "addr", ln.Addr().String(), "domain", cfg.OAuth.Domain)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns, then waits for in-flight callbacks to finish.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	// PeerAddr before RealIP: the rate limit keys on the real connection peer.
	r.Use(auth.PeerAddr)
	r.Use(middleware.RealIP)
	// Not middleware.Logger: it would log the authorization code in the query.
	r.Use(auth.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", rt.handler.CheckHealth)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	// LoginStage always terminates; the trailing handler is never reached.
	r.With(auth.Intercept(rt.login)).Get("/authorize", func(http.ResponseWriter, *http.Request) {})
	r.With(auth.Intercept(rt.callback)).Get("/callback", rt.handler.Profile)

	return r
}
