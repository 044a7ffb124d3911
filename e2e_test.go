// e2e_test.go
//
// Level 3 integration tests: exercises run() end-to-end with real Redis and a
// TLS fake authorization server. Requires compose.test.yml to be running.
//
//	docker compose -f compose.test.yml up -d
//	go test ./...
//	docker compose -f compose.test.yml down
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/ferry/internal/config"
	"github.com/MGallo-Code/ferry/internal/store"
)

// envOrDefault returns the env var value or fallback if unset.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// startE2E runs run() against f and real Redis with the given callback limit.
// Skips the test if Redis is not reachable. Returns the server base URL.
func startE2E(t *testing.T, f *fakeAuth0, maxCallbacks int) string {
	t.Helper()
	redisURL := envOrDefault("TEST_REDIS_URL", "redis://localhost:6380")
	flushCallbackLimit(t, redisURL)

	cfg := &config.Config{
		OAuth:           f.config(),
		UpstreamTimeout: 5 * time.Second,
		RedisURL:        redisURL,
		Port:            "0", // OS picks a free port
		LogLevel:        slog.LevelWarn,
		// Must be non-zero or the Lua script gets invalid TTLs.
		RateCallbackMax:     maxCallbacks,
		RateCallbackWindow:  time.Minute,
		RateCallbackLockout: time.Minute,
		MetricsEnabled:      true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- run(ctx, cfg, ready, f.srv.Client())
	}()

	// Wait for server ready or startup failure (compose stack not running).
	select {
	case addr := <-ready:
		t.Cleanup(func() {
			cancel()
			// Wait for run() so the deferred redis close completes.
			<-runErr
		})
		return addr
	case err := <-runErr:
		cancel()
		t.Skipf("e2e: server failed to start (%v), compose stack not running?", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Skip("e2e: server did not become ready")
	}
	return ""
}

// flushCallbackLimit clears limiter state left behind by earlier runs.
// Every request in these tests comes from loopback, so they share one key.
func flushCallbackLimit(t *testing.T, redisURL string) {
	t.Helper()
	ctx := context.Background()
	rdb, err := store.NewRedisClient(ctx, redisURL)
	if err != nil {
		t.Skipf("e2e: redis unavailable (%v), compose stack not running?", err)
	}
	defer rdb.Close()
	for _, ip := range []string{"127.0.0.1", "::1"} {
		key := "ratelimit:{callback:ip:" + ip + "}"
		if err := rdb.Del(ctx, key+":count", key+":lock").Err(); err != nil {
			t.Fatalf("flush %s: %v", key, err)
		}
	}
}

func TestE2E_CallbackRoundTrip(t *testing.T) {
	f := newFakeAuth0(t)
	base := startE2E(t, f, 20)

	resp, err := http.Get(base + "/callback?code=abc123")
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status: expected 200, got %d: %s", resp.StatusCode, b)
	}
	var body struct {
		User map[string]any `json:"userData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User["sub"] != "user1" || body.User["access_token"] != "tok1" {
		t.Errorf("user: got %v", body.User)
	}
}

func TestE2E_Health(t *testing.T) {
	base := startE2E(t, newFakeAuth0(t), 20)

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["redis"] != "ok" {
		t.Errorf("health: status=%d body=%v", resp.StatusCode, body)
	}
}

func TestE2E_CallbackRateLimit(t *testing.T) {
	f := newFakeAuth0(t)
	const limit = 3
	base := startE2E(t, f, limit)

	// Failed callbacks count toward the limit too.
	for i := 0; i < limit; i++ {
		resp, err := http.Get(base + "/callback?code=bogus")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}

	resp, err := http.Get(base + "/callback?code=abc123")
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: expected 429 after %d attempts, got %d", limit, resp.StatusCode)
	}
	if tok, _ := f.calls(); tok != limit {
		t.Errorf("token endpoint: expected %d calls, got %d", limit, tok)
	}
}

func TestE2E_Metrics(t *testing.T) {
	base := startE2E(t, newFakeAuth0(t), 20)

	resp, err := http.Get(base + "/callback")
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	want := fmt.Sprintf("ferry_callbacks_total{outcome=%q} 1", "missing_code")
	if !strings.Contains(string(b), want) {
		t.Errorf("metrics: expected %q in:\n%s", want, b)
	}
}
