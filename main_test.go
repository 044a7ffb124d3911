// main_test.go
//
// Level 3 smoke tests
// chi wiring via httptest.NewServer, with a TLS fake standing in for the
// authorization server. Catches middleware ordering, route mounting, and real
// redirect/header behavior that httptest.NewRecorder cannot exercise.

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/ferry/internal/auth"
	"github.com/MGallo-Code/ferry/internal/metrics"
	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/store"
	"github.com/MGallo-Code/ferry/internal/testutil"
)

// --- Fake authorization server ---

// fakeAuth0 serves /oauth/token and /userinfo.
// Accepts code "abc123" -> token "tok1" -> profile {sub: "user1"}; rejects anything else.
type fakeAuth0 struct {
	srv *httptest.Server

	mu            sync.Mutex
	tokenCalls    int
	userinfoCalls int
}

func newFakeAuth0(t *testing.T) *fakeAuth0 {
	t.Helper()
	f := &fakeAuth0{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		f.mu.Unlock()
		var req struct {
			Code      string `json:"code"`
			GrantType string `json:"grant_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code != "abc123" || req.GrantType != "authorization_code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid authorization code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok1","token_type":"Bearer","expires_in":86400}`))
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.userinfoCalls++
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"user1","email":"user1@example.com","email_verified":true}`))
	})
	f.srv = httptest.NewTLSServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// config returns an OAuth config whose domain points at the fake.
func (f *fakeAuth0) config() oauth.Config {
	return oauth.Config{
		Domain:       strings.TrimPrefix(f.srv.URL, "https://"),
		ClientID:     "client-abc",
		ClientSecret: "s3cret",
		RedirectURI:  "https://app.example.com/callback",
		Audience:     "https://api.example.com",
		Scope:        oauth.DefaultScope,
	}
}

func (f *fakeAuth0) calls() (token, userinfo int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.userinfoCalls
}

// --- Smoke server ---

// newSmokeServer wires buildRouter against the fake with the given limiter.
func newSmokeServer(t *testing.T, f *fakeAuth0, rl auth.RateLimiter) *httptest.Server {
	t.Helper()
	m := metrics.New()
	cfg := f.config()
	client := oauth.NewClient(cfg,
		oauth.WithHTTPClient(f.srv.Client()),
		oauth.WithTimeout(5*time.Second),
		oauth.WithMetrics(m),
	)
	srv := httptest.NewServer(buildRouter(routes{
		handler: &auth.AuthHandler{RL: rl},
		login:   &auth.LoginStage{Config: cfg, Metrics: m},
		callback: &auth.CallbackStage{
			Tokens:   client,
			Profiles: client,
			RL:       rl,
			Policy:   store.RateLimit{MaxAttempts: 20, Window: time.Minute, LockoutTTL: time.Minute},
			Metrics:  m,
		},
		metrics: m,
	}))
	t.Cleanup(srv.Close)
	return srv
}

// noRedirect stops the client at the first 3xx so Location can be inspected.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// locationQuery parses the Location header and returns its query.
func locationQuery(t *testing.T, resp *http.Response) url.Values {
	t.Helper()
	u, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	return u.Query()
}

// --- Tests ---

func TestSmoke_Health(t *testing.T) {
	srv := newSmokeServer(t, newFakeAuth0(t), store.NoopRateLimiter{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["redis"] != "disabled" {
		t.Errorf("body: got %v", body)
	}
}

func TestSmoke_Authorize(t *testing.T) {
	f := newFakeAuth0(t)
	srv := newSmokeServer(t, f, store.NoopRateLimiter{})

	resp, err := noRedirect.Get(srv.URL + "/authorize")
	if err != nil {
		t.Fatalf("GET /authorize: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status: expected 302, got %d", resp.StatusCode)
	}
	want := oauth.AuthorizationURL(f.config())
	if loc := resp.Header.Get("Location"); loc != want {
		t.Errorf("Location: expected %q, got %q", want, loc)
	}
	q := locationQuery(t, resp)
	if q.Get("client_id") != "client-abc" || q.Get("response_type") != "code" {
		t.Errorf("Location query: got %v", q)
	}
	if tok, ui := f.calls(); tok != 0 || ui != 0 {
		t.Errorf("upstream: expected no calls, got token=%d userinfo=%d", tok, ui)
	}
}

func TestSmoke_CallbackRoundTrip(t *testing.T) {
	f := newFakeAuth0(t)
	srv := newSmokeServer(t, f, store.NoopRateLimiter{})

	resp, err := http.Get(srv.URL + "/callback?code=abc123")
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status: expected 200, got %d: %s", resp.StatusCode, b)
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control: expected no-store, got %q", resp.Header.Get("Cache-Control"))
	}
	var body struct {
		User map[string]any `json:"userData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User["sub"] != "user1" {
		t.Errorf("sub: expected user1, got %v", body.User["sub"])
	}
	if body.User["access_token"] != "tok1" {
		t.Errorf("access_token: expected tok1, got %v", body.User["access_token"])
	}
	if body.User["email"] != "user1@example.com" {
		t.Errorf("email: got %v", body.User["email"])
	}
	if tok, ui := f.calls(); tok != 1 || ui != 1 {
		t.Errorf("upstream: expected one call each, got token=%d userinfo=%d", tok, ui)
	}
}

func TestSmoke_CallbackFailures(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantToken    int
		wantUserinfo int
	}{
		{"missing code", "", 0, 0},
		{"empty code", "?code=", 0, 0},
		{"rejected code", "?code=bogus", 1, 0},
	}
	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAuth0(t)
			srv := newSmokeServer(t, f, store.NoopRateLimiter{})

			resp, err := http.Get(srv.URL + "/callback" + tt.query)
			if err != nil {
				t.Fatalf("GET /callback: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status: expected 401, got %d", resp.StatusCode)
			}
			b, _ := io.ReadAll(resp.Body)
			bodies = append(bodies, string(b))
			if tok, ui := f.calls(); tok != tt.wantToken || ui != tt.wantUserinfo {
				t.Errorf("upstream: expected token=%d userinfo=%d, got token=%d userinfo=%d",
					tt.wantToken, tt.wantUserinfo, tok, ui)
			}
		})
	}
	for _, b := range bodies {
		if b != `{"message":"unauthorized"}` {
			t.Errorf("body: expected generic 401, got %q", b)
		}
	}
}

func TestSmoke_CallbackRateLimited(t *testing.T) {
	f := newFakeAuth0(t)
	srv := newSmokeServer(t, f, &testutil.MockRateLimiter{AllowErr: store.ErrRateLimitExceeded})

	resp, err := http.Get(srv.URL + "/callback?code=abc123")
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: expected 429, got %d", resp.StatusCode)
	}
	if tok, _ := f.calls(); tok != 0 {
		t.Errorf("token endpoint: expected no calls, got %d", tok)
	}
}

func TestSmoke_Metrics(t *testing.T) {
	f := newFakeAuth0(t)
	srv := newSmokeServer(t, f, store.NoopRateLimiter{})

	r, err := noRedirect.Get(srv.URL + "/authorize")
	if err != nil {
		t.Fatalf("GET /authorize: %v", err)
	}
	r.Body.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "ferry_login_redirects_total 1") {
		t.Errorf("metrics: expected login redirect counter, got:\n%s", b)
	}
}

func TestSmoke_MetricsDisabled(t *testing.T) {
	f := newFakeAuth0(t)
	cfg := f.config()
	srv := httptest.NewServer(buildRouter(routes{
		handler:  &auth.AuthHandler{RL: store.NoopRateLimiter{}},
		login:    &auth.LoginStage{Config: cfg},
		callback: &auth.CallbackStage{Tokens: oauth.NewClient(cfg), Profiles: oauth.NewClient(cfg)},
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: expected 404, got %d", resp.StatusCode)
	}
}

func TestSmoke_AuthorizeRejectsPost(t *testing.T) {
	srv := newSmokeServer(t, newFakeAuth0(t), store.NoopRateLimiter{})

	resp, err := http.Post(srv.URL+"/authorize", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /authorize: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: expected 405, got %d", resp.StatusCode)
	}
}

func TestSmoke_CallbackRateLimitIgnoresForgedHeaders(t *testing.T) {
	rl := &testutil.MockRateLimiter{}
	srv := newSmokeServer(t, newFakeAuth0(t), rl)

	for _, forged := range []string{"203.0.113.7", "198.51.100.9"} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/callback?code=bogus", nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("X-Forwarded-For", forged)
		req.Header.Set("X-Real-IP", forged)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /callback: %v", err)
		}
		resp.Body.Close()
	}

	keys := rl.SeenKeys()
	if len(keys) != 2 {
		t.Fatalf("limiter: expected 2 calls, got %v", keys)
	}
	if keys[0] != keys[1] {
		t.Errorf("one client produced different keys: %v", keys)
	}
	for _, k := range keys {
		if strings.Contains(k, "203.0.113.7") || strings.Contains(k, "198.51.100.9") {
			t.Errorf("key taken from forged header: %s", k)
		}
	}
}
