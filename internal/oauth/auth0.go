// auth0.go -- Auth0-style authorization server client.
//
// Covers the three protocol steps of the Authorization Code Grant: building
// the /authorize URL, exchanging the code at /oauth/token, and fetching the
// profile from /userinfo. Upstream failures collapse into one Error kind per
// step; the real cause is kept in Error.Cause for logs.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MGallo-Code/ferry/internal/metrics"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	responseType = "code"
	grantType    = "authorization_code"

	// maxResponseBytes caps how much of a token response body is read.
	maxResponseBytes = 1 << 20
)

// AuthorizationURL builds the login redirect URL for cfg.
// Parameters are emitted in a fixed order and form-encoded, so spaces in the
// scope become '+'. Pure: the same cfg always yields the same string.
func AuthorizationURL(cfg Config) string {
	params := [...][2]string{
		{"response_type", responseType},
		{"client_id", cfg.ClientID},
		{"redirect_uri", cfg.RedirectURI},
		{"scope", cfg.scope()},
		{"audience", cfg.Audience},
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(cfg.Domain)
	b.WriteString("/authorize?")
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

// Client talks to one authorization server. Safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userInfo   *oidc.Provider
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each upstream call. Zero disables the per-call bound;
// the inbound request context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMetrics records upstream latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a Client for cfg. No network calls are made here; the
// userinfo endpoint is configured directly instead of via OIDC discovery.
func NewClient(cfg Config, opts ...Option) *Client {
	base := "https://" + cfg.Domain
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: http.DefaultClient,
		tracer:     otel.Tracer("github.com/MGallo-Code/ferry/internal/oauth"),
	}
	for _, opt := range opts {
		opt(c)
	}

	pc := &oidc.ProviderConfig{
		IssuerURL:   base + "/",
		AuthURL:     base + "/authorize",
		TokenURL:    base + "/oauth/token",
		UserInfoURL: base + "/userinfo",
	}
	c.userInfo = pc.NewProvider(oidc.ClientContext(context.Background(), c.httpClient))
	return c
}

// AuthCodeURL returns the authorization URL for the client's config.
func (c *Client) AuthCodeURL() string {
	return AuthorizationURL(c.cfg)
}

// tokenRequest is the JSON body posted to /oauth/token.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
	GrantType    string `json:"grant_type"`
	RedirectURI  string `json:"redirect_uri"`
	Code         string `json:"code"`
}

// tokenResponse is the subset of the /oauth/token response we read.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	IDToken     string `json:"id_token"`
}

// Exchange trades an authorization code for an access token.
// Any failure returns *Error with Kind KindTokenExchange.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.Exchange", trace.WithAttributes(
		attribute.String("oauth.endpoint", "token"),
	))
	defer span.End()

	start := time.Now()
	tok, err := c.exchange(ctx, code)
	c.metrics.ObserveUpstream("token", err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		return nil, &Error{Kind: KindTokenExchange, Cause: err}
	}
	return tok, nil
}

func (c *Client) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	body, err := json.Marshal(tokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Audience:     c.cfg.Audience,
		GrantType:    grantType,
		RedirectURI:  c.cfg.RedirectURI,
		Code:         code,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	extra := map[string]any{}
	if tr.Scope != "" {
		extra["scope"] = tr.Scope
	}
	if tr.IDToken != "" {
		extra["id_token"] = tr.IDToken
	}
	return tok.WithExtra(extra), nil
}

// UserInfo fetches the profile for tok from /userinfo.
// Any failure, including a profile without "sub", returns *Error with Kind KindUserInfo.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.UserInfo", trace.WithAttributes(
		attribute.String("oauth.endpoint", "userinfo"),
	))
	defer span.End()

	start := time.Now()
	p, err := c.fetchUserInfo(ctx, tok)
	c.metrics.ObserveUpstream("userinfo", err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "userinfo failed")
		return nil, &Error{Kind: KindUserInfo, Cause: err}
	}
	return p, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("no access token")
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	ctx = oidc.ClientContext(ctx, c.httpClient)

	// Always present the token as a bearer token, whatever token_type said.
	bearer := &oauth2.Token{AccessToken: tok.AccessToken, TokenType: "Bearer"}
	info, err := c.userInfo.UserInfo(ctx, oauth2.StaticTokenSource(bearer))
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("userinfo has no sub claim")
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo claims: %w", err)
	}
	p := profileFromClaims(claims, info.EmailVerified)
	return &p, nil
}

// bound applies the per-call timeout to ctx, if one is configured.
func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
