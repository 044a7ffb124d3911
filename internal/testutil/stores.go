// stores.go
//
// Shared mock implementations of the auth stage dependencies.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"

	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/store"
	"golang.org/x/oauth2"
)

// MockTokenExchanger implements auth.TokenExchanger.
// Returns Token (or Err) and records every code it was called with.
type MockTokenExchanger struct {
	Token *oauth2.Token
	Err   error

	mu    sync.Mutex
	Codes []string
}

func (m *MockTokenExchanger) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.Codes = append(m.Codes, code)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Token, nil
}

// Calls returns how many times Exchange ran.
func (m *MockTokenExchanger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Codes)
}

// MockUserInfoFetcher implements auth.UserInfoFetcher.
// Returns Profile (or Err) and records every access token it was called with.
type MockUserInfoFetcher struct {
	Profile *oauth.Profile
	Err     error

	mu     sync.Mutex
	Tokens []string
}

func (m *MockUserInfoFetcher) UserInfo(_ context.Context, tok *oauth2.Token) (*oauth.Profile, error) {
	m.mu.Lock()
	m.Tokens = append(m.Tokens, tok.AccessToken)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Profile, nil
}

// Calls returns how many times UserInfo ran.
func (m *MockUserInfoFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Tokens)
}

// MockRateLimiter implements auth.RateLimiter.
// AllowErr is returned from every Allow call; HealthErr from CheckHealth.
type MockRateLimiter struct {
	AllowErr  error
	HealthErr error

	mu   sync.Mutex
	Keys []string
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	return m.AllowErr
}

func (m *MockRateLimiter) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// Calls returns how many times Allow ran.
func (m *MockRateLimiter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Keys)
}

// SeenKeys returns a copy of the keys Allow was called with.
func (m *MockRateLimiter) SeenKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Keys...)
}
