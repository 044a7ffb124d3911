// handler.go -- Dependencies shared by the auth stages and handlers.
package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/store"
	"golang.org/x/oauth2"
)

// TokenExchanger trades an authorization code for an access token.
// Satisfied by *oauth.Client -- defined here (at consumer) per Go convention.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// UserInfoFetcher fetches the profile belonging to an access token.
// Satisfied by *oauth.Client.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, tok *oauth2.Token) (*oauth.Profile, error)
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	// Allow checks whether the action is within policy, records the attempt.
	// Returns nil if allowed; store.ErrRateLimitExceeded if locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error

	// CheckHealth reports whether the backing store is reachable.
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for the non-stage handlers.
type AuthHandler struct {
	RL RateLimiter
}

// Profile handles GET /callback after CallbackStage forwarded the request.
// Returns 200 with the identity, or 401 if no identity is in context.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		Unauthorized(w, r, "unauthorized")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		User *oauth.Identity `json:"userData"`
	}{id})
}
