// callback.go -- Callback stage: code -> token -> profile -> identity.
//
// Single pass, no retries. The profile fetch starts only after the token
// exchange succeeded; any failure stops the pipeline before an identity exists.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/MGallo-Code/ferry/internal/metrics"
	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/store"
	"github.com/gofrs/uuid/v5"
)

var (
	errNoToken   = errors.New("token exchanger returned no access token")
	errNoProfile = errors.New("userinfo fetcher returned no profile")
)

// CallbackStage handles GET /callback?code=... and forwards to the next
// handler with an *oauth.Identity in context on success.
type CallbackStage struct {
	Tokens   TokenExchanger
	Profiles UserInfoFetcher
	RL       RateLimiter // nil disables rate limiting
	Policy   store.RateLimit
	Metrics  *metrics.Metrics

	// TrustedProxies lists peers whose forwarding headers are believed when
	// keying the rate limit. Empty: always key on the transport peer.
	TrustedProxies []netip.Prefix
}

// Intercept runs the callback. Returns an *oauth.Error on every auth failure.
func (s *CallbackStage) Intercept(w http.ResponseWriter, r *http.Request) (Result, error) {
	// No code: reject before touching the network.
	code := r.URL.Query().Get("code")
	if code == "" {
		logWarn(r, "callback rejected", "reason", oauth.KindMissingCode.String())
		s.Metrics.IncrementCallbacks(oauth.KindMissingCode.String())
		return Terminate(), &oauth.Error{Kind: oauth.KindMissingCode}
	}

	if s.RL != nil {
		if err := s.RL.Allow(r.Context(), "callback:ip:"+clientIP(r, s.TrustedProxies), s.Policy); err != nil {
			if errors.Is(err, store.ErrRateLimitExceeded) {
				logInfo(r, "callback rejected", "reason", "rate_limited")
				s.Metrics.IncrementCallbacks("rate_limited")
				TooManyRequests(w)
				return Terminate(), nil
			}
			s.Metrics.IncrementCallbacks("error")
			return Terminate(), fmt.Errorf("checking callback rate limit: %w", err)
		}
	}

	// attempt_id ties the log lines of one callback together.
	attemptID, err := uuid.NewV7()
	if err != nil {
		s.Metrics.IncrementCallbacks("error")
		return Terminate(), fmt.Errorf("generating attempt id: %w", err)
	}

	tok, err := s.Tokens.Exchange(r.Context(), code)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errNoToken
	}
	if err != nil {
		return s.reject(r, attemptID, oauth.KindTokenExchange, err)
	}

	profile, err := s.Profiles.UserInfo(r.Context(), tok)
	if err == nil && profile == nil {
		err = errNoProfile
	}
	if err != nil {
		return s.reject(r, attemptID, oauth.KindUserInfo, err)
	}

	id := &oauth.Identity{Profile: *profile, AccessToken: tok.AccessToken}
	s.Metrics.IncrementCallbacks("forwarded")
	logInfo(r, "callback authenticated", "attempt_id", attemptID, "sub", id.Subject)
	return Continue(r.WithContext(WithIdentity(r.Context(), id))), nil
}

// reject logs the internal cause and returns an *oauth.Error of kind.
// Errors that are not already an *oauth.Error of that kind are wrapped, so the
// boundary sees the same shape whatever the upstream client returned.
func (s *CallbackStage) reject(r *http.Request, attemptID uuid.UUID, kind oauth.ErrorKind, err error) (Result, error) {
	logWarn(r, "callback rejected", "reason", kind.String(), "attempt_id", attemptID, "error", err)
	s.Metrics.IncrementCallbacks(kind.String())

	var oe *oauth.Error
	if !errors.As(err, &oe) || oe.Kind != kind {
		oe = &oauth.Error{Kind: kind, Cause: err}
	}
	return Terminate(), oe
}
