// middleware.go

// Stage adapter and identity context helpers.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/ferry/internal/oauth"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *oauth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the authenticated identity from context.
// Returns nil and false if the callback stage hasn't run or didn't succeed.
func IdentityFromContext(ctx context.Context) (*oauth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*oauth.Identity)
	return id, ok && id != nil
}

// Intercept turns a Stage into chi-compatible middleware.
// next runs at most once, and only when the stage returns Continue.
// Every *oauth.Error becomes the same 401 body regardless of kind; any other
// error becomes a generic 500.
func Intercept(s Stage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := s.Intercept(w, r)
			if err != nil {
				var oe *oauth.Error
				if errors.As(err, &oe) {
					Unauthorized(w, r, "unauthorized")
					return
				}
				InternalServerError(w, r, err)
				return
			}
			if res.Terminated() {
				return
			}
			next.ServeHTTP(w, res.Request())
		})
	}
}
