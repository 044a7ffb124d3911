// login.go -- Login stage: redirect to the authorization endpoint.
package auth

import (
	"net/http"

	"github.com/MGallo-Code/ferry/internal/metrics"
	"github.com/MGallo-Code/ferry/internal/oauth"
)

// LoginStage handles GET /authorize -- issues one 302 to the authorization
// server and always terminates the pipeline.
type LoginStage struct {
	Config  oauth.Config
	Metrics *metrics.Metrics
}

// Intercept writes the redirect. The next handler never runs.
func (s *LoginStage) Intercept(w http.ResponseWriter, r *http.Request) (Result, error) {
	loginURL := oauth.AuthorizationURL(s.Config)
	http.Redirect(w, r, loginURL, http.StatusFound)
	s.Metrics.IncrementLoginRedirects()
	logDebug(r, "redirecting to authorization server", "domain", s.Config.Domain)
	return Terminate(), nil
}
