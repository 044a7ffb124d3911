// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MGallo-Code/ferry/internal/store"
)

// CheckHealth handles GET /health -- pings Redis when rate limiting is enabled.
// Returns 200 if healthy or Redis is disabled, 503 if Redis is configured but down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"

	if err := h.RL.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrCacheDisabled) {
			redisStatus = "disabled"
		} else {
			logError(r, "redis health check failed", "error", err)
			redisStatus = "error"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if redisStatus == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	status := "ok"
	if redisStatus == "error" {
		status = "degraded"
	}
	json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Redis  string `json:"redis"`
	}{status, redisStatus})
}
