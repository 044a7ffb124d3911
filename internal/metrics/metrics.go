// metrics.go -- Prometheus collectors for the login and callback flow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// so components can run without metrics wired.
type Metrics struct {
	LoginRedirects   prometheus.Counter
	Callbacks        *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on a fresh registry.
// Each call gets its own registry, so tests can create as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		LoginRedirects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ferry_login_redirects_total",
			Help: "Total number of redirects issued to the authorization endpoint",
		}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ferry_callbacks_total",
			Help: "Total number of callback requests by outcome",
		}, []string{"outcome"}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ferry_upstream_request_duration_seconds",
			Help:    "Latency of calls to the authorization server by endpoint and result",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "result"}),
		gatherer: reg,
	}
}

// IncrementLoginRedirects counts one issued authorization redirect.
func (m *Metrics) IncrementLoginRedirects() {
	if m == nil {
		return
	}
	m.LoginRedirects.Inc()
}

// IncrementCallbacks counts one finished callback with the given outcome label.
func (m *Metrics) IncrementCallbacks(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records the duration of one upstream call.
// result is "ok" when err is nil, "error" otherwise.
func (m *Metrics) ObserveUpstream(endpoint string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.UpstreamDuration.WithLabelValues(endpoint, result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
