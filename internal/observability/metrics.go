// Package observability provides Prometheus instrumentation for the cast client.
package observability

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nuacast/internal/core"
)

// Metrics collects request, token and wait metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	cacheHitsTotal  *prometheus.CounterVec
	waitsTotal      *prometheus.CounterVec
	waitDuration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuacast_requests_total",
				Help: "Total number of API requests by method, endpoint and status",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nuacast_request_duration_seconds",
				Help:    "Duration of API requests by method and endpoint",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "endpoint"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuacast_tokens_total",
				Help: "LLM tokens reported by the service, by cast kind and token type",
			},
			[]string{"kind", "type"},
		),
		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuacast_cache_hits_total",
				Help: "Results served from the service-side cache, by cast kind",
			},
			[]string{"kind"},
		),
		waitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuacast_waits_total",
				Help: "Completion waits by outcome",
			},
			[]string{"outcome"},
		),
		waitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nuacast_wait_duration_seconds",
				Help:    "Time spent waiting for queued casts to complete",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
	}

	reg.MustRegister(m.requestsTotal, m.requestDuration, m.tokensTotal, m.cacheHitsTotal, m.waitsTotal, m.waitDuration)
	return m
}

// ObserveRequest records one API exchange. status is 0 when no response arrived.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	endpoint := Endpoint(path)
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(method, endpoint, code).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// ObserveUsage records token counts and cache hits for a completed cast.
func (m *Metrics) ObserveUsage(kind core.Kind, usage core.Usage, cacheHits int) {
	if m == nil {
		return
	}
	m.tokensTotal.WithLabelValues(string(kind), "prompt").Add(float64(usage.PromptTokens))
	m.tokensTotal.WithLabelValues(string(kind), "completion").Add(float64(usage.CompletionTokens))
	if cacheHits > 0 {
		m.cacheHitsTotal.WithLabelValues(string(kind)).Add(float64(cacheHits))
	}
}

// ObserveWait records the outcome of a completion wait.
func (m *Metrics) ObserveWait(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.waitsTotal.WithLabelValues(WaitOutcome(err)).Inc()
	m.waitDuration.Observe(d.Seconds())
}

// WaitOutcome maps a wait error to its metric label.
func WaitOutcome(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case core.IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Endpoint collapses request paths to a bounded label set; request ids are dropped.
func Endpoint(path string) string {
	path = strings.Trim(path, "/")
	if strings.HasPrefix(path, "requests/") {
		return "requests"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
