// Package observability holds the Prometheus instrumentation of the access
// server and the alert rules shipped with it.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "odyssey"

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	fanout        prometheus.Histogram
}

// NewMetrics registers the access collectors plus the Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "authz", Name: "decisions_total",
			Help: "Authorization checks by kind (any, all, route) and result.",
		}, []string{"check", "result"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "permission", Name: "refresh_total",
			Help: "Session permission snapshot refreshes by outcome.",
		}, []string{"outcome"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "permission", Name: "invalidations_total",
			Help: "Invalidation events handled by kind (role, user, catalog).",
		}, []string{"kind"}),
		fanout: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "permission", Name: "invalidation_sessions",
			Help:    "Sessions refreshed per invalidation event.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests by their chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDecision counts one authorization check.
func (m *Metrics) ObserveDecision(check string, allowed bool) {
	if m != nil {
		m.decisions.WithLabelValues(check, outcome(allowed, "allow", "deny")).Inc()
	}
}

// ObserveRefresh counts one snapshot refresh.
func (m *Metrics) ObserveRefresh(ok bool) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome(ok, "success", "failure")).Inc()
	}
}

// ObserveInvalidation counts one invalidation event and how many sessions it
// refreshed.
func (m *Metrics) ObserveInvalidation(kind string, sessions int) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(kind).Inc()
	m.fanout.Observe(float64(sessions))
}

// TrackSessions exposes the number of live permission caches as a gauge.
func (m *Metrics) TrackSessions(count func() int) {
	if m == nil || count == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "permission", Name: "live_sessions",
		Help: "Sessions holding a permission snapshot on this instance.",
	}, func() float64 { return float64(count()) })
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
