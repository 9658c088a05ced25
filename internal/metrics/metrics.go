// Package metrics exposes Prometheus collectors for the reading pipeline.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arcana",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcana",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arcana",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcana",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total jobs reaching a terminal state.",
		},
		[]string{"state", "gate_outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arcana",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from job creation to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"state"},
	)

	providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcana",
			Subsystem: "providers",
			Name:      "attempts_total",
			Help:      "Total provider generation attempts by outcome.",
		},
		[]string{"provider", "status"},
	)

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcana",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total sync gate decisions.",
		},
		[]string{"outcome", "reason"},
	)

	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcana",
			Subsystem: "eval",
			Name:      "records_total",
			Help:      "Total eval records written, by scoring mode.",
		},
		[]string{"mode"},
	)

	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arcana",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Currently attached stream subscribers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		jobsCompleted,
		jobDuration,
		providerAttempts,
		gateDecisions,
		evaluations,
		streamSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordJobCompleted records a job reaching its terminal state.
func RecordJobCompleted(state, gateOutcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobsCompleted.WithLabelValues(state, gateOutcome).Inc()
	jobDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordProviderAttempt records one generation attempt.
func RecordProviderAttempt(provider, status string) {
	providerAttempts.WithLabelValues(provider, status).Inc()
}

// RecordGateDecision records one sync gate verdict.
func RecordGateDecision(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	gateDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordEvaluation records one written eval record.
func RecordEvaluation(mode string) {
	evaluations.WithLabelValues(mode).Inc()
}

// StreamSubscriberAttached tracks a subscriber joining a job stream.
func StreamSubscriberAttached() { streamSubscribers.Inc() }

// StreamSubscriberDetached tracks a subscriber leaving a job stream.
func StreamSubscriberDetached() { streamSubscribers.Dec() }

// canonicalPath collapses job ids so metric cardinality stays bounded.
func canonicalPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if i >= 3 && parts[i-1] == "readings" && part != "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush forwards to the wrapped writer so SSE responses can stream.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped writer so websocket upgrades succeed.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}
