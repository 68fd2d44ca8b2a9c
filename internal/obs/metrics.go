package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready to serve traffic.",
	})
)

// Domain metrics for the access and moderation workflow.
var (
	otpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_requests_total",
			Help: "One-time code requests by outcome.",
		},
		[]string{"result"},
	)

	markerSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marker_submissions_total",
			Help: "Marker submissions by outcome.",
		},
		[]string{"result"},
	)

	moderationTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_transitions_total",
			Help: "Moderation state transitions by action.",
		},
		[]string{"action"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		otpRequestsTotal, markerSubmissionsTotal, moderationTransitionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// CountOTPRequest records an OTP request outcome (granted, rate_limited, dispatch_failed).
func CountOTPRequest(result string) {
	otpRequestsTotal.WithLabelValues(result).Inc()
}

// CountMarkerSubmission records a marker submission outcome.
func CountMarkerSubmission(result string) {
	markerSubmissionsTotal.WithLabelValues(result).Inc()
}

// CountModerationTransition records an executed moderation action.
func CountModerationTransition(action string) {
	moderationTransitionsTotal.WithLabelValues(action).Inc()
}

// Instrument wraps the handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const markersPrefix = "/v1/markers/"
	if rest := strings.TrimPrefix(path, markersPrefix); rest != path && rest != "" {
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 1 {
			return markersPrefix + ":id"
		}
		switch parts[1] {
		case "history", "approve", "reject", "resolve":
			return markersPrefix + ":id/" + parts[1]
		}
		return path
	}
	const actorsPrefix = "/v1/admin/actors/"
	if rest := strings.TrimPrefix(path, actorsPrefix); rest != path && rest != "" && !strings.Contains(rest, "/") {
		return actorsPrefix + ":id"
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working behind the instrumented wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
