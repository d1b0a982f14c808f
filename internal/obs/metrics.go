package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pantrysync_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pantrysync_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pantrysync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// MirrorDeliveries counts snapshots handed to mirror subscribers.
	MirrorDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pantrysync_mirror_deliveries_total",
			Help: "Snapshots delivered to live collection mirror subscribers.",
		},
		[]string{"mirror"},
	)

	// MirrorFailures counts subscriptions stopped by a live query error.
	MirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pantrysync_mirror_failures_total",
			Help: "Live collection mirror subscriptions stopped by an error.",
		},
		[]string{"mirror"},
	)

	// MirrorActive tracks open mirror subscriptions.
	MirrorActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pantrysync_mirror_active_subscriptions",
			Help: "Open live collection mirror subscriptions.",
		},
		[]string{"mirror"},
	)

	// BootstrapDecisions counts navigation decisions by destination and trigger.
	BootstrapDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pantrysync_bootstrap_decisions_total",
			Help: "Session bootstrap navigation decisions.",
		},
		[]string{"destination", "trigger"},
	)

	// ActivityWriteFailures counts activity entries lost after a successful
	// domain write.
	ActivityWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pantrysync_activity_write_failures_total",
		Help: "Activity log writes that failed after the paired mutation succeeded.",
	})
)

func init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		MirrorDeliveries, MirrorFailures, MirrorActive,
		BootstrapDecisions, ActivityWriteFailures,
	)
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge. route should
// be the pattern, not the raw path, to keep label cardinality bounded.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (needed by
// the websocket upgrade).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
