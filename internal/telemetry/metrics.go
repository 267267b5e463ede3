package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Relay ----
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshrelay",
			Name:      "messages_received_total",
			Help:      "Messages received, by source role (leaf or node).",
		},
		[]string{"source"},
	)

	MessagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshrelay",
			Name:      "messages_relayed_total",
			Help:      "Messages queued for delivery, by target (leaf or node). A sender's echo counts as leaf.",
		},
		[]string{"target"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshrelay",
			Name:      "messages_dropped_total",
			Help:      "Messages that could not be queued on a link, by target role.",
		},
		[]string{"target"},
	)

	// ---- Links ----
	LeafLinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshrelay",
			Name:      "leaf_links",
			Help:      "Currently registered leaf links.",
		},
	)

	NodeLinks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshrelay",
			Name:      "node_links",
			Help:      "Currently registered node links, by direction.",
		},
		[]string{"direction"},
	)

	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshrelay",
			Name:      "connect_attempts_total",
			Help:      "Outbound connect attempts, by result (connected or a failure kind).",
		},
		[]string{"result"},
	)

	// ---- HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshrelay",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshrelay",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshrelay",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "meshrelay",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesReceived, MessagesRelayed, MessagesDropped,
		LeafLinks, NodeLinks, ConnectAttempts,
		RequestsTotal, RequestDuration,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Do not wrap websocket endpoints: statusWriter does not implement http.Hijacker.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
