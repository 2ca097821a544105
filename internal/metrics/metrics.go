// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HealthComputations counts health evaluations by requirement type.
	HealthComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_health_computations_total",
		Help: "Total account health evaluations",
	}, []string{"requirement"})

	// OracleParses counts oracle payload decodes by kind and outcome.
	OracleParses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_oracle_parses_total",
		Help: "Total oracle payload decodes",
	}, []string{"kind", "outcome"})

	// TrackedBanks tracks the number of banks with a current snapshot.
	TrackedBanks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_tracked_banks",
		Help: "Number of banks with a current snapshot",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// LiquidationChecks counts max-liquidatable sizings by whether the
	// account was actually below maintenance.
	LiquidationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_liquidation_checks_total",
		Help: "Max-liquidatable sizings by account state",
	}, []string{"unhealthy"})

	// SnapshotIngests counts snapshot upserts by entity.
	SnapshotIngests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_snapshot_ingests_total",
		Help: "Snapshot upserts by entity type",
	}, []string{"entity"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
