// Package metrics provides Prometheus instrumentation for the settlement
// engine.
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
	// OrdersTotal counts orders accepted, partitioned by market and kind.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasx_orders_total",
		Help: "Total number of orders accepted",
	}, []string{"market", "kind"})

	// FillsTotal counts order fills, partitioned by market.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasx_fills_total",
		Help: "Total number of order fills",
	}, []string{"market"})

	// TriggerClosesTotal counts take-profit and stop-loss executions.
	TriggerClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasx_trigger_closes_total",
		Help: "Position closes executed by TP/SL triggers",
	}, []string{"trigger"})

	// LiquidationsTotal counts forced position closes.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasx_liquidations_total",
		Help: "Total number of liquidated positions",
	})

	// PriceFetchFailures counts oracle lookups that returned no price.
	PriceFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasx_price_fetch_failures_total",
		Help: "Oracle price lookups that failed fresh and stale",
	})

	// TickDuration tracks how long one settlement sweep takes.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlasx_settlement_tick_duration_seconds",
		Help:    "Settlement loop tick duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"market"})

	// RiskRejections counts orders rejected by risk limits.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasx_risk_rejections_total",
		Help: "Orders rejected by risk limits",
	})

	// OpenPositions tracks the number of open futures positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlasx_open_positions",
		Help: "Number of open futures positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlasx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlasx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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
