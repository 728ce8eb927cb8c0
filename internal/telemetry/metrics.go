// Package telemetry holds the engine's Prometheus metrics, logger setup and
// OpenTelemetry tracer.
//
// All metrics are registered against the default Prometheus registry and are
// served by the main router at GET /metrics.
//
// HTTP metrics use the echo route template (c.Path(), e.g. /v1/scan/:code)
// rather than the raw URL so beacon codes and signed tokens never become
// label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Scan metrics.
//
// ScansTotal counts scans that passed verification, by action and source
// (organic | signed).  ScanFailuresTotal counts terminal scan failures by
// error code (InvalidSignature, Expired, NotFound...).
//
// Example PromQL:
//   - Tamper rate: rate(beacon_scan_failures_total{code="InvalidSignature"}[5m])
var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_scans_total",
			Help: "Total number of verified beacon scans, by action and source.",
		},
		[]string{"action", "source"},
	)

	ScanFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_scan_failures_total",
			Help: "Total number of rejected beacon scans, by error code.",
		},
		[]string{"code"},
	)
)

// Signal feed metrics.
var (
	SignalsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_created_total",
			Help: "Total number of Right Now signals created, by mode.",
		},
		[]string{"mode"},
	)

	RateLimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total number of requests rejected by a rate limit, by limiter and window.",
		},
		[]string{"limiter", "window"},
	)
)

// XPAwardedTotal sums XP written to the ledger, by reason.  XPCappedTotal
// counts grants skipped because the daily cap was already met.
var (
	XPAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xp_awarded_total",
			Help: "Total XP granted, by reason.",
		},
		[]string{"reason"},
	)

	XPCappedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xp_capped_total",
			Help: "Total number of XP grants skipped because the per-day cap was reached.",
		},
	)
)

// SideEffectFailuresTotal counts failures of best-effort writes that ran
// after a successful primary operation (kind = xp | heat | audit).  Every
// increment has a matching log line with the reconciliation context.
//
// Example PromQL:
//   - Alert: increase(side_effect_failures_total[10m]) > 0
var SideEffectFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "side_effect_failures_total",
		Help: "Total number of failed best-effort side effects, by kind.",
	},
	[]string{"kind"},
)

// Fan-out metrics, labelled by sink (hub | amqp | mqtt | bus).
var (
	FanoutPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_published_total",
			Help: "Total number of signals delivered to a fan-out sink, by sink.",
		},
		[]string{"sink"},
	)

	FanoutDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_dropped_total",
			Help: "Total number of signals dropped by fan-out (full buffer, timeout or sink error), by sink.",
		},
		[]string{"sink"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_stream_subscribers",
			Help: "Current number of connected live-stream subscribers.",
		},
	)
)

// DBOpenConnections is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples the pool every 30 seconds until stop is
// closed or the database becomes unreachable.
func StartDBStatsCollector(db *sql.DB, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := db.Ping(); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
