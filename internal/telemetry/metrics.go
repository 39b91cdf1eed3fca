// Package telemetry provides application-level observability for the valuation backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served by the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<VV_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Rate limiter rejections, per named limiter
//   - Report gate rejections, per error code
//   - Anonymous intake outcomes and valuation call outcomes
//   - Database connection pool gauge (polled every 30 s)
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/reports/:id/valuation)
// rather than the raw request URL so report IDs and VINs never become label values.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Error rate (%):        sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// RateLimitRejectionsTotal counts requests refused with 429, by limiter name
// (api, intake, valuation).
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Total number of requests rejected by a rate limiter, by limiter name.",
	},
	[]string{"limiter"},
)

// ReportGateRejectionsTotal counts failed pre-valuation checks by error code.
// A rise in INVALID_* codes points at tampered or corrupted report rows; VALIDATION_ERROR
// tracks storage faults seen by the gate.
var ReportGateRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "report_gate_rejections_total",
		Help: "Total number of report gate rejections, by error code.",
	},
	[]string{"code"},
)

// Intake and valuation outcomes.
//
// ReportIntakeTotal labels: outcome = created | duplicate | invalid | error.
// ValuationRequestsTotal labels: outcome = success | rejected | provider_error | store_error.
var (
	ReportIntakeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_intake_total",
			Help: "Total number of report creation requests, by outcome.",
		},
		[]string{"outcome"},
	)

	ValuationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuation_requests_total",
			Help: "Total number of valuation fetch requests, by outcome.",
		},
		[]string{"outcome"},
	)
)

// DBOpenConnections tracks the number of open connections held by the pool.
// It is sampled by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// DBStatsInterval is how often StartDBStatsCollector samples the pool.
const DBStatsInterval = 30 * time.Second

// StartDBStatsCollector samples connection pool statistics every interval until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sqlx.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					if ctx.Err() == nil {
						slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					}
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
