package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Business metrics
	CommissionDistributions *prometheus.CounterVec
	CommissionCreditedCents *prometheus.CounterVec
	ReconciliationRuns      *prometheus.CounterVec
	ReconciliationPayments  *prometheus.CounterVec
	WebhookEvents           *prometheus.CounterVec
	Withdrawals             *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance with all metrics registered on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets, // 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Business metrics
		CommissionDistributions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_distributions_total",
				Help: "Total number of commission distribution attempts by outcome",
			},
			[]string{"status"}, // distributed, skipped, not_found, invalid_amount, partial
		),
		CommissionCreditedCents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_credited_cents_total",
				Help: "Total commission credited to wallets, in cents",
			},
			[]string{"level"},
		),
		ReconciliationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_runs_total",
				Help: "Total number of reconciliation runs",
			},
			[]string{"result"}, // success, failed
		),
		ReconciliationPayments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_payments_total",
				Help: "Payments handled by reconciliation runs",
			},
			[]string{"result"}, // fixed, skipped, error
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Total number of billing webhook events",
			},
			[]string{"type", "status"},
		),
		Withdrawals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawals_total",
				Help: "Total number of withdrawal state changes",
			},
			[]string{"status"}, // pending, approved, rejected
		),

		// Database metrics
		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // Use route pattern, not actual path (e.g., /api/v1/withdrawals/:id)

			// Measure request size
			if req.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(req.Method, path).Observe(float64(req.ContentLength))
			}

			// Call next handler
			err := next(c)

			// Record metrics
			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// CommissionDistributed counts a ledger outcome
func (m *Metrics) CommissionDistributed(status string) {
	m.CommissionDistributions.WithLabelValues(status).Inc()
}

// CommissionCredited adds a credited level amount
func (m *Metrics) CommissionCredited(level int, cents int64) {
	m.CommissionCreditedCents.WithLabelValues(strconv.Itoa(level)).Add(float64(cents))
}

// RecordReconciliation records the result of one reconciliation run
func (m *Metrics) RecordReconciliation(success bool, fixed, skipped, errors int) {
	result := "failed"
	if success {
		result = "success"
	}
	m.ReconciliationRuns.WithLabelValues(result).Inc()
	m.ReconciliationPayments.WithLabelValues("fixed").Add(float64(fixed))
	m.ReconciliationPayments.WithLabelValues("skipped").Add(float64(skipped))
	m.ReconciliationPayments.WithLabelValues("error").Add(float64(errors))
}

// RecordWebhookEvent increments webhook events counter
func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.WebhookEvents.WithLabelValues(eventType, status).Inc()
}

// RecordWithdrawal increments withdrawals counter
func (m *Metrics) RecordWithdrawal(status string) {
	m.Withdrawals.WithLabelValues(status).Inc()
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	m.DBConnections.Set(count)
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
