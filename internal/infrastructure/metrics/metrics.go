package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger metrics
	TransactionOperations *prometheus.CounterVec
	TransactionErrors     *prometheus.CounterVec
	TransactionDuration   *prometheus.HistogramVec
	TransactionAmount     *prometheus.HistogramVec
	BalanceAdjustments    *prometheus.CounterVec

	// Congregation metrics
	CongregationsCreated prometheus.Counter
	BalanceDrift         *prometheus.GaugeVec
	BalanceRepairs       prometheus.Counter
	ReconciliationRuns   *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Database metrics
	DBConnections prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Outbox metrics
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Audit metrics
	AuditLogsCreated *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger metrics
		TransactionOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_transaction_operations_total",
				Help: "Total ledger operations by type",
			},
			[]string{"operation"},
		),
		TransactionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_transaction_errors_total",
				Help: "Total ledger operation errors by operation and type",
			},
			[]string{"operation", "error_type"},
		),
		TransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "churchledger_transaction_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TransactionAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "churchledger_transaction_amount",
				Help:    "Transaction amounts by kind",
				Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
			},
			[]string{"kind"},
		),
		BalanceAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_balance_adjustments_total",
				Help: "Total congregation balance writes by operation",
			},
			[]string{"operation"},
		),

		// Congregation metrics
		CongregationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "churchledger_congregations_created_total",
			Help: "Total number of congregations created",
		}),
		BalanceDrift: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "churchledger_balance_drift",
				Help: "Recorded minus recomputed balance per congregation",
			},
			[]string{"congregation_id"},
		),
		BalanceRepairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "churchledger_balance_repairs_total",
			Help: "Total number of congregation balance repairs",
		}),
		ReconciliationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_reconciliation_runs_total",
				Help: "Total reconciliation runs by result",
			},
			[]string{"result"},
		),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "churchledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Database metrics
		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churchledger_db_connections",
			Help: "Current number of acquired database connections",
		}),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache"},
		),

		// Outbox metrics
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_events_published_total",
				Help: "Total outbox events published",
			},
			[]string{"event_type"},
		),
		PublishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_event_publish_errors_total",
				Help: "Total outbox publish failures",
			},
			[]string{"event_type"},
		),

		// Authentication metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		// Rate limiting metrics
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"path"},
		),

		// Audit metrics
		AuditLogsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "churchledger_audit_logs_total",
				Help: "Total audit logs created",
			},
			[]string{"action", "status"},
		),
	}
}
