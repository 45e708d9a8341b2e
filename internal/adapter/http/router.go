package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/churchledger/internal/adapter/http/handler"
	"github.com/iho/churchledger/internal/adapter/http/middleware"
	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
	"github.com/iho/churchledger/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	CongregationHandler *handler.CongregationHandler
	TransactionHandler  *handler.TransactionHandler
	LedgerHandler       *handler.LedgerHandler
	HealthHandler       *handler.HealthHandler

	// TokenVerifier guards /api/v1. Without it every API request runs as the
	// trusted system caller.
	TokenVerifier    middleware.TokenVerifier
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	Gatherer         prometheus.Gatherer
	Logger           *zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if cfg.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(*cfg.Logger).Wrap)
	}
	r.Use(middleware.Recovery)
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}
	r.Use(middleware.RequestInfo)

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.TokenVerifier != nil {
			r.Use(middleware.AuthMiddleware(cfg.TokenVerifier, cfg.Metrics))
		}

		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL).Wrap)
		}

		r.Route("/congregations", func(r chi.Router) {
			r.Post("/", cfg.CongregationHandler.Create)
			r.Get("/", cfg.CongregationHandler.List)
			r.Get("/{id}", cfg.CongregationHandler.Get)
			r.Put("/{id}", cfg.CongregationHandler.Update)
			r.Delete("/{id}", cfg.CongregationHandler.Delete)
			r.Get("/{id}/balance", cfg.CongregationHandler.GetBalance)
			r.Get("/{id}/transactions", cfg.TransactionHandler.ListByCongregation)
			r.Get("/{id}/summary", cfg.TransactionHandler.CongregationSummary)
			r.Post("/{id}/reconcile", cfg.CongregationHandler.Reconcile)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", cfg.TransactionHandler.Create)
			r.Get("/", cfg.TransactionHandler.List)
			r.Get("/{id}", cfg.TransactionHandler.Get)
			r.Put("/{id}", cfg.TransactionHandler.Update)
			r.Post("/{id}/approve", cfg.TransactionHandler.Approve)
			r.Delete("/{id}", cfg.TransactionHandler.Delete)
		})

		r.Get("/summary", cfg.TransactionHandler.Summary)

		r.Group(func(r chi.Router) {
			if cfg.TokenVerifier != nil {
				r.Use(middleware.RequireRole(domain.RoleGlobalAdmin, domain.RoleDirector))
			}
			r.Get("/ledger/consistency", cfg.LedgerHandler.CheckConsistency)
		})
	})

	return r
}
