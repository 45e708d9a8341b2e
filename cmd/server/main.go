package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	httpAdapter "github.com/iho/churchledger/internal/adapter/http"
	"github.com/iho/churchledger/internal/adapter/http/handler"
	"github.com/iho/churchledger/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/churchledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/churchledger/internal/adapter/repository/redis"
	"github.com/iho/churchledger/internal/infrastructure/auth"
	"github.com/iho/churchledger/internal/infrastructure/config"
	"github.com/iho/churchledger/internal/infrastructure/eventpublisher"
	"github.com/iho/churchledger/internal/infrastructure/logger"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
	"github.com/iho/churchledger/internal/infrastructure/postgres"
	"github.com/iho/churchledger/internal/infrastructure/redis"
	"github.com/iho/churchledger/internal/infrastructure/scheduler"
	"github.com/iho/churchledger/internal/usecase"
)

const (
	outboxRetention   = 7 * 24 * time.Hour
	reconcileTimeout  = 5 * time.Minute
	poolStatsInterval = 15 * time.Second
	limiterIdle       = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	zlog.Logger = log
	zerolog.DefaultContextLogger = &log

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, log).Up(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	m := metrics.New()

	// Redis is optional: without it requests skip idempotency keys and
	// balances are always read from postgres.
	var (
		cache            usecase.BalanceCache
		idempotencyStore usecase.IdempotencyStore
		redisPinger      handler.Pinger
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Msg("connected to redis")

		cache = redisRepo.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
		idempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
		redisPinger = handler.PingerFunc(func(ctx context.Context) error {
			return redis.Ping(ctx, redisClient)
		})
	} else {
		log.Warn().Msg("REDIS_URL not set, balance cache and idempotency keys disabled")
	}

	// Repositories
	txManager := postgresRepo.NewTxManager(pool)
	congregationRepo := postgresRepo.NewCongregationRepository(pool)
	transactionRepo := postgresRepo.NewTransactionRepository(pool)
	outboxRepo := postgresRepo.NewOutboxRepository(pool)
	auditRepo := postgresRepo.NewAuditRepository(pool)
	idGen := postgresRepo.NewULIDGenerator()

	// Use cases
	congregationUC := usecase.NewCongregationUseCase(txManager, congregationRepo, outboxRepo, auditRepo, idGen, cache, m)
	ledgerUC := usecase.NewLedgerUseCase(txManager, congregationRepo, transactionRepo, outboxRepo, auditRepo, idGen, cache, m)
	reconciliationUC := usecase.NewReconciliationUseCase(txManager, congregationRepo, transactionRepo, outboxRepo, auditRepo, idGen, cache, m)
	transactionUC := usecase.NewTransactionUseCase(transactionRepo)

	// Background workers
	publisher, closePublisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	eventPublisher := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outboxRepo,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     log,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Retention:  outboxRetention,
	})
	go func() {
		if err := eventPublisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event publisher stopped")
		}
	}()

	var sched *scheduler.Scheduler
	if cfg.ReconcileEnabled() {
		sched = scheduler.New(log)
		job := scheduler.NewReconciliationJob(reconciliationUC, postgresRepo.NewRetrier(log), cfg.ReconcileAutoRepair)
		if err := sched.Add(cfg.ReconcileSchedule, "reconcile", reconcileTimeout, job.Run); err != nil {
			return err
		}
		sched.Start()
	}

	go reportPoolStats(ctx, acquiredConns(pool), m, poolStatsInterval)

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)
		go limiter.RunCleanup(ctx, time.Minute, limiterIdle)
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		CongregationHandler: handler.NewCongregationHandler(congregationUC, reconciliationUC),
		TransactionHandler:  handler.NewTransactionHandler(ledgerUC, transactionUC),
		LedgerHandler:       handler.NewLedgerHandler(reconciliationUC),
		HealthHandler:       handler.NewHealthHandler(pool, redisPinger),
		TokenVerifier:       newTokenVerifier(cfg),
		IdempotencyStore:    idempotencyStore,
		IdempotencyTTL:      cfg.IdempotencyTTL,
		RateLimiter:         limiter,
		Metrics:             m,
		Logger:              &log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("reconciliation job still running at shutdown")
		}
	}

	log.Info().Msg("server stopped")
	return nil
}

// newPublisher picks the outbox sink. Without NATS_URL events are logged,
// which keeps the outbox draining in development.
func newPublisher(cfg *config.Config, log zerolog.Logger) (eventpublisher.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return eventpublisher.NewLogPublisher(log), func() {}, nil
	}

	nats, err := eventpublisher.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info().Str("prefix", cfg.NATSSubjectPrefix).Msg("connected to nats")

	return nats, func() {
		if err := nats.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to drain nats connection")
		}
	}, nil
}

// newTokenVerifier returns nil when authentication is disabled, which makes
// the router treat API callers as the system user.
func newTokenVerifier(cfg *config.Config) middleware.TokenVerifier {
	if !cfg.AuthEnabled {
		return nil
	}
	return auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
}

// reportPoolStats samples acquired connections into the DBConnections gauge
// until ctx is cancelled.
func reportPoolStats(ctx context.Context, acquired func() int32, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.DBConnections.Set(float64(acquired()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func acquiredConns(pool *pgxpool.Pool) func() int32 {
	return func() int32 { return pool.Stat().AcquiredConns() }
}
