package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PoolConfig describes the connection pool and its startup retry policy.
type PoolConfig struct {
	DatabaseURL string
	MaxConns    int
	MinConns    int
	// ConnectTimeout bounds the whole startup retry loop. Zero means one attempt.
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int) (*pgxpool.Pool, error) {
	return NewPoolWithConfig(ctx, PoolConfig{
		DatabaseURL: databaseURL,
		MaxConns:    maxConns,
		MinConns:    minConns,
		Logger:      zerolog.Nop(),
	})
}

// NewPoolWithConfig creates a pool and pings it, retrying with exponential
// backoff until cfg.ConnectTimeout elapses.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		config.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.ConnectTimeout

	var policy backoff.BackOff = b
	if cfg.ConnectTimeout <= 0 {
		policy = &backoff.StopBackOff{}
	}

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := pool.Ping(pingCtx); err != nil {
			cfg.Logger.Warn().Err(err).Int("attempt", attempt).Msg("database not ready")
			return err
		}
		return nil
	}

	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info().Int("attempts", attempt).Msg("database connected")
	return pool, nil
}
