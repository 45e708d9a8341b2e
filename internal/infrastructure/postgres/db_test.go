package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewPoolWithConfigDefaults(t *testing.T) {
	ctx := context.Background()

	// using invalid URL should return error
	if _, err := NewPoolWithConfig(ctx, PoolConfig{DatabaseURL: "not-a-url", Logger: zerolog.Nop()}); err == nil {
		t.Fatalf("expected error when parsing invalid URL")
	}
}

func TestNewPoolWithConfigPingFailure(t *testing.T) {
	ctx := context.Background()
	cfg := PoolConfig{
		DatabaseURL:    "postgres://invalid:5432/db?connect_timeout=1",
		MaxConns:       1,
		ConnectTimeout: 300 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}

	_, err := NewPoolWithConfig(ctx, cfg)
	if err == nil {
		t.Fatalf("expected error when pool cannot connect")
	}
}

func TestNewPoolHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPool(ctx, "postgres://invalid:5432/db?connect_timeout=1", 1, 0)
	if err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestMigratorRejectsBadSource(t *testing.T) {
	m := NewMigrator("postgres://invalid:5432/db", "/nonexistent/migrations", zerolog.Nop())
	if err := m.Up(); err == nil {
		t.Fatalf("expected error for missing migrations directory")
	}
}
