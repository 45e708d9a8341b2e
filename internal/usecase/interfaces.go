package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
)

// CongregationRepository defines data access for congregations.
type CongregationRepository interface {
	Create(ctx context.Context, tx DBTx, congregation *domain.Congregation) error
	GetByID(ctx context.Context, id string) (*domain.Congregation, error)
	GetByIDTx(ctx context.Context, tx DBTx, id string) (*domain.Congregation, error)
	GetByIDForUpdate(ctx context.Context, tx DBTx, id string) (*domain.Congregation, error)
	UpdateBalance(ctx context.Context, tx DBTx, id string, balance decimal.Decimal, updatedAt time.Time) error
	Update(ctx context.Context, tx DBTx, congregation *domain.Congregation) error
	// Delete fails with domain.ErrCongregationNotEmpty while transactions
	// reference the congregation.
	Delete(ctx context.Context, tx DBTx, id string) error
	List(ctx context.Context, limit, offset int) ([]*domain.Congregation, error)
	ListTx(ctx context.Context, tx DBTx, limit, offset int) ([]*domain.Congregation, error)
	Count(ctx context.Context) (int64, error)
}

// TransactionRepository defines data access for ledger transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx DBTx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx DBTx, id string) (*domain.Transaction, error)
	Update(ctx context.Context, tx DBTx, transaction *domain.Transaction) error
	Delete(ctx context.Context, tx DBTx, id string) error
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	Count(ctx context.Context, filter domain.TransactionFilter) (int64, error)
	// ConfirmedTotalsTx returns CONFIRMED sums grouped by congregation and
	// kind, read inside tx. An empty congregationID covers every congregation.
	ConfirmedTotalsTx(ctx context.Context, tx DBTx, congregationID string) ([]domain.KindTotal, error)
	CategoryTotals(ctx context.Context, filter domain.SummaryFilter) ([]domain.CategoryTotal, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx DBTx, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx DBTx, log *domain.AuditLog) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

// DBTx represents a database transaction.
type DBTx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxManager handles transaction lifecycle.
type TxManager interface {
	Begin(ctx context.Context) (DBTx, error)
	// BeginReadOnly starts a transaction whose reads all see one snapshot
	// of committed data.
	BeginReadOnly(ctx context.Context) (DBTx, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// BalanceCache caches congregation balances between ledger writes.
type BalanceCache interface {
	Get(ctx context.Context, congregationID string) (decimal.Decimal, bool, error)
	// Set stores balance unless an entry with the same or a newer
	// congregation version is already cached.
	Set(ctx context.Context, congregationID string, balance decimal.Decimal, version int64) error
	Invalidate(ctx context.Context, congregationID string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete releases a key whose request failed before completing.
	Delete(ctx context.Context, key string) error
}
