package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/churchledger/internal/infrastructure/postgres/generated"
	"github.com/iho/churchledger/internal/usecase"
)

var errForeignTx = errors.New("postgres: transaction was not started by TxManager")

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

// snapshotOptions gives every statement of a read-only transaction the same
// view of committed data.
var snapshotOptions = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// TxManager implements usecase.TxManager.
type TxManager struct {
	pool pgxPool
}

// NewTxManager creates a new TxManager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return newTxManagerWithPool(pool)
}

func newTxManagerWithPool(pool pgxPool) *TxManager {
	return &TxManager{pool: pool}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.DBTx, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &Tx{tx: tx}, nil
}

// BeginReadOnly starts a REPEATABLE READ, READ ONLY transaction.
func (m *TxManager) BeginReadOnly(ctx context.Context) (usecase.DBTx, error) {
	tx, err := m.pool.BeginTx(ctx, snapshotOptions)
	if err != nil {
		return nil, err
	}

	return &Tx{tx: tx}, nil
}

// Tx wraps a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback rolls back the transaction. Rolling back a finished
// transaction is a no-op so callers can defer it unconditionally.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// PgxTx returns the underlying pgx.Tx.
func (t *Tx) PgxTx() pgx.Tx {
	return t.tx
}

func queriesFor(tx usecase.DBTx) (*generated.Queries, error) {
	pgxTx, ok := tx.(*Tx)
	if !ok {
		return nil, errForeignTx
	}
	return generated.New(pgxTx.tx), nil
}
