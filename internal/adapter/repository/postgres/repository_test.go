package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/churchledger/internal/domain"
)

func TestCongregationRepository_GetByIDNotFound(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectQuery(`FROM congregations WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	repo := NewCongregationRepository(mockPool)
	_, err := repo.GetByID(context.Background(), "missing")

	require.ErrorIs(t, err, domain.ErrCongregationNotFound)
	assertExpectations(t, mockPool)
}

func TestCongregationRepository_LockAndUpdateBalance(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`FROM congregations WHERE id = \$1 FOR UPDATE`).
		WithArgs("cong-1").
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectExec(`UPDATE congregations`).
		WithArgs("cong-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mockPool.ExpectRollback()

	ctx := context.Background()
	tx, err := newTxManagerWithPool(mockPool).Begin(ctx)
	require.NoError(t, err)

	repo := NewCongregationRepository(mockPool)

	_, err = repo.GetByIDForUpdate(ctx, tx, "cong-1")
	require.ErrorIs(t, err, domain.ErrCongregationNotFound)

	err = repo.UpdateBalance(ctx, tx, "cong-1", decimal.RequireFromString("10.50"), time.Now())
	require.ErrorIs(t, err, domain.ErrCongregationNotFound)

	require.NoError(t, tx.Rollback(ctx))
	assertExpectations(t, mockPool)
}

func TestCongregationRepository_UpdateAndDelete(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectBegin()
	mockPool.ExpectExec(`UPDATE congregations\s+SET name = \$2, active = \$3`).
		WithArgs("cong-1", "North", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`UPDATE congregations\s+SET name`).
		WithArgs("missing", "North", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mockPool.ExpectExec(`DELETE FROM congregations`).
		WithArgs("cong-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mockPool.ExpectExec(`DELETE FROM congregations`).
		WithArgs("cong-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mockPool.ExpectRollback()

	ctx := context.Background()
	tx, err := newTxManagerWithPool(mockPool).Begin(ctx)
	require.NoError(t, err)

	repo := NewCongregationRepository(mockPool)

	require.NoError(t, repo.Update(ctx, tx, &domain.Congregation{ID: "cong-1", Name: "North", UpdatedAt: time.Now()}))
	require.ErrorIs(t, repo.Update(ctx, tx, &domain.Congregation{ID: "missing", Name: "North"}), domain.ErrCongregationNotFound)

	// Transactions still reference cong-1, so the guarded delete matches nothing.
	require.ErrorIs(t, repo.Delete(ctx, tx, "cong-1"), domain.ErrCongregationNotEmpty)
	require.NoError(t, repo.Delete(ctx, tx, "cong-2"))

	require.NoError(t, tx.Rollback(ctx))
	assertExpectations(t, mockPool)
}

func TestTransactionRepository_DeleteAndUpdateMissingRow(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectBegin()
	mockPool.ExpectExec(`DELETE FROM transactions WHERE id = \$1`).
		WithArgs("txn-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mockPool.ExpectExec(`UPDATE transactions`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mockPool.ExpectRollback()

	ctx := context.Background()
	tx, err := newTxManagerWithPool(mockPool).Begin(ctx)
	require.NoError(t, err)

	repo := NewTransactionRepository(mockPool)

	require.ErrorIs(t, repo.Delete(ctx, tx, "txn-1"), domain.ErrTransactionNotFound)

	err = repo.Update(ctx, tx, &domain.Transaction{
		ID:     "txn-1",
		Kind:   domain.KindRevenue,
		Status: domain.StatusPending,
		Amount: decimal.RequireFromString("1"),
	})
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	require.NoError(t, tx.Rollback(ctx))
	assertExpectations(t, mockPool)
}

func TestTransactionRepository_StoreErrorsPassThrough(t *testing.T) {
	mockPool := newMockPool(t)
	dbErr := errors.New("connection reset")
	mockPool.ExpectQuery(`FROM transactions WHERE id = \$1`).
		WithArgs("txn-1").
		WillReturnError(dbErr)

	repo := NewTransactionRepository(mockPool)
	_, err := repo.GetByID(context.Background(), "txn-1")

	require.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestRepositoriesRejectForeignTx(t *testing.T) {
	mockPool := newMockPool(t)
	ctx := context.Background()

	err := NewCongregationRepository(mockPool).Create(ctx, nil, &domain.Congregation{ID: "c"})
	require.ErrorIs(t, err, errForeignTx)

	err = NewOutboxRepository(mockPool).Create(ctx, nil, &domain.OutboxEvent{ID: "e"})
	require.ErrorIs(t, err, errForeignTx)

	err = NewAuditRepository(mockPool).CreateTx(ctx, nil, &domain.AuditLog{})
	require.ErrorIs(t, err, errForeignTx)
}

func TestBuildAuditQuery(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildAuditQuery(domain.AuditFilter{
		Action:     string(domain.AuditActionTransactionApprove),
		ResourceID: "txn-1",
		StartDate:  &start,
		Limit:      50,
		Offset:     10,
	})

	assert.Contains(t, query, "action = $1")
	assert.Contains(t, query, "resource_id = $2")
	assert.Contains(t, query, "created_at >= $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Contains(t, query, "OFFSET $5")
	assert.True(t, strings.Index(query, "ORDER BY") < strings.Index(query, "LIMIT"))
	assert.Equal(t, []any{"transaction.approve", "txn-1", start, 50, 10}, args)

	query, args = buildAuditQuery(domain.AuditFilter{})
	assert.NotContains(t, query, "$1")
	assert.Empty(t, args)
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0.01", "1234.50", "-99.99", "999999999.99"} {
		d := decimal.RequireFromString(s)
		assert.True(t, numericToDecimal(decimalToNumeric(d)).Equal(d), s)
	}

	assert.False(t, optionalText("").Valid)
	assert.True(t, optionalText("cong-1").Valid)
	assert.Nil(t, pgTextToStringPtr(stringPtrToPgText(nil)))
}
