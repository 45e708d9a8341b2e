package usecase_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
	"github.com/iho/churchledger/internal/usecase"
	"github.com/iho/churchledger/internal/usecase/mocks"
)

const congregationID = "cong-1"

func newLedger(t *testing.T) (*usecase.LedgerUseCase, *mocks.MemoryStore) {
	t.Helper()

	store := mocks.NewMemoryStore()
	store.SeedCongregation(&domain.Congregation{
		ID:      congregationID,
		Name:    "Central",
		Balance: decimal.Zero,
		Active:  true,
	})

	uc := usecase.NewLedgerUseCase(
		store.TxManager(),
		store.Congregations(),
		store.Transactions(),
		store.Outbox(),
		store.Audit(),
		store.IDGenerator(),
		nil,
		nil,
	)
	return uc, store
}

func createInput(kind domain.Kind, amount string, status domain.Status) usecase.CreateTransactionInput {
	category := domain.CategoryTithe
	if kind != domain.KindRevenue {
		category = domain.CategoryRent
	}
	return usecase.CreateTransactionInput{
		CongregationID: congregationID,
		Kind:           kind,
		Category:       category,
		Description:    "test movement",
		PaymentMethod:  domain.PaymentPix,
		Status:         status,
		Amount:         decimal.RequireFromString(amount),
	}
}

func requireBalance(t *testing.T, store *mocks.MemoryStore, expected string) {
	t.Helper()
	want := decimal.RequireFromString(expected)
	got := store.Balance(congregationID)
	require.Truef(t, got.Equal(want), "expected balance %s, got %s", want, got)
	require.Truef(t, got.Equal(store.ConfirmedSum(congregationID)), "balance %s drifted from confirmed sum %s", got, store.ConfirmedSum(congregationID))
}

func TestLedgerUseCase_Scenarios(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	// A: confirmed revenue moves the balance on creation.
	revenue, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "100.00", domain.StatusConfirmed))
	require.NoError(t, err)
	require.True(t, revenue.Balance.Equal(decimal.RequireFromString("100.00")))
	require.NotNil(t, revenue.Transaction.ApprovedAt)
	requireBalance(t, store, "100.00")

	// B: pending expense leaves it alone.
	expense, err := uc.CreateTransaction(ctx, createInput(domain.KindExpense, "30.00", domain.StatusPending))
	require.NoError(t, err)
	require.True(t, expense.BalanceDelta.IsZero())
	requireBalance(t, store, "100.00")

	// C: approving the expense subtracts it.
	approved, err := uc.ApproveTransaction(ctx, expense.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, approved.Transaction.Status)
	assert.NotNil(t, approved.Transaction.ApprovedAt)
	assert.Equal(t, domain.SystemUserID, *approved.Transaction.ApproverID)
	requireBalance(t, store, "70.00")

	// D: cancelling the confirmed expense reverts it.
	cancelled := domain.StatusCancelled
	_, err = uc.UpdateTransaction(ctx, usecase.UpdateTransactionInput{ID: expense.Transaction.ID, Status: &cancelled})
	require.NoError(t, err)
	requireBalance(t, store, "100.00")

	// E: deleting the confirmed revenue removes its contribution.
	deleted, err := uc.DeleteTransaction(ctx, revenue.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, revenue.Transaction.ID, deleted.Transaction.ID)
	requireBalance(t, store, "0.00")

	_, ok := store.Transaction(revenue.Transaction.ID)
	assert.False(t, ok, "deleted transaction should be gone")
}

func TestLedgerUseCase_ApproveTwice(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "50.00", domain.StatusPending))
	require.NoError(t, err)

	_, err = uc.ApproveTransaction(ctx, created.Transaction.ID)
	require.NoError(t, err)
	requireBalance(t, store, "50.00")

	_, err = uc.ApproveTransaction(ctx, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyApproved)
	requireBalance(t, store, "50.00")
}

func TestLedgerUseCase_ConcurrentApprovals(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "10.00", domain.StatusPending))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.ApproveTransaction(ctx, created.Transaction.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAlreadyApproved):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)
	requireBalance(t, store, "10.00")
}

func TestLedgerUseCase_ConfirmedAmountEdit(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindExpense, "40.00", domain.StatusConfirmed))
	require.NoError(t, err)
	requireBalance(t, store, "-40.00")

	amount := decimal.RequireFromString("25.50")
	result, err := uc.UpdateTransaction(ctx, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Amount: &amount})
	require.NoError(t, err)
	assert.True(t, result.BalanceDelta.Equal(decimal.RequireFromString("14.50")))
	requireBalance(t, store, "-25.50")

	kind := domain.KindRevenue
	category := domain.CategoryOffering
	_, err = uc.UpdateTransaction(ctx, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Kind: &kind, Category: &category})
	require.NoError(t, err)
	requireBalance(t, store, "25.50")
}

func TestLedgerUseCase_UpdateUsesNewAmountOnConfirm(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "10.00", domain.StatusPending))
	require.NoError(t, err)

	amount := decimal.RequireFromString("12.00")
	confirmed := domain.StatusConfirmed
	result, err := uc.UpdateTransaction(ctx, usecase.UpdateTransactionInput{
		ID:     created.Transaction.ID,
		Amount: &amount,
		Status: &confirmed,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Transaction.ApprovedAt)
	requireBalance(t, store, "12.00")
}

func TestLedgerUseCase_LeavingConfirmedClearsApproval(t *testing.T) {
	treasurer := domain.ContextWithUser(context.Background(), &domain.User{ID: "t1", Role: domain.RoleTreasurer, CongregationID: congregationID})
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(treasurer, createInput(domain.KindRevenue, "30.00", domain.StatusConfirmed))
	require.NoError(t, err)
	require.NotNil(t, created.Transaction.ApproverID)

	for _, next := range []domain.Status{domain.StatusPending, domain.StatusConfirmed, domain.StatusCancelled} {
		status := next
		result, err := uc.UpdateTransaction(treasurer, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Status: &status})
		require.NoError(t, err, "moving to %s", next)

		stored, ok := store.Transaction(created.Transaction.ID)
		require.True(t, ok)
		if next == domain.StatusConfirmed {
			require.NotNil(t, stored.ApproverID)
			assert.Equal(t, "t1", *stored.ApproverID)
			assert.NotNil(t, stored.ApprovedAt)
			continue
		}
		assert.Nil(t, result.Transaction.ApproverID, "status %s", next)
		assert.Nil(t, stored.ApproverID, "status %s", next)
		assert.Nil(t, stored.ApprovedAt, "status %s", next)
	}

	requireBalance(t, store, "0")
}

func TestLedgerUseCase_IllegalTransition(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "10.00", domain.StatusPending))
	require.NoError(t, err)

	reversed := domain.StatusReversed
	_, err = uc.UpdateTransaction(ctx, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Status: &reversed})
	require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	var transitionErr *domain.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, domain.StatusPending, transitionErr.From)

	stored, ok := store.Transaction(created.Transaction.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, stored.Status)

	cancelled := domain.StatusCancelled
	_, err = uc.UpdateTransaction(ctx, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Status: &cancelled})
	require.NoError(t, err)

	_, err = uc.ApproveTransaction(ctx, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	requireBalance(t, store, "0")
}

func TestLedgerUseCase_Validation(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	tests := []struct {
		name   string
		mutate func(*usecase.CreateTransactionInput)
		err    error
	}{
		{"negative amount", func(in *usecase.CreateTransactionInput) { in.Amount = decimal.RequireFromString("-1") }, domain.ErrInvalidAmount},
		{"unknown kind", func(in *usecase.CreateTransactionInput) { in.Kind = "GIFT" }, domain.ErrInvalidKind},
		{"unknown category", func(in *usecase.CreateTransactionInput) { in.Category = "LOTTERY" }, domain.ErrInvalidCategory},
		{"created reversed", func(in *usecase.CreateTransactionInput) { in.Status = domain.StatusReversed }, domain.ErrInvalidStatus},
		{"missing congregation", func(in *usecase.CreateTransactionInput) { in.CongregationID = "nope" }, domain.ErrCongregationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := createInput(domain.KindRevenue, "10.00", domain.StatusConfirmed)
			tt.mutate(&input)

			_, err := uc.CreateTransaction(ctx, input)
			require.ErrorIs(t, err, tt.err)
		})
	}

	requireBalance(t, store, "0")
	assert.Empty(t, store.Events())
}

func TestLedgerUseCase_Atomicity(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "80.00", domain.StatusPending))
	require.NoError(t, err)
	eventsBefore := len(store.Events())

	storeDown := errors.New("connection reset by peer")
	store.FailOn(mocks.OpCongregationUpdate, storeDown)

	_, err = uc.ApproveTransaction(ctx, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.ErrorIs(t, err, storeDown)

	stored, ok := store.Transaction(created.Transaction.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, stored.Status, "transaction write must roll back with the balance write")
	assert.Nil(t, stored.ApprovedAt)
	assert.Len(t, store.Events(), eventsBefore)
	requireBalance(t, store, "0")

	store.FailOn(mocks.OpCongregationUpdate, nil)
	store.FailOn(mocks.OpAuditCreate, storeDown)

	_, err = uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "5.00", domain.StatusConfirmed))
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	requireBalance(t, store, "0")

	store.FailOn(mocks.OpAuditCreate, nil)
	store.FailOn(mocks.OpCommit, storeDown)

	_, err = uc.DeleteTransaction(ctx, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, ok = store.Transaction(created.Transaction.ID)
	assert.True(t, ok, "failed commit must keep the row")
}

func TestLedgerUseCase_LockOrder(t *testing.T) {
	ctx := context.Background()
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "1.00", domain.StatusPending))
	require.NoError(t, err)
	_, err = uc.ApproveTransaction(ctx, created.Transaction.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"congregation:" + congregationID,
		"transaction:" + created.Transaction.ID,
		"congregation:" + congregationID,
	}, store.Locks())
}

func TestLedgerUseCase_EventsAndAudit(t *testing.T) {
	ctx := domain.ContextWithRequestInfo(context.Background(), domain.RequestInfo{
		IPAddress: "10.1.1.1",
		UserAgent: "ledger-test",
		RequestID: "req-1",
	})
	uc, store := newLedger(t)

	created, err := uc.CreateTransaction(ctx, createInput(domain.KindRevenue, "20.00", domain.StatusConfirmed))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", created.Transaction.Metadata["ip_address"])

	_, err = uc.DeleteTransaction(ctx, created.Transaction.ID)
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeTransactionCreated, events[0].EventType)
	assert.Equal(t, "20", events[0].Payload["balance_delta"])
	assert.Equal(t, domain.EventTypeTransactionDeleted, events[1].EventType)
	assert.Equal(t, "-20", events[1].Payload["balance_delta"])

	logs := store.AuditLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, string(domain.AuditActionTransactionCreate), logs[0].Action)
	assert.Equal(t, "req-1", logs[0].RequestID)
	assert.Nil(t, logs[0].BeforeState)
	assert.NotNil(t, logs[1].BeforeState)
}

func TestLedgerUseCase_Roles(t *testing.T) {
	uc, store := newLedger(t)

	worker := domain.ContextWithUser(context.Background(), &domain.User{ID: "w1", Role: domain.RoleWorker, CongregationID: congregationID})
	treasurer := domain.ContextWithUser(context.Background(), &domain.User{ID: "t1", Role: domain.RoleTreasurer, CongregationID: congregationID})
	outsider := domain.ContextWithUser(context.Background(), &domain.User{ID: "t2", Role: domain.RoleTreasurer, CongregationID: "cong-2"})

	_, err := uc.CreateTransaction(worker, createInput(domain.KindRevenue, "10.00", domain.StatusConfirmed))
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	created, err := uc.CreateTransaction(worker, createInput(domain.KindRevenue, "10.00", domain.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, "w1", created.Transaction.ResponsibleID)

	_, err = uc.ApproveTransaction(worker, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	_, err = uc.ApproveTransaction(outsider, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrForbiddenScope)

	notes := "counted twice"
	_, err = uc.UpdateTransaction(worker, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Notes: &notes})
	require.NoError(t, err, "responsible user may edit")

	approved, err := uc.ApproveTransaction(treasurer, created.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", *approved.Transaction.ApproverID)

	// Once confirmed, the responsible worker can no longer move the balance.
	raised := decimal.RequireFromString("99999.00")
	_, err = uc.UpdateTransaction(worker, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Amount: &raised})
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	expense := domain.KindExpense
	rent := domain.CategoryRent
	_, err = uc.UpdateTransaction(worker, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Kind: &expense, Category: &rent})
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	pending := domain.StatusPending
	_, err = uc.UpdateTransaction(worker, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Status: &pending})
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	recount := "recounted"
	_, err = uc.UpdateTransaction(worker, usecase.UpdateTransactionInput{ID: created.Transaction.ID, Notes: &recount})
	require.NoError(t, err, "edits that keep the balance stay open to the responsible user")

	_, err = uc.DeleteTransaction(treasurer, created.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	requireBalance(t, store, "10.00")
}

// TestLedgerUseCase_RandomSequences checks that the recorded balance matches
// the confirmed sum after every operation of random operation sequences.
func TestLedgerUseCase_RandomSequences(t *testing.T) {
	ctx := context.Background()
	statuses := []domain.Status{domain.StatusPending, domain.StatusConfirmed, domain.StatusCancelled, domain.StatusReversed}
	kinds := []domain.Kind{domain.KindRevenue, domain.KindExpense, domain.KindTransfer}

	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		uc, store := newLedger(t)
		var ids []string

		for step := 0; step < 60; step++ {
			amount := decimal.New(rng.Int63n(100000), -2).String()

			switch op := rng.Intn(4); {
			case op == 0 || len(ids) == 0:
				status := domain.StatusPending
				if rng.Intn(2) == 0 {
					status = domain.StatusConfirmed
				}
				res, err := uc.CreateTransaction(ctx, createInput(kinds[rng.Intn(len(kinds))], amount, status))
				require.NoError(t, err)
				ids = append(ids, res.Transaction.ID)
			case op == 1:
				status := statuses[rng.Intn(len(statuses))]
				newAmount := decimal.RequireFromString(amount)
				input := usecase.UpdateTransactionInput{ID: ids[rng.Intn(len(ids))], Status: &status}
				if rng.Intn(2) == 0 {
					input.Amount = &newAmount
				}
				_, err := uc.UpdateTransaction(ctx, input)
				if err != nil {
					require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
				}
			case op == 2:
				_, err := uc.ApproveTransaction(ctx, ids[rng.Intn(len(ids))])
				if err != nil && !errors.Is(err, domain.ErrAlreadyApproved) {
					require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
				}
			default:
				i := rng.Intn(len(ids))
				_, err := uc.DeleteTransaction(ctx, ids[i])
				require.NoError(t, err)
				ids = append(ids[:i], ids[i+1:]...)
			}

			require.Truef(t, store.Balance(congregationID).Equal(store.ConfirmedSum(congregationID)),
				"seed %d step %d: balance %s != confirmed sum %s", seed, step, store.Balance(congregationID), store.ConfirmedSum(congregationID))
		}
	}
}

func TestLedgerUseCase_BeginFailureWithGomock(t *testing.T) {
	ctrl := gomock.NewController(t)

	txManager := mocks.NewMockTxManager(ctrl)
	congregations := mocks.NewMockCongregationRepository(ctrl)
	transactions := mocks.NewMockTransactionRepository(ctrl)
	idGen := mocks.NewMockIDGenerator(ctrl)

	idGen.EXPECT().Generate().Return("tx-1")
	txManager.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("dial tcp: connection refused"))

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(registry)

	uc := usecase.NewLedgerUseCase(txManager, congregations, transactions, nil, nil, idGen, nil, m)
	_, err := uc.CreateTransaction(context.Background(), createInput(domain.KindRevenue, "1.00", domain.StatusPending))

	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransactionErrors.WithLabelValues(usecase.OperationCreate, "store_unavailable")))
}

func TestLedgerUseCase_NoBalanceWriteWhenDeltaIsZero(t *testing.T) {
	ctrl := gomock.NewController(t)

	txManager := mocks.NewMockTxManager(ctrl)
	dbTx := mocks.NewMockDBTx(ctrl)
	congregations := mocks.NewMockCongregationRepository(ctrl)
	transactions := mocks.NewMockTransactionRepository(ctrl)
	cache := mocks.NewMockBalanceCache(ctrl)

	existing := &domain.Transaction{
		ID:             "tx-1",
		CongregationID: congregationID,
		Kind:           domain.KindExpense,
		Category:       domain.CategoryRent,
		PaymentMethod:  domain.PaymentCash,
		Status:         domain.StatusPending,
		Description:    "rent",
		Amount:         decimal.RequireFromString("300.00"),
	}

	gomock.InOrder(
		txManager.EXPECT().Begin(gomock.Any()).Return(dbTx, nil),
		transactions.EXPECT().GetByIDForUpdate(gomock.Any(), dbTx, "tx-1").Return(existing, nil),
		congregations.EXPECT().GetByIDForUpdate(gomock.Any(), dbTx, congregationID).
			Return(&domain.Congregation{ID: congregationID, Balance: decimal.RequireFromString("5"), Version: 9, Active: true}, nil),
		transactions.EXPECT().Update(gomock.Any(), dbTx, gomock.Any()).Return(nil),
		dbTx.EXPECT().Commit(gomock.Any()).Return(nil),
	)
	dbTx.EXPECT().Rollback(gomock.Any()).Return(nil)
	congregations.EXPECT().UpdateBalance(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	cache.EXPECT().Set(gomock.Any(), congregationID, decimal.RequireFromString("5"), int64(9)).Return(nil)

	uc := usecase.NewLedgerUseCase(txManager, congregations, transactions, nil, nil, nil, cache, nil)

	amount := decimal.RequireFromString("310.00")
	result, err := uc.UpdateTransaction(context.Background(), usecase.UpdateTransactionInput{ID: "tx-1", Amount: &amount})
	require.NoError(t, err)
	assert.True(t, result.BalanceDelta.IsZero())
	assert.True(t, result.Balance.Equal(decimal.RequireFromString("5")))
	assert.True(t, result.Transaction.Amount.Equal(amount))
}
