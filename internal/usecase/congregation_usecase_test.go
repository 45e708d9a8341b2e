package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	rediscache "github.com/iho/churchledger/internal/adapter/repository/redis"
	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
	"github.com/iho/churchledger/internal/usecase/mocks"
)

func TestCongregationUseCase_CreateCongregation(t *testing.T) {
	tests := []struct {
		name        string
		ctx         context.Context
		input       usecase.CreateCongregationInput
		expectError error
	}{
		{
			name:  "successful creation",
			ctx:   context.Background(),
			input: usecase.CreateCongregationInput{Name: "  Igreja Central  "},
		},
		{
			name:        "empty name",
			ctx:         context.Background(),
			input:       usecase.CreateCongregationInput{Name: " "},
			expectError: domain.ErrInvalidCongregationName,
		},
		{
			name:        "scoped role cannot create",
			ctx:         domain.ContextWithUser(context.Background(), &domain.User{ID: "p1", Role: domain.RolePastor}),
			input:       usecase.CreateCongregationInput{Name: "Filial"},
			expectError: domain.ErrInsufficientRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewMemoryStore()
			uc := usecase.NewCongregationUseCase(store.TxManager(), store.Congregations(), store.Outbox(), store.Audit(), store.IDGenerator(), nil, nil)

			congregation, err := uc.CreateCongregation(tt.ctx, tt.input)
			if tt.expectError != nil {
				require.ErrorIs(t, err, tt.expectError)
				assert.Empty(t, store.Events())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "Igreja Central", congregation.Name)
			assert.True(t, congregation.Balance.IsZero())
			assert.True(t, congregation.Active)

			events := store.Events()
			require.Len(t, events, 1)
			assert.Equal(t, domain.EventTypeCongregationCreated, events[0].EventType)
			require.Len(t, store.AuditLogs(), 1)
		})
	}
}

func TestCongregationUseCase_ListScopedToOwnCongregation(t *testing.T) {
	store := mocks.NewMemoryStore()
	store.SeedCongregation(&domain.Congregation{ID: "cong-1", Name: "One", Active: true})
	store.SeedCongregation(&domain.Congregation{ID: "cong-2", Name: "Two", Active: true})
	uc := usecase.NewCongregationUseCase(store.TxManager(), store.Congregations(), nil, nil, store.IDGenerator(), nil, nil)

	all, err := uc.ListCongregations(context.Background(), usecase.ListCongregationsInput{})
	require.NoError(t, err)
	assert.Len(t, all.Congregations, 2)
	assert.EqualValues(t, 2, all.Total)
	assert.Equal(t, 20, all.Limit)

	ctx := domain.ContextWithUser(context.Background(), &domain.User{ID: "t1", Role: domain.RoleTreasurer, CongregationID: "cong-2"})
	scoped, err := uc.ListCongregations(ctx, usecase.ListCongregationsInput{})
	require.NoError(t, err)
	require.Len(t, scoped.Congregations, 1)
	assert.Equal(t, "cong-2", scoped.Congregations[0].ID)

	_, err = uc.GetCongregation(ctx, "cong-1")
	require.ErrorIs(t, err, domain.ErrForbiddenScope)
}

func TestCongregationUseCase_GetBalanceUsesCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockBalanceCache(ctrl)
	repo := mocks.NewMockCongregationRepository(ctrl)

	uc := usecase.NewCongregationUseCase(nil, repo, nil, nil, nil, cache, nil)
	ctx := context.Background()

	// Miss: read through and populate.
	cache.EXPECT().Get(ctx, "cong-1").Return(decimal.Zero, false, nil)
	repo.EXPECT().GetByID(ctx, "cong-1").Return(&domain.Congregation{ID: "cong-1", Balance: decimal.RequireFromString("42.10"), Version: 4}, nil)
	cache.EXPECT().Set(ctx, "cong-1", gomock.Any(), int64(4)).Return(nil)

	balance, err := uc.GetBalance(ctx, "cong-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("42.10")))

	// Hit: no repository call.
	cache.EXPECT().Get(ctx, "cong-1").Return(decimal.RequireFromString("42.10"), true, nil)

	balance, err = uc.GetBalance(ctx, "cong-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("42.10")))

	// Cache errors fall back to the repository.
	cache.EXPECT().Get(ctx, "cong-1").Return(decimal.Zero, false, errors.New("redis down"))
	repo.EXPECT().GetByID(ctx, "cong-1").Return(&domain.Congregation{ID: "cong-1", Balance: decimal.RequireFromString("1")}, nil)
	cache.EXPECT().Set(ctx, "cong-1", gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	balance, err = uc.GetBalance(ctx, "cong-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1")))
}

// racingCongregations runs afterRead once, between a reader loading the row
// and the reader filling the cache.
type racingCongregations struct {
	usecase.CongregationRepository
	afterRead func()
}

func (r *racingCongregations) GetByID(ctx context.Context, id string) (*domain.Congregation, error) {
	c, err := r.CongregationRepository.GetByID(ctx, id)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return c, err
}

func TestCongregationUseCase_GetBalanceFillLosesToConcurrentWrite(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := rediscache.NewBalanceCache(client, time.Minute)

	store := mocks.NewMemoryStore()
	store.SeedCongregation(&domain.Congregation{ID: congregationID, Name: "Central", Balance: decimal.Zero, Active: true})

	ledger := usecase.NewLedgerUseCase(
		store.TxManager(), store.Congregations(), store.Transactions(), store.Outbox(), store.Audit(), store.IDGenerator(), cache, nil,
	)
	congregations := &racingCongregations{CongregationRepository: store.Congregations()}
	uc := usecase.NewCongregationUseCase(store.TxManager(), congregations, nil, nil, store.IDGenerator(), cache, nil)

	// A confirmed +100 commits after the reader loaded the zero balance but
	// before the reader fills the cache.
	congregations.afterRead = func() {
		_, err := ledger.CreateTransaction(ctx, createInput(domain.KindRevenue, "100.00", domain.StatusConfirmed))
		require.NoError(t, err)
	}

	first, err := uc.GetBalance(ctx, congregationID)
	require.NoError(t, err)
	assert.True(t, first.IsZero(), "the reader returns what it read")

	second, err := uc.GetBalance(ctx, congregationID)
	require.NoError(t, err)
	assert.Truef(t, second.Equal(decimal.NewFromInt(100)), "stale balance %s served from cache", second)
	assert.True(t, second.Equal(store.Balance(congregationID)))
}

func TestCongregationUseCase_UpdateCongregation(t *testing.T) {
	ledger, store := newLedger(t)
	uc := usecase.NewCongregationUseCase(store.TxManager(), store.Congregations(), store.Outbox(), store.Audit(), store.IDGenerator(), nil, nil)

	director := domain.ContextWithUser(context.Background(), &domain.User{ID: "d1", Role: domain.RoleDirector})
	treasurer := domain.ContextWithUser(context.Background(), &domain.User{ID: "t1", Role: domain.RoleTreasurer, CongregationID: congregationID})

	_, err := ledger.CreateTransaction(director, createInput(domain.KindRevenue, "50.00", domain.StatusConfirmed))
	require.NoError(t, err)

	name := "  Igreja Norte  "
	updated, err := uc.UpdateCongregation(director, usecase.UpdateCongregationInput{ID: congregationID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Igreja Norte", updated.Name)
	assert.True(t, updated.Active)
	assert.True(t, updated.Balance.Equal(decimal.RequireFromString("50")))

	events := store.Events()
	assert.Equal(t, domain.EventTypeCongregationUpdated, events[len(events)-1].EventType)
	logs := store.AuditLogs()
	assert.Equal(t, string(domain.AuditActionCongregationUpdate), logs[len(logs)-1].Action)

	_, err = uc.UpdateCongregation(treasurer, usecase.UpdateCongregationInput{ID: congregationID, Name: &name})
	require.ErrorIs(t, err, domain.ErrInsufficientRole)

	blank := " "
	_, err = uc.UpdateCongregation(director, usecase.UpdateCongregationInput{ID: congregationID, Name: &blank})
	require.ErrorIs(t, err, domain.ErrInvalidCongregationName)

	_, err = uc.UpdateCongregation(director, usecase.UpdateCongregationInput{ID: "missing", Name: &name})
	require.ErrorIs(t, err, domain.ErrCongregationNotFound)

	inactive := false
	updated, err = uc.UpdateCongregation(director, usecase.UpdateCongregationInput{ID: congregationID, Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, "Igreja Norte", updated.Name)

	_, err = ledger.CreateTransaction(director, createInput(domain.KindRevenue, "1.00", domain.StatusPending))
	require.ErrorIs(t, err, domain.ErrCongregationInactive)
	assert.True(t, store.Balance(congregationID).Equal(decimal.RequireFromString("50")))
}

func TestCongregationUseCase_DeleteCongregation(t *testing.T) {
	ledger, store := newLedger(t)
	store.SeedCongregation(&domain.Congregation{ID: "cong-empty", Name: "Empty", Active: true})
	store.SeedCongregation(&domain.Congregation{ID: "cong-drifted", Name: "Drifted", Balance: decimal.RequireFromString("10"), Active: true})
	uc := usecase.NewCongregationUseCase(store.TxManager(), store.Congregations(), store.Outbox(), store.Audit(), store.IDGenerator(), nil, nil)

	director := domain.ContextWithUser(context.Background(), &domain.User{ID: "d1", Role: domain.RoleDirector})
	treasurer := domain.ContextWithUser(context.Background(), &domain.User{ID: "t1", Role: domain.RoleTreasurer, CongregationID: "cong-empty"})

	_, err := ledger.CreateTransaction(director, createInput(domain.KindRevenue, "5.00", domain.StatusPending))
	require.NoError(t, err)

	// A pending transaction leaves the balance at zero but still blocks the delete.
	require.ErrorIs(t, uc.DeleteCongregation(director, congregationID), domain.ErrCongregationNotEmpty)
	require.ErrorIs(t, uc.DeleteCongregation(director, "cong-drifted"), domain.ErrCongregationNotEmpty)
	require.ErrorIs(t, uc.DeleteCongregation(treasurer, "cong-empty"), domain.ErrInsufficientRole)
	require.ErrorIs(t, uc.DeleteCongregation(director, "missing"), domain.ErrCongregationNotFound)

	before := len(store.Events())
	require.NoError(t, uc.DeleteCongregation(director, "cong-empty"))

	_, err = uc.GetCongregation(director, "cong-empty")
	require.ErrorIs(t, err, domain.ErrCongregationNotFound)
	_, err = uc.GetCongregation(director, congregationID)
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, before+1)
	assert.Equal(t, domain.EventTypeCongregationDeleted, events[before].EventType)
	logs := store.AuditLogs()
	assert.Equal(t, string(domain.AuditActionCongregationDelete), logs[len(logs)-1].Action)
	assert.Equal(t, "cong-empty", logs[len(logs)-1].ResourceID)
}

func TestCongregationUseCase_DeleteInvalidatesCachedBalance(t *testing.T) {
	ctrl := gomock.NewController(t)
	txManager := mocks.NewMockTxManager(ctrl)
	repo := mocks.NewMockCongregationRepository(ctrl)
	tx := mocks.NewMockDBTx(ctrl)
	cache := mocks.NewMockBalanceCache(ctrl)

	uc := usecase.NewCongregationUseCase(txManager, repo, nil, nil, nil, cache, nil)

	gomock.InOrder(
		txManager.EXPECT().Begin(gomock.Any()).Return(tx, nil),
		repo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, "cong-1").Return(&domain.Congregation{ID: "cong-1", Balance: decimal.Zero}, nil),
		repo.EXPECT().Delete(gomock.Any(), tx, "cong-1").Return(nil),
		tx.EXPECT().Commit(gomock.Any()).Return(nil),
		cache.EXPECT().Invalidate(gomock.Any(), "cong-1").Return(nil),
	)
	tx.EXPECT().Rollback(gomock.Any()).Return(nil)

	require.NoError(t, uc.DeleteCongregation(context.Background(), "cong-1"))
}
