package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
)

// CongregationUseCase handles congregation business logic.
type CongregationUseCase struct {
	txManager        TxManager
	congregationRepo CongregationRepository
	outboxRepo       OutboxRepository
	auditRepo        AuditRepository
	idGen            IDGenerator
	cache            BalanceCache
	metrics          *metrics.Metrics
}

// NewCongregationUseCase creates a new CongregationUseCase.
func NewCongregationUseCase(
	txManager TxManager,
	congregationRepo CongregationRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	cache BalanceCache,
	metrics *metrics.Metrics,
) *CongregationUseCase {
	return &CongregationUseCase{
		txManager:        txManager,
		congregationRepo: congregationRepo,
		outboxRepo:       outboxRepo,
		auditRepo:        auditRepo,
		idGen:            idGen,
		cache:            cache,
		metrics:          metrics,
	}
}

// CreateCongregationInput represents input for creating a congregation.
type CreateCongregationInput struct {
	Name string
}

// CreateCongregation creates a new congregation with a zero balance.
func (uc *CongregationUseCase) CreateCongregation(ctx context.Context, input CreateCongregationInput) (*domain.Congregation, error) {
	if user, ok := domain.UserFromContext(ctx); ok && !user.Role.CanViewAllCongregations() {
		return nil, domain.ErrInsufficientRole
	}

	name := strings.TrimSpace(input.Name)
	if err := domain.ValidateCongregationName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	congregation := &domain.Congregation{
		ID:        uc.idGen.Generate(),
		Name:      name,
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, storeError(err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := uc.congregationRepo.Create(txCtx, tx, congregation); err != nil {
		return nil, storeError(err)
	}

	if uc.outboxRepo != nil {
		event := &domain.OutboxEvent{
			ID:            uc.idGen.Generate(),
			AggregateID:   congregation.ID,
			AggregateType: domain.AggregateTypeCongregation,
			EventType:     domain.EventTypeCongregationCreated,
			Payload: map[string]any{
				"congregation_id": congregation.ID,
				"name":            congregation.Name,
			},
			CreatedAt: now,
		}
		if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
			return nil, storeError(err)
		}
	}

	if uc.auditRepo != nil {
		info := domain.RequestInfoFromContext(ctx)
		auditLog := &domain.AuditLog{
			UserID:       domain.ActorID(ctx),
			Action:       string(domain.AuditActionCongregationCreate),
			ResourceType: domain.ResourceCongregation,
			ResourceID:   congregation.ID,
			IPAddress:    info.IPAddress,
			UserAgent:    info.UserAgent,
			RequestID:    info.RequestID,
			AfterState:   domain.MarshalState(congregation),
			Status:       string(domain.AuditStatusSuccess),
			CreatedAt:    now,
		}
		if err := uc.auditRepo.CreateTx(txCtx, tx, auditLog); err != nil {
			return nil, storeError(err)
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, storeError(err)
	}

	if uc.metrics != nil {
		uc.metrics.CongregationsCreated.Inc()
	}

	return congregation, nil
}

// GetCongregation retrieves a congregation by ID.
func (uc *CongregationUseCase) GetCongregation(ctx context.Context, id string) (*domain.Congregation, error) {
	if !domain.CanAccessCongregation(ctx, id) {
		return nil, domain.ErrForbiddenScope
	}

	congregation, err := uc.congregationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	return congregation, nil
}

// ListCongregationsInput represents input for listing congregations.
type ListCongregationsInput struct {
	Limit  int
	Offset int
}

// ListCongregationsResult is a page of congregations.
type ListCongregationsResult struct {
	Congregations []*domain.Congregation
	Total         int64
	Limit         int
	Offset        int
}

// ListCongregations lists congregations. Users scoped to one congregation only
// see their own.
func (uc *CongregationUseCase) ListCongregations(ctx context.Context, input ListCongregationsInput) (*ListCongregationsResult, error) {
	limit, offset := domain.ValidatePagination(input.Limit, input.Offset)

	if user, ok := domain.UserFromContext(ctx); ok && !user.Role.CanViewAllCongregations() {
		congregation, err := uc.congregationRepo.GetByID(ctx, user.CongregationID)
		if err != nil {
			return nil, storeError(err)
		}
		return &ListCongregationsResult{
			Congregations: []*domain.Congregation{congregation},
			Total:         1,
			Limit:         limit,
			Offset:        offset,
		}, nil
	}

	congregations, err := uc.congregationRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}

	total, err := uc.congregationRepo.Count(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	return &ListCongregationsResult{
		Congregations: congregations,
		Total:         total,
		Limit:         limit,
		Offset:        offset,
	}, nil
}

// UpdateCongregationInput carries the congregation fields that may change.
// Nil fields are left as they are.
type UpdateCongregationInput struct {
	ID     string
	Name   *string
	Active *bool
}

// UpdateCongregation renames a congregation or toggles whether it accepts new
// transactions. The balance is never touched here.
func (uc *CongregationUseCase) UpdateCongregation(ctx context.Context, input UpdateCongregationInput) (*domain.Congregation, error) {
	if user, ok := domain.UserFromContext(ctx); ok && !user.Role.CanViewAllCongregations() {
		return nil, domain.ErrInsufficientRole
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, storeError(err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, input.ID)
	if err != nil {
		return nil, storeError(err)
	}
	before := domain.MarshalState(congregation)

	if input.Name != nil {
		if err := congregation.Rename(*input.Name); err != nil {
			return nil, err
		}
	}
	if input.Active != nil {
		congregation.Active = *input.Active
	}

	now := time.Now().UTC()
	congregation.UpdatedAt = now

	if err := uc.congregationRepo.Update(txCtx, tx, congregation); err != nil {
		return nil, storeError(err)
	}

	if uc.outboxRepo != nil {
		event := &domain.OutboxEvent{
			ID:            uc.idGen.Generate(),
			AggregateID:   congregation.ID,
			AggregateType: domain.AggregateTypeCongregation,
			EventType:     domain.EventTypeCongregationUpdated,
			Payload: map[string]any{
				"congregation_id": congregation.ID,
				"name":            congregation.Name,
				"active":          congregation.Active,
			},
			CreatedAt: now,
		}
		if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
			return nil, storeError(err)
		}
	}

	if err := uc.audit(txCtx, tx, domain.AuditActionCongregationUpdate, congregation.ID, before, domain.MarshalState(congregation), now); err != nil {
		return nil, storeError(err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, storeError(err)
	}

	return congregation, nil
}

// DeleteCongregation removes a congregation that has no transactions and a
// zero balance.
func (uc *CongregationUseCase) DeleteCongregation(ctx context.Context, id string) error {
	if user, ok := domain.UserFromContext(ctx); ok && (!user.Role.CanViewAllCongregations() || !user.Role.CanDelete()) {
		return domain.ErrInsufficientRole
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return storeError(err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// The row lock makes ledger writes for this congregation wait, so none
	// can slip in between the checks and the delete.
	congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, id)
	if err != nil {
		return storeError(err)
	}
	if !congregation.Balance.IsZero() {
		return domain.ErrCongregationNotEmpty
	}

	if err := uc.congregationRepo.Delete(txCtx, tx, id); err != nil {
		return storeError(err)
	}

	now := time.Now().UTC()
	if uc.outboxRepo != nil {
		event := &domain.OutboxEvent{
			ID:            uc.idGen.Generate(),
			AggregateID:   id,
			AggregateType: domain.AggregateTypeCongregation,
			EventType:     domain.EventTypeCongregationDeleted,
			Payload:       map[string]any{"congregation_id": id},
			CreatedAt:     now,
		}
		if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
			return storeError(err)
		}
	}

	if err := uc.audit(txCtx, tx, domain.AuditActionCongregationDelete, id, domain.MarshalState(congregation), nil, now); err != nil {
		return storeError(err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return storeError(err)
	}

	if uc.cache != nil {
		if err := uc.cache.Invalidate(context.WithoutCancel(ctx), id); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("congregation_id", id).Msg("failed to invalidate balance cache")
		}
	}

	return nil
}

// audit writes an audit row for a congregation inside tx.
func (uc *CongregationUseCase) audit(ctx context.Context, tx DBTx, action domain.AuditAction, id string, before, after domain.JSON, at time.Time) error {
	if uc.auditRepo == nil {
		return nil
	}
	info := domain.RequestInfoFromContext(ctx)
	return uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		UserID:       domain.ActorID(ctx),
		Action:       string(action),
		ResourceType: domain.ResourceCongregation,
		ResourceID:   id,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		RequestID:    info.RequestID,
		BeforeState:  before,
		AfterState:   after,
		Status:       string(domain.AuditStatusSuccess),
		CreatedAt:    at,
	})
}

// GetBalance returns the cached balance of a congregation, falling back to
// the database on a cache miss.
func (uc *CongregationUseCase) GetBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	if !domain.CanAccessCongregation(ctx, id) {
		return decimal.Zero, domain.ErrForbiddenScope
	}

	if uc.cache != nil {
		balance, ok, err := uc.cache.Get(ctx, id)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("congregation_id", id).Msg("balance cache read failed")
		} else if ok {
			uc.countCache(true)
			return balance, nil
		}
		uc.countCache(false)
	}

	congregation, err := uc.congregationRepo.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, storeError(err)
	}

	// The fill carries the version it read, so it loses to any ledger write
	// that committed in the meantime.
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, id, congregation.Balance, congregation.Version); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("congregation_id", id).Msg("balance cache write failed")
		}
	}

	return congregation.Balance, nil
}

func (uc *CongregationUseCase) countCache(hit bool) {
	if uc.metrics == nil {
		return
	}
	if hit {
		uc.metrics.CacheHits.WithLabelValues("balance").Inc()
		return
	}
	uc.metrics.CacheMisses.WithLabelValues("balance").Inc()
}

// writeThrough stores a committed balance. A failed write drops the entry so
// readers fall back to the store instead of an older cached balance.
func writeThrough(ctx context.Context, cache BalanceCache, congregationID string, balance decimal.Decimal, version int64) {
	ctx = context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx).With().Str("congregation_id", congregationID).Logger()

	err := cache.Set(ctx, congregationID, balance, version)
	if err == nil {
		return
	}
	log.Warn().Err(err).Int64("version", version).Msg("balance cache write failed")

	if err := cache.Invalidate(ctx, congregationID); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate balance cache")
	}
}
