package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
)

// LedgerUseCase keeps every congregation balance equal to the signed sum of
// its CONFIRMED transactions. Each mutation and its balance adjustment commit
// in one database transaction.
type LedgerUseCase struct {
	txManager        TxManager
	congregationRepo CongregationRepository
	transactionRepo  TransactionRepository
	outboxRepo       OutboxRepository
	auditRepo        AuditRepository
	idGen            IDGenerator
	cache            BalanceCache
	metrics          *metrics.Metrics
	now              func() time.Time
}

// NewLedgerUseCase creates a new LedgerUseCase. outboxRepo, auditRepo, cache
// and metrics may be nil.
func NewLedgerUseCase(
	txManager TxManager,
	congregationRepo CongregationRepository,
	transactionRepo TransactionRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	cache BalanceCache,
	metrics *metrics.Metrics,
) *LedgerUseCase {
	return &LedgerUseCase{
		txManager:        txManager,
		congregationRepo: congregationRepo,
		transactionRepo:  transactionRepo,
		outboxRepo:       outboxRepo,
		auditRepo:        auditRepo,
		idGen:            idGen,
		cache:            cache,
		metrics:          metrics,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// LedgerResult is the outcome of a ledger mutation. Version is the
// congregation version the committed Balance belongs to.
type LedgerResult struct {
	Transaction  *domain.Transaction
	BalanceDelta decimal.Decimal
	Balance      decimal.Decimal
	Version      int64
}

// CreateTransactionInput represents input for recording a transaction.
type CreateTransactionInput struct {
	OccurredAt     *time.Time
	Metadata       map[string]any
	DonorID        *string
	CongregationID string
	ResponsibleID  string
	Kind           domain.Kind
	Category       domain.Category
	Subcategory    string
	Description    string
	PaymentMethod  domain.PaymentMethod
	Status         domain.Status
	Notes          string
	Amount         decimal.Decimal
}

// UpdateTransactionInput is a partial update. Nil fields keep their value.
type UpdateTransactionInput struct {
	OccurredAt    *time.Time
	Kind          *domain.Kind
	Category      *domain.Category
	Subcategory   *string
	Description   *string
	PaymentMethod *domain.PaymentMethod
	Status        *domain.Status
	Notes         *string
	DonorID       *string
	Amount        *decimal.Decimal
	ID            string
}

// CreateTransaction records a transaction. A transaction created CONFIRMED
// moves the congregation balance immediately.
func (uc *LedgerUseCase) CreateTransaction(ctx context.Context, input CreateTransactionInput) (*LedgerResult, error) {
	status := input.Status
	if status == "" {
		status = domain.StatusPending
	}
	if status != domain.StatusPending && status != domain.StatusConfirmed {
		return nil, uc.fail(OperationCreate, domain.ErrInvalidStatus)
	}

	if !domain.CanAccessCongregation(ctx, input.CongregationID) {
		return nil, uc.fail(OperationCreate, domain.ErrForbiddenScope)
	}
	if status == domain.StatusConfirmed {
		if err := requireApprover(ctx); err != nil {
			return nil, uc.fail(OperationCreate, err)
		}
	}

	now := uc.now()
	occurredAt := now
	if input.OccurredAt != nil {
		occurredAt = input.OccurredAt.UTC()
	}

	responsibleID := input.ResponsibleID
	if responsibleID == "" {
		responsibleID = domain.ActorID(ctx)
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = domain.RequestInfoFromContext(ctx).Metadata()
	}
	if err := domain.ValidateMetadata(metadata); err != nil {
		return nil, uc.fail(OperationCreate, err)
	}

	txn := &domain.Transaction{
		ID:             uc.idGen.Generate(),
		CongregationID: input.CongregationID,
		ResponsibleID:  responsibleID,
		DonorID:        input.DonorID,
		Kind:           input.Kind,
		Category:       input.Category,
		Subcategory:    input.Subcategory,
		Description:    input.Description,
		PaymentMethod:  input.PaymentMethod,
		Status:         domain.StatusPending,
		Notes:          input.Notes,
		Amount:         input.Amount,
		Metadata:       metadata,
		OccurredAt:     occurredAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == domain.StatusConfirmed {
		txn.MarkApproved(domain.ActorID(ctx), now)
	}

	if err := txn.Validate(); err != nil {
		return nil, uc.fail(OperationCreate, err)
	}

	result := &LedgerResult{Transaction: txn}
	err := uc.inTx(ctx, OperationCreate, func(txCtx context.Context, tx DBTx) error {
		congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, txn.CongregationID)
		if err != nil {
			return err
		}
		if !congregation.Active {
			return domain.ErrCongregationInactive
		}

		if err := uc.transactionRepo.Create(txCtx, tx, txn); err != nil {
			return err
		}

		if err := uc.adjustBalance(txCtx, tx, congregation, nil, txn, now, result); err != nil {
			return err
		}

		return uc.record(txCtx, tx, domain.AuditActionTransactionCreate, domain.EventTypeTransactionCreated, nil, txn, result, now)
	})
	if err != nil {
		return nil, err
	}

	uc.observeAmount(txn)
	uc.refreshCache(ctx, txn.CongregationID, result)

	return result, nil
}

// UpdateTransaction applies a partial update and moves the balance by the
// difference between the old and new confirmed contributions.
func (uc *LedgerUseCase) UpdateTransaction(ctx context.Context, input UpdateTransactionInput) (*LedgerResult, error) {
	if input.Amount != nil {
		if err := domain.ValidateAmount(*input.Amount); err != nil {
			return nil, uc.fail(OperationUpdate, err)
		}
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, uc.fail(OperationUpdate, domain.ErrInvalidStatus)
	}

	now := uc.now()
	result := &LedgerResult{}

	err := uc.inTx(ctx, OperationUpdate, func(txCtx context.Context, tx DBTx) error {
		existing, err := uc.transactionRepo.GetByIDForUpdate(txCtx, tx, input.ID)
		if err != nil {
			return err
		}
		if err := authorizeEdit(ctx, existing); err != nil {
			return err
		}

		proposed := existing.Clone()
		applyUpdate(proposed, input)
		proposed.UpdatedAt = now

		if err := domain.ValidateTransition(existing.Status, proposed.Status); err != nil {
			return err
		}
		if movesConfirmedBalance(existing, proposed) {
			if err := requireApprover(ctx); err != nil {
				return err
			}
		}
		switch {
		case !existing.IsConfirmed() && proposed.IsConfirmed():
			proposed.MarkApproved(domain.ActorID(ctx), now)
		case existing.IsConfirmed() && !proposed.IsConfirmed():
			proposed.ClearApproval()
		}
		if err := proposed.Validate(); err != nil {
			return err
		}

		congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, existing.CongregationID)
		if err != nil {
			return err
		}

		if err := uc.transactionRepo.Update(txCtx, tx, proposed); err != nil {
			return err
		}

		if err := uc.adjustBalance(txCtx, tx, congregation, existing, proposed, now, result); err != nil {
			return err
		}

		result.Transaction = proposed
		return uc.record(txCtx, tx, domain.AuditActionTransactionUpdate, domain.EventTypeTransactionUpdated, existing, proposed, result, now)
	})
	if err != nil {
		return nil, err
	}

	uc.refreshCache(ctx, result.Transaction.CongregationID, result)

	return result, nil
}

// ApproveTransaction confirms a transaction and applies its signed amount.
// Approving a CONFIRMED transaction fails with domain.ErrAlreadyApproved.
func (uc *LedgerUseCase) ApproveTransaction(ctx context.Context, id string) (*LedgerResult, error) {
	if err := requireApprover(ctx); err != nil {
		return nil, uc.fail(OperationApprove, err)
	}

	now := uc.now()
	result := &LedgerResult{}

	err := uc.inTx(ctx, OperationApprove, func(txCtx context.Context, tx DBTx) error {
		existing, err := uc.transactionRepo.GetByIDForUpdate(txCtx, tx, id)
		if err != nil {
			return err
		}
		if !domain.CanAccessCongregation(ctx, existing.CongregationID) {
			return domain.ErrForbiddenScope
		}
		if existing.IsConfirmed() {
			return domain.ErrAlreadyApproved
		}
		if err := domain.ValidateTransition(existing.Status, domain.StatusConfirmed); err != nil {
			return err
		}

		approved := existing.Clone()
		approved.MarkApproved(domain.ActorID(ctx), now)
		approved.UpdatedAt = now

		congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, existing.CongregationID)
		if err != nil {
			return err
		}

		if err := uc.transactionRepo.Update(txCtx, tx, approved); err != nil {
			return err
		}

		if err := uc.adjustBalance(txCtx, tx, congregation, existing, approved, now, result); err != nil {
			return err
		}

		result.Transaction = approved
		return uc.record(txCtx, tx, domain.AuditActionTransactionApprove, domain.EventTypeTransactionApproved, existing, approved, result, now)
	})
	if err != nil {
		return nil, err
	}

	uc.refreshCache(ctx, result.Transaction.CongregationID, result)

	return result, nil
}

// DeleteTransaction removes a transaction, reverting its contribution when it
// was CONFIRMED. The removed row is returned.
func (uc *LedgerUseCase) DeleteTransaction(ctx context.Context, id string) (*LedgerResult, error) {
	if user, ok := domain.UserFromContext(ctx); ok && !user.Role.CanDelete() {
		return nil, uc.fail(OperationDelete, domain.ErrInsufficientRole)
	}

	now := uc.now()
	result := &LedgerResult{}

	err := uc.inTx(ctx, OperationDelete, func(txCtx context.Context, tx DBTx) error {
		existing, err := uc.transactionRepo.GetByIDForUpdate(txCtx, tx, id)
		if err != nil {
			return err
		}
		if !domain.CanAccessCongregation(ctx, existing.CongregationID) {
			return domain.ErrForbiddenScope
		}

		congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, existing.CongregationID)
		if err != nil {
			return err
		}

		if err := uc.transactionRepo.Delete(txCtx, tx, existing.ID); err != nil {
			return err
		}

		if err := uc.adjustBalance(txCtx, tx, congregation, existing, nil, now, result); err != nil {
			return err
		}

		result.Transaction = existing
		return uc.record(txCtx, tx, domain.AuditActionTransactionDelete, domain.EventTypeTransactionDeleted, existing, nil, result, now)
	})
	if err != nil {
		return nil, err
	}

	uc.refreshCache(ctx, result.Transaction.CongregationID, result)

	return result, nil
}

// inTx runs fn inside a database transaction bounded by
// DefaultTransactionTimeout. The transaction commits only when fn succeeds.
func (uc *LedgerUseCase) inTx(ctx context.Context, operation string, fn func(txCtx context.Context, tx DBTx) error) error {
	start := time.Now()

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return uc.fail(operation, err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := fn(txCtx, tx); err != nil {
		return uc.fail(operation, err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return uc.fail(operation, err)
	}

	if uc.metrics != nil {
		uc.metrics.TransactionOperations.WithLabelValues(operation).Inc()
		uc.metrics.TransactionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}

	return nil
}

// adjustBalance writes the congregation balance when the transition from
// before to after changes it. At most one balance write happens per call.
func (uc *LedgerUseCase) adjustBalance(
	ctx context.Context,
	tx DBTx,
	congregation *domain.Congregation,
	before, after *domain.Transaction,
	now time.Time,
	result *LedgerResult,
) error {
	delta := domain.BalanceDelta(before, after)
	result.BalanceDelta = delta
	result.Balance = congregation.Balance
	result.Version = congregation.Version

	if delta.IsZero() {
		return nil
	}

	newBalance := congregation.ApplyDelta(delta)
	if err := uc.congregationRepo.UpdateBalance(ctx, tx, congregation.ID, newBalance, now); err != nil {
		return err
	}

	congregation.Balance = newBalance
	congregation.Version++
	result.Balance = newBalance
	result.Version = congregation.Version

	return nil
}

// record writes the outbox event and audit log for a mutation inside tx.
func (uc *LedgerUseCase) record(
	ctx context.Context,
	tx DBTx,
	action domain.AuditAction,
	eventType string,
	before, after *domain.Transaction,
	result *LedgerResult,
	now time.Time,
) error {
	subject := after
	if subject == nil {
		subject = before
	}

	if uc.outboxRepo != nil {
		payload := domain.TransactionEventPayload(subject, result.BalanceDelta.String(), result.Balance.String())
		event := &domain.OutboxEvent{
			ID:            uc.idGen.Generate(),
			AggregateID:   subject.ID,
			AggregateType: domain.AggregateTypeTransaction,
			EventType:     eventType,
			Payload:       payload,
			CreatedAt:     now,
		}
		if err := uc.outboxRepo.Create(ctx, tx, event); err != nil {
			return err
		}
	}

	if uc.auditRepo != nil {
		info := domain.RequestInfoFromContext(ctx)
		auditLog := &domain.AuditLog{
			UserID:       domain.ActorID(ctx),
			Action:       string(action),
			ResourceType: domain.ResourceTransaction,
			ResourceID:   subject.ID,
			IPAddress:    info.IPAddress,
			UserAgent:    info.UserAgent,
			RequestID:    info.RequestID,
			Status:       string(domain.AuditStatusSuccess),
			CreatedAt:    now,
		}
		if before != nil {
			auditLog.BeforeState = domain.MarshalState(before)
		}
		if after != nil {
			auditLog.AfterState = domain.MarshalState(after)
		}
		if err := uc.auditRepo.CreateTx(ctx, tx, auditLog); err != nil {
			return err
		}

		if uc.metrics != nil {
			uc.metrics.AuditLogsCreated.WithLabelValues(string(action), auditLog.Status).Inc()
		}
	}

	return nil
}

// refreshCache writes the committed balance through to the cache. The
// entry is dropped when the write fails so readers go back to the store.
func (uc *LedgerUseCase) refreshCache(ctx context.Context, congregationID string, result *LedgerResult) {
	if uc.cache == nil {
		return
	}
	writeThrough(ctx, uc.cache, congregationID, result.Balance, result.Version)
}

func (uc *LedgerUseCase) observeAmount(txn *domain.Transaction) {
	if uc.metrics == nil {
		return
	}
	amount, _ := txn.Amount.Float64()
	uc.metrics.TransactionAmount.WithLabelValues(string(txn.Kind)).Observe(amount)
}

// fail counts the error and wraps store failures.
func (uc *LedgerUseCase) fail(operation string, err error) error {
	err = storeError(err)
	if uc.metrics != nil {
		uc.metrics.TransactionErrors.WithLabelValues(operation, errorType(err)).Inc()
	}
	return err
}

func applyUpdate(t *domain.Transaction, input UpdateTransactionInput) {
	if input.Kind != nil {
		t.Kind = *input.Kind
	}
	if input.Category != nil {
		t.Category = *input.Category
	}
	if input.Subcategory != nil {
		t.Subcategory = *input.Subcategory
	}
	if input.Description != nil {
		t.Description = *input.Description
	}
	if input.PaymentMethod != nil {
		t.PaymentMethod = *input.PaymentMethod
	}
	if input.Status != nil {
		t.Status = *input.Status
	}
	if input.Notes != nil {
		t.Notes = *input.Notes
	}
	if input.DonorID != nil {
		donor := *input.DonorID
		t.DonorID = &donor
	}
	if input.Amount != nil {
		t.Amount = *input.Amount
	}
	if input.OccurredAt != nil {
		t.OccurredAt = input.OccurredAt.UTC()
	}
}

// requireApprover rejects authenticated users whose role cannot confirm.
func requireApprover(ctx context.Context) error {
	if user, ok := domain.UserFromContext(ctx); ok && !user.Role.CanApprove() {
		return domain.ErrInsufficientRole
	}
	return nil
}

// movesConfirmedBalance reports whether an edit enters or leaves CONFIRMED,
// or changes the contribution of a row that stays CONFIRMED.
func movesConfirmedBalance(before, after *domain.Transaction) bool {
	if before.IsConfirmed() != after.IsConfirmed() {
		return true
	}
	return before.IsConfirmed() && !domain.BalanceDelta(before, after).IsZero()
}

// authorizeEdit allows the responsible user or an editor role of the
// owning congregation.
func authorizeEdit(ctx context.Context, t *domain.Transaction) error {
	if !domain.CanAccessCongregation(ctx, t.CongregationID) {
		return domain.ErrForbiddenScope
	}
	user, ok := domain.UserFromContext(ctx)
	if !ok || user.Role.CanEditAny() || user.ID == t.ResponsibleID {
		return nil
	}
	return domain.ErrInsufficientRole
}
