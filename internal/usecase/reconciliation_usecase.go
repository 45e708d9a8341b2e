package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
)

// ErrInconsistentLedger is returned when a recorded balance has drifted from
// its CONFIRMED transactions.
var ErrInconsistentLedger = errors.New("ledger is inconsistent: recorded balance differs from confirmed transactions")

// ReconciliationUseCase recomputes congregation balances from their
// transactions and repairs drift.
type ReconciliationUseCase struct {
	txManager        TxManager
	congregationRepo CongregationRepository
	transactionRepo  TransactionRepository
	outboxRepo       OutboxRepository
	auditRepo        AuditRepository
	idGen            IDGenerator
	cache            BalanceCache
	metrics          *metrics.Metrics
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	txManager TxManager,
	congregationRepo CongregationRepository,
	transactionRepo TransactionRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	cache BalanceCache,
	metrics *metrics.Metrics,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		txManager:        txManager,
		congregationRepo: congregationRepo,
		transactionRepo:  transactionRepo,
		outboxRepo:       outboxRepo,
		auditRepo:        auditRepo,
		idGen:            idGen,
		cache:            cache,
		metrics:          metrics,
	}
}

// ReconciliationResult represents the result of a reconciliation check
type ReconciliationResult struct {
	CongregationID    string
	RecordedBalance   decimal.Decimal
	CalculatedBalance decimal.Decimal
	Difference        decimal.Decimal
	IsReconciled      bool
	LastChecked       time.Time
}

func newReconciliationResult(congregation *domain.Congregation, calculated decimal.Decimal) *ReconciliationResult {
	diff := congregation.Balance.Sub(calculated)
	return &ReconciliationResult{
		CongregationID:    congregation.ID,
		RecordedBalance:   congregation.Balance,
		CalculatedBalance: calculated,
		Difference:        diff,
		IsReconciled:      diff.IsZero(),
		LastChecked:       time.Now().UTC(),
	}
}

// Recompute returns the signed sum of a congregation's CONFIRMED transactions.
func (uc *ReconciliationUseCase) Recompute(ctx context.Context, congregationID string) (decimal.Decimal, error) {
	var calculated decimal.Decimal
	err := uc.readSnapshot(ctx, func(ctx context.Context, tx DBTx) error {
		totals, err := uc.transactionRepo.ConfirmedTotalsTx(ctx, tx, congregationID)
		if err != nil {
			return err
		}
		calculated = domain.RecomputeBalance(totals)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return calculated, nil
}

// ReconcileCongregation compares the recorded balance with the recomputed
// one. Both are read from the same snapshot.
func (uc *ReconciliationUseCase) ReconcileCongregation(ctx context.Context, congregationID string) (*ReconciliationResult, error) {
	var result *ReconciliationResult
	err := uc.readSnapshot(ctx, func(ctx context.Context, tx DBTx) error {
		congregation, err := uc.congregationRepo.GetByIDTx(ctx, tx, congregationID)
		if err != nil {
			return err
		}

		totals, err := uc.transactionRepo.ConfirmedTotalsTx(ctx, tx, congregationID)
		if err != nil {
			return err
		}

		result = newReconciliationResult(congregation, domain.RecomputeBalance(totals))
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.observeDrift(result)
	return result, nil
}

// ReconcileAll reconciles every congregation using one grouped totals query.
// The totals and every page of congregations come from one snapshot, so a
// ledger write committing mid-run cannot show up as drift.
func (uc *ReconciliationUseCase) ReconcileAll(ctx context.Context) ([]*ReconciliationResult, error) {
	var results []*ReconciliationResult
	err := uc.readSnapshot(ctx, func(ctx context.Context, tx DBTx) error {
		totals, err := uc.transactionRepo.ConfirmedTotalsTx(ctx, tx, "")
		if err != nil {
			return err
		}

		byCongregation := make(map[string][]domain.KindTotal)
		for _, t := range totals {
			byCongregation[t.CongregationID] = append(byCongregation[t.CongregationID], t)
		}

		for offset := 0; ; offset += reconcilePageSize {
			congregations, err := uc.congregationRepo.ListTx(ctx, tx, reconcilePageSize, offset)
			if err != nil {
				return fmt.Errorf("failed to list congregations at offset %d: %w", offset, storeError(err))
			}

			for _, congregation := range congregations {
				calculated := domain.RecomputeBalance(byCongregation[congregation.ID])
				results = append(results, newReconciliationResult(congregation, calculated))
			}

			if len(congregations) < reconcilePageSize {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		uc.observeDrift(result)
	}
	return results, nil
}

// readSnapshot runs fn inside a read-only transaction. Errors come back
// wrapped by storeError.
func (uc *ReconciliationUseCase) readSnapshot(ctx context.Context, fn func(ctx context.Context, tx DBTx) error) error {
	tx, err := uc.txManager.BeginReadOnly(ctx)
	if err != nil {
		return storeError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return storeError(err)
	}

	return storeError(tx.Commit(ctx))
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	TotalCongregations      int
	ReconciledCongregations int
	Discrepancies           []*ReconciliationResult
	LedgerConsistent        bool
	CheckedAt               time.Time
}

// GenerateReport reconciles all congregations and summarizes the drift.
func (uc *ReconciliationUseCase) GenerateReport(ctx context.Context) (*ReconciliationReport, error) {
	results, err := uc.ReconcileAll(ctx)
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	report := &ReconciliationReport{
		TotalCongregations: len(results),
		Discrepancies:      make([]*ReconciliationResult, 0),
		CheckedAt:          time.Now().UTC(),
	}

	for _, result := range results {
		if result.IsReconciled {
			report.ReconciledCongregations++
		} else {
			report.Discrepancies = append(report.Discrepancies, result)
		}
	}
	report.LedgerConsistent = len(report.Discrepancies) == 0

	if uc.metrics != nil {
		label := "consistent"
		if !report.LedgerConsistent {
			label = "drift"
		}
		uc.metrics.ReconciliationRuns.WithLabelValues(label).Inc()
	}

	return report, nil
}

// CheckConsistency returns ErrInconsistentLedger when any congregation drifted.
func (uc *ReconciliationUseCase) CheckConsistency(ctx context.Context) error {
	report, err := uc.GenerateReport(ctx)
	if err != nil {
		return err
	}

	if !report.LedgerConsistent {
		return fmt.Errorf("%w: %d of %d congregations", ErrInconsistentLedger, len(report.Discrepancies), report.TotalCongregations)
	}

	return nil
}

// Repair overwrites the recorded balance with the recomputed one. The
// congregation row stays locked while its transactions are summed.
func (uc *ReconciliationUseCase) Repair(ctx context.Context, congregationID string) (*ReconciliationResult, error) {
	if user, ok := domain.UserFromContext(ctx); ok && !user.Role.CanDelete() {
		return nil, domain.ErrInsufficientRole
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, storeError(err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	congregation, err := uc.congregationRepo.GetByIDForUpdate(txCtx, tx, congregationID)
	if err != nil {
		return nil, storeError(err)
	}

	totals, err := uc.transactionRepo.ConfirmedTotalsTx(txCtx, tx, congregationID)
	if err != nil {
		return nil, storeError(err)
	}

	result := newReconciliationResult(congregation, domain.RecomputeBalance(totals))
	if result.IsReconciled {
		return result, nil
	}

	now := time.Now().UTC()
	if err := uc.congregationRepo.UpdateBalance(txCtx, tx, congregationID, result.CalculatedBalance, now); err != nil {
		return nil, storeError(err)
	}

	if uc.outboxRepo != nil {
		event := &domain.OutboxEvent{
			ID:            uc.idGen.Generate(),
			AggregateID:   congregationID,
			AggregateType: domain.AggregateTypeCongregation,
			EventType:     domain.EventTypeBalanceRepaired,
			Payload: map[string]any{
				"congregation_id":    congregationID,
				"recorded_balance":   result.RecordedBalance.String(),
				"calculated_balance": result.CalculatedBalance.String(),
				"difference":         result.Difference.String(),
			},
			CreatedAt: now,
		}
		if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
			return nil, storeError(err)
		}
	}

	if uc.auditRepo != nil {
		auditLog := &domain.AuditLog{
			UserID:       domain.ActorID(ctx),
			Action:       string(domain.AuditActionCongregationRepair),
			ResourceType: domain.ResourceCongregation,
			ResourceID:   congregationID,
			RequestID:    domain.RequestInfoFromContext(ctx).RequestID,
			BeforeState:  domain.JSON{"balance": result.RecordedBalance.String()},
			AfterState:   domain.JSON{"balance": result.CalculatedBalance.String()},
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

	if uc.cache != nil {
		writeThrough(ctx, uc.cache, congregationID, result.CalculatedBalance, congregation.Version+1)
	}
	if uc.metrics != nil {
		uc.metrics.BalanceRepairs.Inc()
		uc.metrics.BalanceDrift.WithLabelValues(congregationID).Set(0)
	}

	return result, nil
}

func (uc *ReconciliationUseCase) observeDrift(result *ReconciliationResult) {
	if uc.metrics == nil {
		return
	}
	drift, _ := result.Difference.Float64()
	uc.metrics.BalanceDrift.WithLabelValues(result.CongregationID).Set(drift)
}
