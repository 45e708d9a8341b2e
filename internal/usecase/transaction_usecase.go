package usecase

import (
	"context"

	"github.com/iho/churchledger/internal/domain"
)

// TransactionUseCase serves read-only transaction queries.
type TransactionUseCase struct {
	transactionRepo TransactionRepository
}

// NewTransactionUseCase creates a new TransactionUseCase.
func NewTransactionUseCase(transactionRepo TransactionRepository) *TransactionUseCase {
	return &TransactionUseCase{transactionRepo: transactionRepo}
}

// GetTransaction retrieves a transaction by ID.
func (uc *TransactionUseCase) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := uc.transactionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	if !domain.CanAccessCongregation(ctx, txn.CongregationID) {
		return nil, domain.ErrForbiddenScope
	}

	return txn, nil
}

// ListTransactionsResult is a page of transactions.
type ListTransactionsResult struct {
	Transactions []*domain.Transaction
	Total        int64
	Limit        int
	Offset       int
}

// ListTransactions lists transactions matching filter, newest first.
func (uc *TransactionUseCase) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*ListTransactionsResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	scoped, err := scopeCongregation(ctx, filter.CongregationID)
	if err != nil {
		return nil, err
	}
	filter.CongregationID = scoped
	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)

	transactions, err := uc.transactionRepo.List(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}

	total, err := uc.transactionRepo.Count(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}

	return &ListTransactionsResult{
		Transactions: transactions,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, nil
}

// Summary totals CONFIRMED revenue and expense by category.
func (uc *TransactionUseCase) Summary(ctx context.Context, filter domain.SummaryFilter) (*domain.Summary, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, domain.ErrInvalidDateRange
	}

	scoped, err := scopeCongregation(ctx, filter.CongregationID)
	if err != nil {
		return nil, err
	}
	filter.CongregationID = scoped

	totals, err := uc.transactionRepo.CategoryTotals(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}

	return domain.BuildSummary(totals), nil
}

// scopeCongregation pins queries of congregation-scoped users to their own
// congregation and rejects requests for any other.
func scopeCongregation(ctx context.Context, requested string) (string, error) {
	user, ok := domain.UserFromContext(ctx)
	if !ok || user.Role.CanViewAllCongregations() {
		return requested, nil
	}
	if requested != "" && requested != user.CongregationID {
		return "", domain.ErrForbiddenScope
	}
	return user.CongregationID, nil
}
