package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/postgres/generated"
	"github.com/iho/churchledger/internal/usecase"
)

// TransactionRepository implements usecase.TransactionRepository.
type TransactionRepository struct {
	queries *generated.Queries
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db generated.DBTX) *TransactionRepository {
	return &TransactionRepository{queries: generated.New(db)}
}

// Create inserts a transaction within a transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx usecase.DBTx, t *domain.Transaction) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}

	_, err = queries.CreateTransaction(ctx, generated.CreateTransactionParams{
		ID:             t.ID,
		CongregationID: t.CongregationID,
		ResponsibleID:  t.ResponsibleID,
		Kind:           string(t.Kind),
		Category:       string(t.Category),
		Subcategory:    t.Subcategory,
		Description:    t.Description,
		Amount:         decimalToNumeric(t.Amount),
		PaymentMethod:  string(t.PaymentMethod),
		Status:         string(t.Status),
		OccurredAt:     timeToPgTimestamptz(t.OccurredAt),
		DonorID:        stringPtrToPgText(t.DonorID),
		ApproverID:     stringPtrToPgText(t.ApproverID),
		ApprovedAt:     timePtrToPgTimestamptz(t.ApprovedAt),
		Notes:          t.Notes,
		Metadata:       metadata,
		CreatedAt:      timeToPgTimestamptz(t.CreatedAt),
		UpdatedAt:      timeToPgTimestamptz(t.UpdatedAt),
	})

	return err
}

// GetByID reads a transaction without locking it.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row, err := r.queries.GetTransactionByID(ctx, id)
	if err != nil {
		return nil, transactionError(err)
	}

	return rowToTransaction(row), nil
}

// GetByIDForUpdate reads a transaction and holds its row lock until tx ends.
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, tx usecase.DBTx, id string) (*domain.Transaction, error) {
	queries, err := queriesFor(tx)
	if err != nil {
		return nil, err
	}

	row, err := queries.GetTransactionByIDForUpdate(ctx, id)
	if err != nil {
		return nil, transactionError(err)
	}

	return rowToTransaction(row), nil
}

// Update persists every mutable column of t.
func (r *TransactionRepository) Update(ctx context.Context, tx usecase.DBTx, t *domain.Transaction) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}

	affected, err := queries.UpdateTransaction(ctx, generated.UpdateTransactionParams{
		ID:            t.ID,
		ResponsibleID: t.ResponsibleID,
		Kind:          string(t.Kind),
		Category:      string(t.Category),
		Subcategory:   t.Subcategory,
		Description:   t.Description,
		Amount:        decimalToNumeric(t.Amount),
		PaymentMethod: string(t.PaymentMethod),
		Status:        string(t.Status),
		OccurredAt:    timeToPgTimestamptz(t.OccurredAt),
		DonorID:       stringPtrToPgText(t.DonorID),
		ApproverID:    stringPtrToPgText(t.ApproverID),
		ApprovedAt:    timePtrToPgTimestamptz(t.ApprovedAt),
		Notes:         t.Notes,
		Metadata:      metadata,
		UpdatedAt:     timeToPgTimestamptz(t.UpdatedAt),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTransactionNotFound
	}

	return nil
}

// Delete removes a transaction row.
func (r *TransactionRepository) Delete(ctx context.Context, tx usecase.DBTx, id string) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	affected, err := queries.DeleteTransaction(ctx, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTransactionNotFound
	}

	return nil
}

// List returns matching transactions, newest first.
func (r *TransactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	rows, err := r.queries.ListTransactions(ctx, generated.ListTransactionsParams{
		TransactionFilterParams: filterParams(filter),
		Limit:                   int32(filter.Limit),
		Offset:                  int32(filter.Offset),
	})
	if err != nil {
		return nil, err
	}

	transactions := make([]*domain.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, rowToTransaction(row))
	}

	return transactions, nil
}

// Count returns the number of transactions matching filter, ignoring paging.
func (r *TransactionRepository) Count(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	return r.queries.CountTransactions(ctx, filterParams(filter))
}

// ConfirmedTotalsTx sums CONFIRMED amounts per congregation and kind inside
// tx. Repair calls it under the congregation row lock; reconciliation calls it
// in a read-only snapshot.
func (r *TransactionRepository) ConfirmedTotalsTx(ctx context.Context, tx usecase.DBTx, congregationID string) ([]domain.KindTotal, error) {
	queries, err := queriesFor(tx)
	if err != nil {
		return nil, err
	}
	return confirmedTotals(ctx, queries, congregationID)
}

// CategoryTotals sums CONFIRMED amounts per kind and category.
func (r *TransactionRepository) CategoryTotals(ctx context.Context, filter domain.SummaryFilter) ([]domain.CategoryTotal, error) {
	rows, err := r.queries.CategoryTotals(ctx, generated.CategoryTotalsParams{
		CongregationID: optionalText(filter.CongregationID),
		From:           timePtrToPgTimestamptz(filter.From),
		To:             timePtrToPgTimestamptz(filter.To),
	})
	if err != nil {
		return nil, err
	}

	totals := make([]domain.CategoryTotal, 0, len(rows))
	for _, row := range rows {
		totals = append(totals, domain.CategoryTotal{
			Kind:     domain.Kind(row.Kind),
			Category: domain.Category(row.Category),
			Total:    numericToDecimal(row.Total),
		})
	}

	return totals, nil
}

func confirmedTotals(ctx context.Context, queries *generated.Queries, congregationID string) ([]domain.KindTotal, error) {
	rows, err := queries.ConfirmedTotals(ctx, optionalText(congregationID))
	if err != nil {
		return nil, err
	}

	totals := make([]domain.KindTotal, 0, len(rows))
	for _, row := range rows {
		totals = append(totals, domain.KindTotal{
			CongregationID: row.CongregationID,
			Kind:           domain.Kind(row.Kind),
			Total:          numericToDecimal(row.Total),
		})
	}

	return totals, nil
}

func filterParams(f domain.TransactionFilter) generated.TransactionFilterParams {
	return generated.TransactionFilterParams{
		CongregationID: optionalText(f.CongregationID),
		ResponsibleID:  optionalText(f.ResponsibleID),
		DonorID:        optionalText(f.DonorID),
		Kind:           optionalText(string(f.Kind)),
		Category:       optionalText(string(f.Category)),
		Status:         optionalText(string(f.Status)),
		From:           timePtrToPgTimestamptz(f.From),
		To:             timePtrToPgTimestamptz(f.To),
	}
}

func transactionError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrTransactionNotFound
	}
	return err
}

func rowToTransaction(row generated.Transaction) *domain.Transaction {
	return &domain.Transaction{
		ID:             row.ID,
		CongregationID: row.CongregationID,
		ResponsibleID:  row.ResponsibleID,
		Kind:           domain.Kind(row.Kind),
		Category:       domain.Category(row.Category),
		Subcategory:    row.Subcategory,
		Description:    row.Description,
		Amount:         numericToDecimal(row.Amount),
		PaymentMethod:  domain.PaymentMethod(row.PaymentMethod),
		Status:         domain.Status(row.Status),
		OccurredAt:     row.OccurredAt.Time,
		DonorID:        pgTextToStringPtr(row.DonorID),
		ApproverID:     pgTextToStringPtr(row.ApproverID),
		ApprovedAt:     pgTimestamptzToTimePtr(row.ApprovedAt),
		Notes:          row.Notes,
		Metadata:       unmarshalJSON(row.Metadata),
		CreatedAt:      row.CreatedAt.Time,
		UpdatedAt:      row.UpdatedAt.Time,
	}
}
