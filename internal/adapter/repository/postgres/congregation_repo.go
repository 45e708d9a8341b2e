package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/postgres/generated"
	"github.com/iho/churchledger/internal/usecase"
)

// CongregationRepository implements usecase.CongregationRepository.
type CongregationRepository struct {
	queries *generated.Queries
}

// NewCongregationRepository creates a new CongregationRepository.
func NewCongregationRepository(db generated.DBTX) *CongregationRepository {
	return &CongregationRepository{queries: generated.New(db)}
}

// Create inserts a congregation within a transaction.
func (r *CongregationRepository) Create(ctx context.Context, tx usecase.DBTx, c *domain.Congregation) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	_, err = queries.CreateCongregation(ctx, generated.CreateCongregationParams{
		ID:        c.ID,
		Name:      c.Name,
		Balance:   decimalToNumeric(c.Balance),
		Version:   c.Version,
		Active:    c.Active,
		CreatedAt: timeToPgTimestamptz(c.CreatedAt),
		UpdatedAt: timeToPgTimestamptz(c.UpdatedAt),
	})

	return err
}

// GetByID reads a congregation without locking it.
func (r *CongregationRepository) GetByID(ctx context.Context, id string) (*domain.Congregation, error) {
	row, err := r.queries.GetCongregationByID(ctx, id)
	if err != nil {
		return nil, congregationError(err)
	}

	return rowToCongregation(row), nil
}

// GetByIDTx reads a congregation inside tx without locking it.
func (r *CongregationRepository) GetByIDTx(ctx context.Context, tx usecase.DBTx, id string) (*domain.Congregation, error) {
	queries, err := queriesFor(tx)
	if err != nil {
		return nil, err
	}

	row, err := queries.GetCongregationByID(ctx, id)
	if err != nil {
		return nil, congregationError(err)
	}

	return rowToCongregation(row), nil
}

// GetByIDForUpdate reads a congregation and holds its row lock until tx ends.
func (r *CongregationRepository) GetByIDForUpdate(ctx context.Context, tx usecase.DBTx, id string) (*domain.Congregation, error) {
	queries, err := queriesFor(tx)
	if err != nil {
		return nil, err
	}

	row, err := queries.GetCongregationByIDForUpdate(ctx, id)
	if err != nil {
		return nil, congregationError(err)
	}

	return rowToCongregation(row), nil
}

// UpdateBalance overwrites the stored balance and bumps the version.
func (r *CongregationRepository) UpdateBalance(ctx context.Context, tx usecase.DBTx, id string, balance decimal.Decimal, updatedAt time.Time) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	affected, err := queries.UpdateCongregationBalance(ctx, generated.UpdateCongregationBalanceParams{
		ID:        id,
		Balance:   decimalToNumeric(balance),
		UpdatedAt: timeToPgTimestamptz(updatedAt),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCongregationNotFound
	}

	return nil
}

// List returns congregations ordered by name.
func (r *CongregationRepository) List(ctx context.Context, limit, offset int) ([]*domain.Congregation, error) {
	return listCongregations(ctx, r.queries, limit, offset)
}

// ListTx is List read inside tx.
func (r *CongregationRepository) ListTx(ctx context.Context, tx usecase.DBTx, limit, offset int) ([]*domain.Congregation, error) {
	queries, err := queriesFor(tx)
	if err != nil {
		return nil, err
	}
	return listCongregations(ctx, queries, limit, offset)
}

// Update persists the name and active flag. The balance and version are
// owned by UpdateBalance.
func (r *CongregationRepository) Update(ctx context.Context, tx usecase.DBTx, c *domain.Congregation) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	affected, err := queries.UpdateCongregation(ctx, generated.UpdateCongregationParams{
		ID:        c.ID,
		Name:      c.Name,
		Active:    c.Active,
		UpdatedAt: timeToPgTimestamptz(c.UpdatedAt),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCongregationNotFound
	}

	return nil
}

// Delete removes a congregation that no transaction references. Callers lock
// the row first, so a zero row count means transactions still point at it.
func (r *CongregationRepository) Delete(ctx context.Context, tx usecase.DBTx, id string) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	affected, err := queries.DeleteCongregation(ctx, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCongregationNotEmpty
	}

	return nil
}

func listCongregations(ctx context.Context, queries *generated.Queries, limit, offset int) ([]*domain.Congregation, error) {
	rows, err := queries.ListCongregations(ctx, generated.ListCongregationsParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, err
	}

	congregations := make([]*domain.Congregation, 0, len(rows))
	for _, row := range rows {
		congregations = append(congregations, rowToCongregation(row))
	}

	return congregations, nil
}

// Count returns the number of congregations.
func (r *CongregationRepository) Count(ctx context.Context) (int64, error) {
	return r.queries.CountCongregations(ctx)
}

func congregationError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrCongregationNotFound
	}
	return err
}

func rowToCongregation(row generated.Congregation) *domain.Congregation {
	return &domain.Congregation{
		ID:        row.ID,
		Name:      row.Name,
		Balance:   numericToDecimal(row.Balance),
		Version:   row.Version,
		Active:    row.Active,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}
