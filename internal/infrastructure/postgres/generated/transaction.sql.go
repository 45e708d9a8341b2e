package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `id, congregation_id, responsible_id, kind, category, subcategory, description, amount, payment_method, status, occurred_at, donor_id, approver_id, approved_at, notes, metadata, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.CongregationID,
		&i.ResponsibleID,
		&i.Kind,
		&i.Category,
		&i.Subcategory,
		&i.Description,
		&i.Amount,
		&i.PaymentMethod,
		&i.Status,
		&i.OccurredAt,
		&i.DonorID,
		&i.ApproverID,
		&i.ApprovedAt,
		&i.Notes,
		&i.Metadata,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createTransaction = `-- name: CreateTransaction :one
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING ` + transactionColumns

type CreateTransactionParams struct {
	ID             string             `json:"id"`
	CongregationID string             `json:"congregation_id"`
	ResponsibleID  string             `json:"responsible_id"`
	Kind           string             `json:"kind"`
	Category       string             `json:"category"`
	Subcategory    string             `json:"subcategory"`
	Description    string             `json:"description"`
	Amount         pgtype.Numeric     `json:"amount"`
	PaymentMethod  string             `json:"payment_method"`
	Status         string             `json:"status"`
	OccurredAt     pgtype.Timestamptz `json:"occurred_at"`
	DonorID        pgtype.Text        `json:"donor_id"`
	ApproverID     pgtype.Text        `json:"approver_id"`
	ApprovedAt     pgtype.Timestamptz `json:"approved_at"`
	Notes          string             `json:"notes"`
	Metadata       []byte             `json:"metadata"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRow(ctx, createTransaction,
		arg.ID,
		arg.CongregationID,
		arg.ResponsibleID,
		arg.Kind,
		arg.Category,
		arg.Subcategory,
		arg.Description,
		arg.Amount,
		arg.PaymentMethod,
		arg.Status,
		arg.OccurredAt,
		arg.DonorID,
		arg.ApproverID,
		arg.ApprovedAt,
		arg.Notes,
		arg.Metadata,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return scanTransaction(row)
}

const getTransactionByID = `-- name: GetTransactionByID :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1
`

func (q *Queries) GetTransactionByID(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByID, id))
}

const getTransactionByIDForUpdate = `-- name: GetTransactionByIDForUpdate :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetTransactionByIDForUpdate(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByIDForUpdate, id))
}

const updateTransaction = `-- name: UpdateTransaction :execrows
UPDATE transactions
SET responsible_id = $2,
    kind = $3,
    category = $4,
    subcategory = $5,
    description = $6,
    amount = $7,
    payment_method = $8,
    status = $9,
    occurred_at = $10,
    donor_id = $11,
    approver_id = $12,
    approved_at = $13,
    notes = $14,
    metadata = $15,
    updated_at = $16
WHERE id = $1
`

type UpdateTransactionParams struct {
	ID            string             `json:"id"`
	ResponsibleID string             `json:"responsible_id"`
	Kind          string             `json:"kind"`
	Category      string             `json:"category"`
	Subcategory   string             `json:"subcategory"`
	Description   string             `json:"description"`
	Amount        pgtype.Numeric     `json:"amount"`
	PaymentMethod string             `json:"payment_method"`
	Status        string             `json:"status"`
	OccurredAt    pgtype.Timestamptz `json:"occurred_at"`
	DonorID       pgtype.Text        `json:"donor_id"`
	ApproverID    pgtype.Text        `json:"approver_id"`
	ApprovedAt    pgtype.Timestamptz `json:"approved_at"`
	Notes         string             `json:"notes"`
	Metadata      []byte             `json:"metadata"`
	UpdatedAt     pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransaction,
		arg.ID,
		arg.ResponsibleID,
		arg.Kind,
		arg.Category,
		arg.Subcategory,
		arg.Description,
		arg.Amount,
		arg.PaymentMethod,
		arg.Status,
		arg.OccurredAt,
		arg.DonorID,
		arg.ApproverID,
		arg.ApprovedAt,
		arg.Notes,
		arg.Metadata,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteTransaction = `-- name: DeleteTransaction :execrows
DELETE FROM transactions WHERE id = $1
`

func (q *Queries) DeleteTransaction(ctx context.Context, id string) (int64, error) {
	result, err := q.db.Exec(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const transactionFilter = `
WHERE ($1::text IS NULL OR congregation_id = $1)
  AND ($2::text IS NULL OR responsible_id = $2)
  AND ($3::text IS NULL OR donor_id = $3)
  AND ($4::text IS NULL OR kind = $4)
  AND ($5::text IS NULL OR category = $5)
  AND ($6::text IS NULL OR status = $6)
  AND ($7::timestamptz IS NULL OR occurred_at >= $7)
  AND ($8::timestamptz IS NULL OR occurred_at <= $8)
`

type TransactionFilterParams struct {
	CongregationID pgtype.Text        `json:"congregation_id"`
	ResponsibleID  pgtype.Text        `json:"responsible_id"`
	DonorID        pgtype.Text        `json:"donor_id"`
	Kind           pgtype.Text        `json:"kind"`
	Category       pgtype.Text        `json:"category"`
	Status         pgtype.Text        `json:"status"`
	From           pgtype.Timestamptz `json:"from"`
	To             pgtype.Timestamptz `json:"to"`
}

func (p TransactionFilterParams) args() []any {
	return []any{p.CongregationID, p.ResponsibleID, p.DonorID, p.Kind, p.Category, p.Status, p.From, p.To}
}

const listTransactions = `-- name: ListTransactions :many
SELECT ` + transactionColumns + ` FROM transactions` + transactionFilter + `ORDER BY occurred_at DESC, id DESC
LIMIT $9 OFFSET $10
`

type ListTransactionsParams struct {
	TransactionFilterParams
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]Transaction, error) {
	args := append(arg.args(), arg.Limit, arg.Offset)
	rows, err := q.db.Query(ctx, listTransactions, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countTransactions = `-- name: CountTransactions :one
SELECT COUNT(*) FROM transactions` + transactionFilter

func (q *Queries) CountTransactions(ctx context.Context, arg TransactionFilterParams) (int64, error) {
	row := q.db.QueryRow(ctx, countTransactions, arg.args()...)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const confirmedTotals = `-- name: ConfirmedTotals :many
SELECT congregation_id, kind, COALESCE(SUM(amount), 0)::numeric AS total
FROM transactions
WHERE status = 'CONFIRMED'
  AND ($1::text IS NULL OR congregation_id = $1)
GROUP BY congregation_id, kind
ORDER BY congregation_id, kind
`

type ConfirmedTotalsRow struct {
	CongregationID string         `json:"congregation_id"`
	Kind           string         `json:"kind"`
	Total          pgtype.Numeric `json:"total"`
}

func (q *Queries) ConfirmedTotals(ctx context.Context, congregationID pgtype.Text) ([]ConfirmedTotalsRow, error) {
	rows, err := q.db.Query(ctx, confirmedTotals, congregationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConfirmedTotalsRow
	for rows.Next() {
		var i ConfirmedTotalsRow
		if err := rows.Scan(&i.CongregationID, &i.Kind, &i.Total); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const categoryTotals = `-- name: CategoryTotals :many
SELECT kind, category, COALESCE(SUM(amount), 0)::numeric AS total
FROM transactions
WHERE status = 'CONFIRMED'
  AND ($1::text IS NULL OR congregation_id = $1)
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
GROUP BY kind, category
ORDER BY kind, category
`

type CategoryTotalsParams struct {
	CongregationID pgtype.Text        `json:"congregation_id"`
	From           pgtype.Timestamptz `json:"from"`
	To             pgtype.Timestamptz `json:"to"`
}

type CategoryTotalsRow struct {
	Kind     string         `json:"kind"`
	Category string         `json:"category"`
	Total    pgtype.Numeric `json:"total"`
}

func (q *Queries) CategoryTotals(ctx context.Context, arg CategoryTotalsParams) ([]CategoryTotalsRow, error) {
	rows, err := q.db.Query(ctx, categoryTotals, arg.CongregationID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryTotalsRow
	for rows.Next() {
		var i CategoryTotalsRow
		if err := rows.Scan(&i.Kind, &i.Category, &i.Total); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
