package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const countCongregations = `-- name: CountCongregations :one
SELECT COUNT(*) FROM congregations
`

func (q *Queries) CountCongregations(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countCongregations)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createCongregation = `-- name: CreateCongregation :one
INSERT INTO congregations (id, name, balance, version, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, name, balance, version, active, created_at, updated_at
`

type CreateCongregationParams struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Balance   pgtype.Numeric     `json:"balance"`
	Version   int64              `json:"version"`
	Active    bool               `json:"active"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) CreateCongregation(ctx context.Context, arg CreateCongregationParams) (Congregation, error) {
	row := q.db.QueryRow(ctx, createCongregation,
		arg.ID,
		arg.Name,
		arg.Balance,
		arg.Version,
		arg.Active,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	var i Congregation
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Balance,
		&i.Version,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getCongregationByID = `-- name: GetCongregationByID :one
SELECT id, name, balance, version, active, created_at, updated_at FROM congregations WHERE id = $1
`

func (q *Queries) GetCongregationByID(ctx context.Context, id string) (Congregation, error) {
	row := q.db.QueryRow(ctx, getCongregationByID, id)
	var i Congregation
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Balance,
		&i.Version,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getCongregationByIDForUpdate = `-- name: GetCongregationByIDForUpdate :one
SELECT id, name, balance, version, active, created_at, updated_at FROM congregations WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetCongregationByIDForUpdate(ctx context.Context, id string) (Congregation, error) {
	row := q.db.QueryRow(ctx, getCongregationByIDForUpdate, id)
	var i Congregation
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Balance,
		&i.Version,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listCongregations = `-- name: ListCongregations :many
SELECT id, name, balance, version, active, created_at, updated_at FROM congregations
ORDER BY name, id
LIMIT $1 OFFSET $2
`

type ListCongregationsParams struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

func (q *Queries) ListCongregations(ctx context.Context, arg ListCongregationsParams) ([]Congregation, error) {
	rows, err := q.db.Query(ctx, listCongregations, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Congregation
	for rows.Next() {
		var i Congregation
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Balance,
			&i.Version,
			&i.Active,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateCongregationBalance = `-- name: UpdateCongregationBalance :execrows
UPDATE congregations
SET balance = $2, version = version + 1, updated_at = $3
WHERE id = $1
`

type UpdateCongregationBalanceParams struct {
	ID        string             `json:"id"`
	Balance   pgtype.Numeric     `json:"balance"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateCongregationBalance(ctx context.Context, arg UpdateCongregationBalanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateCongregationBalance, arg.ID, arg.Balance, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateCongregation = `-- name: UpdateCongregation :execrows
UPDATE congregations
SET name = $2, active = $3, updated_at = $4
WHERE id = $1
`

type UpdateCongregationParams struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Active    bool               `json:"active"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateCongregation(ctx context.Context, arg UpdateCongregationParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateCongregation,
		arg.ID,
		arg.Name,
		arg.Active,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteCongregation = `-- name: DeleteCongregation :execrows
DELETE FROM congregations
WHERE id = $1
  AND NOT EXISTS (SELECT 1 FROM transactions WHERE congregation_id = $1)
`

func (q *Queries) DeleteCongregation(ctx context.Context, id string) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCongregation, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
