package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/postgres/generated"
	"github.com/iho/churchledger/internal/usecase"
)

const insertAuditLog = `
	INSERT INTO audit_logs (
		id, user_id, action, resource_type, resource_id,
		ip_address, user_agent, request_id,
		before_state, after_state, status, error_message, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// AuditRepository implements audit log persistence
type AuditRepository struct {
	db generated.DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db generated.DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateTx inserts an audit log entry as part of tx, so the entry commits
// or rolls back together with the ledger change it describes.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.DBTx, log *domain.AuditLog) error {
	pgxTx, ok := tx.(*Tx)
	if !ok {
		return errForeignTx
	}

	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	var beforeStateJSON, afterStateJSON []byte
	var err error

	if log.BeforeState != nil {
		beforeStateJSON, err = json.Marshal(log.BeforeState)
		if err != nil {
			return err
		}
	}

	if log.AfterState != nil {
		afterStateJSON, err = json.Marshal(log.AfterState)
		if err != nil {
			return err
		}
	}

	_, err = pgxTx.PgxTx().Exec(ctx, insertAuditLog,
		log.ID,
		log.UserID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		beforeStateJSON,
		afterStateJSON,
		log.Status,
		log.ErrorMessage,
		log.CreatedAt,
	)

	return err
}

// List retrieves audit logs with filtering
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	query, args := buildAuditQuery(filter)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.AuditLog
	for rows.Next() {
		var log domain.AuditLog
		var beforeStateJSON, afterStateJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&log.IPAddress,
			&log.UserAgent,
			&log.RequestID,
			&beforeStateJSON,
			&afterStateJSON,
			&log.Status,
			&log.ErrorMessage,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if beforeStateJSON != nil {
			_ = json.Unmarshal(beforeStateJSON, &log.BeforeState)
		}

		if afterStateJSON != nil {
			_ = json.Unmarshal(afterStateJSON, &log.AfterState)
		}

		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

func buildAuditQuery(filter domain.AuditFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT id::text, user_id, action, resource_type, resource_id,
		       ip_address, user_agent, request_id,
		       before_state, after_state, status, error_message, created_at
		FROM audit_logs
		WHERE 1=1`)

	args := []any{}
	arg := func(clause string, value any) {
		args = append(args, value)
		b.WriteString(clause + "$" + strconv.Itoa(len(args)))
	}

	if filter.UserID != "" {
		arg(" AND user_id = ", filter.UserID)
	}
	if filter.Action != "" {
		arg(" AND action = ", filter.Action)
	}
	if filter.ResourceType != "" {
		arg(" AND resource_type = ", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		arg(" AND resource_id = ", filter.ResourceID)
	}
	if filter.StartDate != nil {
		arg(" AND created_at >= ", *filter.StartDate)
	}
	if filter.EndDate != nil {
		arg(" AND created_at <= ", *filter.EndDate)
	}

	b.WriteString(" ORDER BY created_at DESC")

	if filter.Limit > 0 {
		arg(" LIMIT ", filter.Limit)
	}
	if filter.Offset > 0 {
		arg(" OFFSET ", filter.Offset)
	}

	return b.String(), args
}
