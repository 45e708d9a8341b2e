package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// reconcilePageSize bounds each congregation page read during reconciliation
	reconcilePageSize = 100
)

// Ledger operation names used for metrics and logs.
const (
	OperationCreate  = "create"
	OperationUpdate  = "update"
	OperationApprove = "approve"
	OperationDelete  = "delete"
	OperationRepair  = "repair"
)
