package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AuditLog represents an audit trail entry for compliance and debugging
type AuditLog struct {
	ID           string
	UserID       string // Who performed the action
	Action       string // What action (transaction.create, congregation.repair, etc.)
	ResourceType string // Type of resource (transaction, congregation)
	ResourceID   string // ID of the resource
	IPAddress    string // Client IP address
	UserAgent    string // Client user agent
	RequestID    string // Request ID for tracing
	BeforeState  JSON   // State before the action
	AfterState   JSON   // State after the action
	Status       string // success, failure, error
	ErrorMessage string // If status=error, the error message
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	AuditActionCongregationCreate AuditAction = "congregation.create"
	AuditActionCongregationUpdate AuditAction = "congregation.update"
	AuditActionCongregationDelete AuditAction = "congregation.delete"
	AuditActionCongregationRepair AuditAction = "congregation.repair"

	AuditActionTransactionCreate  AuditAction = "transaction.create"
	AuditActionTransactionUpdate  AuditAction = "transaction.update"
	AuditActionTransactionApprove AuditAction = "transaction.approve"
	AuditActionTransactionDelete  AuditAction = "transaction.delete"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
	AuditStatusError   AuditStatus = "error"
)

// Resource types used in audit logs.
const (
	ResourceTransaction  = "transaction"
	ResourceCongregation = "congregation"
)

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// AuditFilter defines filters for querying audit logs
type AuditFilter struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

// RequestInfo carries client details recorded with mutations.
type RequestInfo struct {
	IPAddress    string
	UserAgent    string
	ForwardedFor string
	RequestID    string
}

type requestInfoContextKey struct{}

// ContextWithRequestInfo returns a copy of ctx carrying info.
func ContextWithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey{}, info)
}

// RequestInfoFromContext returns the request details stored in ctx.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoContextKey{}).(RequestInfo)
	return info
}

// Metadata returns the client details stored on new transactions.
func (i RequestInfo) Metadata() map[string]any {
	if i.IPAddress == "" && i.UserAgent == "" && i.ForwardedFor == "" {
		return nil
	}
	return map[string]any{
		"ip_address":    i.IPAddress,
		"user_agent":    i.UserAgent,
		"forwarded_for": i.ForwardedFor,
	}
}
