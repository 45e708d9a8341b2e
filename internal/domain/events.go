package domain

import "time"

// Event types
const (
	EventTypeTransactionCreated  = "transaction.created"
	EventTypeTransactionUpdated  = "transaction.updated"
	EventTypeTransactionApproved = "transaction.approved"
	EventTypeTransactionDeleted  = "transaction.deleted"
	EventTypeCongregationCreated = "congregation.created"
	EventTypeCongregationUpdated = "congregation.updated"
	EventTypeCongregationDeleted = "congregation.deleted"
	EventTypeBalanceRepaired     = "congregation.balance_repaired"
)

// Aggregate types
const (
	AggregateTypeTransaction  = "transaction"
	AggregateTypeCongregation = "congregation"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// TransactionEventPayload builds the payload shared by transaction events.
func TransactionEventPayload(t *Transaction, balanceDelta, balance string) map[string]any {
	return map[string]any{
		"transaction_id":  t.ID,
		"congregation_id": t.CongregationID,
		"kind":            string(t.Kind),
		"category":        string(t.Category),
		"status":          string(t.Status),
		"amount":          t.Amount.String(),
		"balance_delta":   balanceDelta,
		"balance":         balance,
	}
}
