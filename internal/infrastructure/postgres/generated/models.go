package generated

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Congregation struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Balance   pgtype.Numeric     `json:"balance"`
	Version   int64              `json:"version"`
	Active    bool               `json:"active"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type OutboxEvent struct {
	ID            string             `json:"id"`
	AggregateID   string             `json:"aggregate_id"`
	AggregateType string             `json:"aggregate_type"`
	EventType     string             `json:"event_type"`
	Payload       []byte             `json:"payload"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
	PublishedAt   pgtype.Timestamptz `json:"published_at"`
	Published     bool               `json:"published"`
}

type Transaction struct {
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
