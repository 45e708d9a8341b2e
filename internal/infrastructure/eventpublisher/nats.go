package eventpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/iho/churchledger/internal/domain"
)

// Message headers set on every published event.
const (
	HeaderMsgID         = nats.MsgIdHdr
	HeaderEventType     = "Churchledger-Event-Type"
	HeaderAggregateType = "Churchledger-Aggregate-Type"
	HeaderAggregateID   = "Churchledger-Aggregate-Id"
)

const flushTimeout = 5 * time.Second

type natsConn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Envelope is the JSON body of a published event.
type Envelope struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload"`
}

// NATSPublisher publishes outbox events to "<prefix>.<event_type>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// ConnectNATS dials url and returns a publisher for subjects under prefix.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("churchledger-outbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return newNATSPublisher(conn, prefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish sends event and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	data, err := json.Marshal(Envelope{
		ID:            event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		OccurredAt:    event.CreatedAt,
		Payload:       event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(event.EventType))
	msg.Data = data
	msg.Header.Set(HeaderMsgID, event.ID)
	msg.Header.Set(HeaderEventType, event.EventType)
	msg.Header.Set(HeaderAggregateType, event.AggregateType)
	msg.Header.Set(HeaderAggregateID, event.AggregateID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}

	return p.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
