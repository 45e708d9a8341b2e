package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/churchledger/internal/domain"
)

type fakeConn struct {
	msgs        []*nats.Msg
	publishErr  error
	flushed     int
	hadDeadline bool
	drained     bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(ctx context.Context) error {
	_, f.hadDeadline = ctx.Deadline()
	f.flushed++
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "churchledger")

	event := &domain.OutboxEvent{
		ID:            "evt-1",
		AggregateID:   "txn-1",
		AggregateType: domain.AggregateTypeTransaction,
		EventType:     domain.EventTypeTransactionApproved,
		Payload:       map[string]any{"amount": "100", "balance_delta": "100"},
	}

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "churchledger.transaction.approved", msg.Subject)
	assert.Equal(t, "evt-1", msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "txn-1", msg.Header.Get(HeaderAggregateID))
	assert.Equal(t, 1, conn.flushed)
	assert.True(t, conn.hadDeadline)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &envelope))
	assert.Equal(t, "evt-1", envelope.ID)
	assert.Equal(t, "100", envelope.Payload["balance_delta"])

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestNATSPublisher_PublishError(t *testing.T) {
	conn := &fakeConn{publishErr: nats.ErrConnectionClosed}
	p := newNATSPublisher(conn, "")

	err := p.Publish(context.Background(), &domain.OutboxEvent{ID: "e", EventType: "congregation.created"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
	assert.Equal(t, "congregation.created", p.Subject("congregation.created"))
	assert.Zero(t, conn.flushed)
}
