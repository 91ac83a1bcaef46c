package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventPublisherKeysByCorrelationID(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, orders.TopicOrderEvents, 4, zap.NewNop())
	ep := &EventPublisher{Producer: p}

	env := orders.Envelope{
		EventID:       "evt-1",
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		CorrelationID: "order-42",
		Payload:       json.RawMessage(`{"order_id":"order-42","to":"CONFIRMED"}`),
	}
	require.NoError(t, ep.Publish(context.Background(), env))

	m := <-p.inbox
	assert.Equal(t, []byte("order-42"), m.Key)
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "x-event-type", m.Headers[0].Key)
	assert.Equal(t, orders.EventOrderStatusChanged, string(m.Headers[0].Value))
	assert.Equal(t, "1", string(m.Headers[1].Value))

	got, err := DecodeEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.CorrelationID, got.CorrelationID)
}

func TestPublishRespectsContextWhenFull(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, orders.TopicOrderEvents, 1, zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), []byte("k"), []byte("v")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(ctx, []byte("k"), []byte("v")), context.DeadlineExceeded)
}

func TestDecodeEnvelopeRejectsBadInput(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{"))
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, err = DecodeEnvelope([]byte(`{"event_type":"LowStock","event_version":2}`))
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, err = DecodeEnvelope([]byte(`{"event_version":1}`))
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestUnwrapPayload(t *testing.T) {
	p, err := UnwrapPayload[orders.LowStockPayload](json.RawMessage(`{"product_id":"glue","stock":3,"threshold":5}`))
	require.NoError(t, err)
	assert.Equal(t, "glue", p.ProductID)
	assert.Equal(t, int64(3), p.Stock)

	_, err = UnwrapPayload[orders.LowStockPayload](json.RawMessage(`[`))
	assert.Error(t, err)
}
