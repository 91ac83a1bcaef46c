package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

// EventPublisher puts order envelopes on a producer, keyed by correlation id
// so the events of one order stay in one partition.
type EventPublisher struct {
	Producer *Producer
}

func (p *EventPublisher) Publish(ctx context.Context, env orders.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, orders.PartitionKey(env.CorrelationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
