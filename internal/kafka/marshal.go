package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/schoolmart-orders/internal/orders"
)

var ErrBadEnvelope = errors.New("bad envelope")

// DecodeEnvelope parses an order.events message value.
func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return orders.Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.EventType == "" || env.EventVersion != 1 {
		return orders.Envelope{}, fmt.Errorf("%w: type %q version %d", ErrBadEnvelope, env.EventType, env.EventVersion)
	}
	return env, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
