package notify

import (
	"context"

	kafkax "github.com/ariefcatur/schoolmart-orders/internal/kafka"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HandleMessage decodes an order.events message and dispatches it. A message
// that cannot be decoded is logged and acknowledged so it does not block the
// partition.
func (d *Dispatcher) HandleMessage(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		logx.Error(ctx, d.Logger, "drop undecodable event",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return nil
	}
	return d.Dispatch(ctx, env)
}
