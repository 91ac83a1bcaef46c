package sweep

import (
	"context"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"go.uber.org/zap"
)

// Archiver moves an order out of the active set.
type Archiver interface {
	Archive(ctx context.Context, o orders.Order) error
}

type PolicySource interface {
	Config() policy.Config
}

// RetentionSweeper archives terminal orders older than the retention period
// of the current policy.
type RetentionSweeper struct {
	Orders   Lister
	Archiver Archiver
	Policy   PolicySource
	Interval time.Duration
	Batch    int
	Logger   *zap.Logger
	Now      func() time.Time
}

func (s *RetentionSweeper) Run(ctx context.Context) {
	loop(ctx, "retention", s.Interval, s.Logger, s.RunOnce)
}

// RunOnce archives one batch. Orders that fail to archive are logged and
// left for the next run.
func (s *RetentionSweeper) RunOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := now().UTC().Add(-s.Policy.Config().RetentionPeriod())

	old, err := s.Orders.ListStale(ctx, orders.TerminalStatuses, cutoff, s.Batch)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, o := range old {
		if err := s.Archiver.Archive(ctx, o); err != nil {
			logx.Warn(ctx, s.Logger, "archive order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
