package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"go.uber.org/zap"
)

type Expirer interface {
	ExpireStale(ctx context.Context, id string, cutoff time.Time) (orders.Order, error)
}

// TimeoutSweeper expires checkouts that got no payment outcome within
// Timeout.
type TimeoutSweeper struct {
	Orders   Lister
	Expirer  Expirer
	Timeout  time.Duration
	Interval time.Duration
	Batch    int
	Logger   *zap.Logger
	Now      func() time.Time
}

func (s *TimeoutSweeper) Run(ctx context.Context) {
	loop(ctx, "payment-timeout", s.Interval, s.Logger, s.RunOnce)
}

// RunOnce expires one batch and returns how many orders it moved.
func (s *TimeoutSweeper) RunOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := now().UTC().Add(-s.Timeout)

	stale, err := s.Orders.ListStale(ctx, []orders.Status{orders.StatusPendingPayment, orders.StatusCreated}, cutoff, s.Batch)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, o := range stale {
		got, err := s.Expirer.ExpireStale(ctx, o.ID, cutoff)
		switch {
		case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrOrderNotFound):
			// a callback or an admin got there first
			logx.Debug(ctx, s.Logger, "skip expiry", zap.String("order_id", o.ID), zap.Error(err))
		case err != nil:
			logx.Warn(ctx, s.Logger, "expire order", zap.String("order_id", o.ID), zap.Error(err))
		case got.Status != o.Status:
			n++
		}
	}
	return n, nil
}
