package sweep

import (
	"context"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"go.uber.org/zap"
)

type Lister interface {
	ListStale(ctx context.Context, statuses []orders.Status, updatedBefore time.Time, limit int) ([]orders.Order, error)
}

// loop calls run every interval until ctx is done. A failing run is logged
// and the next tick tries again.
func loop(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, run func(ctx context.Context) (int, error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	logx.Info(ctx, logger, "sweeper started", zap.String("sweeper", name), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logx.Info(ctx, logger, "sweeper stopping", zap.String("sweeper", name))
			return
		case <-ticker.C:
			n, err := run(ctx)
			if err != nil {
				logx.Error(ctx, logger, "sweep failed", zap.String("sweeper", name), zap.Error(err))
				continue
			}
			if n > 0 {
				logx.Info(ctx, logger, "sweep done", zap.String("sweeper", name), zap.Int("orders", n))
			}
		}
	}
}
