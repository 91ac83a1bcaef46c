package policy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGPersister keeps the snapshot in the single-row system_preferences table.
type PGPersister struct{ DB *pgxpool.Pool }

func (p *PGPersister) Load(ctx context.Context) (Snapshot, bool, error) {
	var s Snapshot
	err := p.DB.QueryRow(ctx, `
		SELECT default_order_status, auto_approve_orders, low_stock_threshold,
		       data_retention_period, maintenance_mode, version, updated_at
		FROM system_preferences WHERE id = 1`).
		Scan(&s.Config.DefaultOrderStatus, &s.Config.AutoApproveOrders, &s.Config.LowStockThreshold,
			&s.Config.DataRetentionPeriodDays, &s.Config.MaintenanceMode, &s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (p *PGPersister) Save(ctx context.Context, s Snapshot) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO system_preferences (id, default_order_status, auto_approve_orders, low_stock_threshold,
		                                data_retention_period, maintenance_mode, version, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			default_order_status  = EXCLUDED.default_order_status,
			auto_approve_orders   = EXCLUDED.auto_approve_orders,
			low_stock_threshold   = EXCLUDED.low_stock_threshold,
			data_retention_period = EXCLUDED.data_retention_period,
			maintenance_mode      = EXCLUDED.maintenance_mode,
			version               = EXCLUDED.version,
			updated_at            = EXCLUDED.updated_at`,
		s.Config.DefaultOrderStatus, s.Config.AutoApproveOrders, s.Config.LowStockThreshold,
		s.Config.DataRetentionPeriodDays, s.Config.MaintenanceMode, s.Version, s.UpdatedAt)
	return err
}
