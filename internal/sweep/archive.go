package sweep

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryArchiver keeps archived orders in process and deletes them from
// the repository.
type MemoryArchiver struct {
	Repo orders.Repository

	mu       sync.Mutex
	archived map[string]orders.Order
}

func (a *MemoryArchiver) Archive(ctx context.Context, o orders.Order) error {
	a.mu.Lock()
	if a.archived == nil {
		a.archived = map[string]orders.Order{}
	}
	a.archived[o.ID] = o
	a.mu.Unlock()
	return a.Repo.Delete(ctx, o.ID)
}

func (a *MemoryArchiver) Archived(id string) (orders.Order, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.archived[id]
	return o, ok
}

// PGArchiver copies the order into orders_archive as JSONB and deletes the
// active row in the same transaction.
type PGArchiver struct {
	DB *pgxpool.Pool
}

func (a *PGArchiver) Archive(ctx context.Context, o orders.Order) error {
	snap, err := json.Marshal(o)
	if err != nil {
		return err
	}
	tm := &postgres.TxManager{Pool: a.DB}
	return tm.WithinTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, a.DB)
		if _, err := q.Exec(ctx, `
			INSERT INTO orders_archive (id, snapshot) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`, o.ID, snap); err != nil {
			return err
		}
		ct, err := q.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND version = $2`, o.ID, o.Version)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return orders.ErrStaleWrite
		}
		return nil
	})
}
