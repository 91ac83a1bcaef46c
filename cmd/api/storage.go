package main

import (
	"context"
	"fmt"

	"github.com/ariefcatur/schoolmart-orders/internal/config"
	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/ariefcatur/schoolmart-orders/internal/sweep"
	"go.uber.org/zap"
)

type storage struct {
	repo      orders.Repository
	tx        orders.TxRunner
	ledger    inventory.Ledger
	catalog   inventory.Catalog
	persister policy.Persister
	archiver  sweep.Archiver
	close     func()
}

func openStorage(ctx context.Context, cfg config.Config, threshold func() int64, alerter inventory.LowStockAlerter, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		return memoryStorage(threshold, alerter, logger), nil
	}

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
			return nil, err
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	ledger := inventory.NewPGLedger(db, threshold, alerter, logger)
	return &storage{
		repo:      orders.NewRepo(db),
		tx:        &postgres.TxManager{Pool: db},
		ledger:    ledger,
		catalog:   ledger,
		persister: &policy.PGPersister{DB: db},
		archiver:  &sweep.PGArchiver{DB: db},
		close:     db.Close,
	}, nil
}

// memoryStorage keeps everything in process and seeds a small catalog for
// local runs.
func memoryStorage(threshold func() int64, alerter inventory.LowStockAlerter, logger *zap.Logger) *storage {
	ledger := inventory.NewMemoryLedger(threshold, alerter, logger)
	for _, p := range []inventory.Product{
		{ID: "pencil-hb", Name: "HB pencil", Category: "writing", Price: 500, Stock: 500, IsActive: true},
		{ID: "notebook-a5", Name: "A5 notebook", Category: "paper", Price: 1200, Stock: 200, IsActive: true},
		{ID: "ruler-30", Name: "30cm ruler", Category: "geometry", Price: 750, Stock: 150, IsActive: true},
		{ID: "bag-std", Name: "School bag", Category: "bags", Price: 25000, Stock: 40, IsActive: true},
	} {
		ledger.Upsert(p)
	}
	repo := orders.NewMemoryRepo()
	return &storage{
		repo:     repo,
		tx:       orders.NoTx{},
		ledger:   ledger,
		catalog:  ledger,
		archiver: &sweep.MemoryArchiver{Repo: repo},
		close:    func() {},
	}
}
