package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/schoolmart-orders/internal/config"
	kafkax "github.com/ariefcatur/schoolmart-orders/internal/kafka"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/notify"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/ariefcatur/schoolmart-orders/internal/redisx"
	"github.com/ariefcatur/schoolmart-orders/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logx.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notifier stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName+"-notifier", cfg.Env, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	d := &notify.Dispatcher{
		Notifier: &notify.LogNotifier{Logger: logger},
		Logger:   logger,
	}

	if cfg.Storage == config.StorageMemory {
		d.Prefs = notify.NewMemoryPreferences("admin")
	} else {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		d.Prefs = &notify.PGPreferences{DB: db}
	}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		d.Seen = redisx.NewDeduper(rdb, cfg.EventsGroup)
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.EventsGroup, orders.TopicOrderEvents, cfg.Workers, logger)
	logger.Info("notifier consumer started",
		zap.String("group", cfg.EventsGroup),
		zap.String("topic", orders.TopicOrderEvents),
		zap.Int("workers", cfg.Workers),
	)
	return cons.Start(ctx, d.HandleMessage)
}
