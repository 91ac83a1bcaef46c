package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/config"
	"github.com/ariefcatur/schoolmart-orders/internal/httpx"
	kafkax "github.com/ariefcatur/schoolmart-orders/internal/kafka"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"github.com/ariefcatur/schoolmart-orders/internal/reconcile"
	"github.com/ariefcatur/schoolmart-orders/internal/redisx"
	"github.com/ariefcatur/schoolmart-orders/internal/sweep"
	"github.com/ariefcatur/schoolmart-orders/internal/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	events := &orders.Events{Producer: cfg.ServiceName, Logger: logger}
	var pubs orders.Publishers

	// Kafka producer
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger)
		pubs = append(pubs, &kafkax.EventPublisher{Producer: prod})
	}

	// Redis
	var (
		rdb   *redis.Client
		cache *redisx.StatusCache
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		cache = redisx.NewStatusCache(rdb)
		pubs = append(pubs, cache)
	}
	events.Publisher = pubs

	var store *policy.Store
	threshold := func() int64 { return store.Config().LowStockThreshold }

	st, err := openStorage(ctx, cfg, threshold, events, logger)
	if err != nil {
		return err
	}
	defer st.close()

	store, err = policy.NewStore(policy.Defaults(), st.persister, logger)
	if err != nil {
		return err
	}
	if _, err := store.Reload(ctx); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	gateways := sandboxGateways(cfg.SandboxProviders, logger)

	svc := orders.NewService(orders.Deps{
		Repo:     st.repo,
		Tx:       st.tx,
		Ledger:   st.ledger,
		Catalog:  st.catalog,
		Gateways: gateways,
		Policy:   store,
		Events:   events,
		Logger:   logger,
	})

	var claims reconcile.Ledger = reconcile.NewMemoryLedger()
	if rdb != nil {
		claims = reconcile.NewRedisLedger(rdb)
	}
	rec := reconcile.NewService(reconcile.Deps{
		Lookup:    st.repo,
		Orders:    svc,
		Providers: gateways,
		Ledger:    claims,
		Events:    events,
		Logger:    logger,
		Verify:    cfg.VerifyCallbacks,
	})

	// HTTP
	validate := validator.New()
	router := httpx.NewRouter(logger, cfg.HTTPTimeout)
	oh := &httpx.OrdersHandler{Orders: svc, Catalog: st.catalog, Validate: validate, Logger: logger}
	if cache != nil {
		oh.Cache = cache
	}
	oh.Register(router)
	(&httpx.CallbacksHandler{Reconciler: rec, Validate: validate, Logger: logger}).Register(router)
	(&httpx.PolicyHandler{Store: store, Validate: validate, Logger: logger}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if prod != nil {
		prod.Start(gctx)
	}

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		(&sweep.TimeoutSweeper{
			Orders:   st.repo,
			Expirer:  svc,
			Timeout:  cfg.PaymentTimeout,
			Interval: cfg.TimeoutSweep,
			Batch:    cfg.RetentionBatch,
			Logger:   logger,
		}).Run(gctx)
		return nil
	})
	g.Go(func() error {
		(&sweep.RetentionSweeper{
			Orders:   st.repo,
			Archiver: st.archiver,
			Policy:   store,
			Interval: cfg.RetentionSweep,
			Batch:    cfg.RetentionBatch,
			Logger:   logger,
		}).Run(gctx)
		return nil
	})

	err = g.Wait()
	if prod != nil {
		prod.WaitClosed()
	}
	return err
}

// sandboxGateways registers one breaker-wrapped sandbox per configured
// provider id. Provider ids double as the payment method they serve.
func sandboxGateways(ids []string, logger *zap.Logger) *payment.Registry {
	reg := payment.NewRegistry()
	for _, id := range ids {
		m := payment.Method(id)
		if !m.Valid() {
			logger.Warn("skip sandbox provider for unknown method", zap.String("provider_id", id))
			continue
		}
		reg.Register(payment.WithBreaker(payment.NewSandbox(id)), m)
	}
	return reg
}
