package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Order statuses accepted as the landing status of a new order.
const (
	DefaultStatusCreated        = "CREATED"
	DefaultStatusPendingPayment = "PENDING_PAYMENT"
)

type Config struct {
	DefaultOrderStatus      string `json:"default_order_status"`
	AutoApproveOrders       bool   `json:"auto_approve_orders"`
	LowStockThreshold       int64  `json:"low_stock_threshold"`
	DataRetentionPeriodDays int    `json:"data_retention_period_days"`
	MaintenanceMode         bool   `json:"maintenance_mode"`
}

func Defaults() Config {
	return Config{
		DefaultOrderStatus:      DefaultStatusPendingPayment,
		AutoApproveOrders:       false,
		LowStockThreshold:       10,
		DataRetentionPeriodDays: 365,
	}
}

func (c Config) Validate() error {
	switch c.DefaultOrderStatus {
	case DefaultStatusCreated, DefaultStatusPendingPayment:
	default:
		return fmt.Errorf("%w: default order status %q", ErrInvalidPolicy, c.DefaultOrderStatus)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low stock threshold must not be negative", ErrInvalidPolicy)
	}
	if c.DataRetentionPeriodDays < 1 {
		return fmt.Errorf("%w: retention period must be at least one day", ErrInvalidPolicy)
	}
	return nil
}

// RetentionPeriod is the retention window as a duration.
func (c Config) RetentionPeriod() time.Duration {
	return time.Duration(c.DataRetentionPeriodDays) * 24 * time.Hour
}

type Snapshot struct {
	Config    Config    `json:"config"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Persister stores the active snapshot. Load reports found=false when nothing
// has been stored yet.
type Persister interface {
	Load(ctx context.Context) (snap Snapshot, found bool, err error)
	Save(ctx context.Context, snap Snapshot) error
}

// Store holds the active policy. Reads are lock-free; writes go through
// Update or Reload and swap the whole snapshot.
type Store struct {
	cur       atomic.Pointer[Snapshot]
	mu        sync.Mutex
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore seeds the store with initial. persister may be nil.
func NewStore(initial Config, persister Persister, logger *zap.Logger) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{persister: persister, logger: logger, now: time.Now}
	s.cur.Store(&Snapshot{Config: initial, Version: 1, UpdatedAt: s.now().UTC()})
	return s, nil
}

func (s *Store) Current() Snapshot { return *s.cur.Load() }

func (s *Store) Config() Config { return s.cur.Load().Config }

func (s *Store) Update(ctx context.Context, cfg Config) (Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	next := &Snapshot{Config: cfg, Version: prev.Version + 1, UpdatedAt: s.now().UTC()}
	if s.persister != nil {
		if err := s.persister.Save(ctx, *next); err != nil {
			return Snapshot{}, fmt.Errorf("save policy: %w", err)
		}
	}
	s.cur.Store(next)

	s.logger.Info("policy updated",
		zap.Int64("version", next.Version),
		zap.Bool("auto_approve", cfg.AutoApproveOrders),
		zap.Int64("low_stock_threshold", cfg.LowStockThreshold),
		zap.Int("retention_days", cfg.DataRetentionPeriodDays),
		zap.Bool("maintenance", cfg.MaintenanceMode),
	)
	return *next, nil
}

// Reload replaces the active snapshot with the persisted one when the
// persisted version differs. Without a persister it is a no-op.
func (s *Store) Reload(ctx context.Context) (Snapshot, error) {
	if s.persister == nil {
		return s.Current(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, found, err := s.persister.Load(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load policy: %w", err)
	}
	if !found {
		cur := *s.cur.Load()
		if err := s.persister.Save(ctx, cur); err != nil {
			return Snapshot{}, fmt.Errorf("seed policy: %w", err)
		}
		return cur, nil
	}
	if err := snap.Config.Validate(); err != nil {
		return Snapshot{}, err
	}
	if snap.Version != s.cur.Load().Version {
		s.cur.Store(&snap)
		s.logger.Info("policy reloaded", zap.Int64("version", snap.Version))
	}
	return snap, nil
}
