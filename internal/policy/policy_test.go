package policy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPersister struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
	fail  error
}

func (m *memPersister) Load(context.Context) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{}, false, nil
	}
	return *m.snap, true, nil
}

func (m *memPersister) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.snap = &s
	m.saves++
	return nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"created landing", func(c *Config) { c.DefaultOrderStatus = DefaultStatusCreated }, true},
		{"shipped landing", func(c *Config) { c.DefaultOrderStatus = "SHIPPED" }, false},
		{"negative threshold", func(c *Config) { c.LowStockThreshold = -1 }, false},
		{"zero retention", func(c *Config) { c.DataRetentionPeriodDays = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mod(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			}
		})
	}
}

func TestUpdateSwapsAndBumpsVersion(t *testing.T) {
	p := &memPersister{}
	s, err := NewStore(Defaults(), p, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, int64(1), s.Current().Version)

	cfg := Defaults()
	cfg.AutoApproveOrders = true
	snap, err := s.Update(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(2), snap.Version)
	assert.True(t, s.Config().AutoApproveOrders)
	assert.Equal(t, 1, p.saves)
}

func TestUpdateRejectsInvalidAndKeepsCurrent(t *testing.T) {
	s, err := NewStore(Defaults(), nil, zap.NewNop())
	require.NoError(t, err)

	bad := Defaults()
	bad.DataRetentionPeriodDays = -3
	_, err = s.Update(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, int64(1), s.Current().Version)
	assert.Equal(t, 365, s.Config().DataRetentionPeriodDays)
}

func TestUpdatePersistFailureKeepsCurrent(t *testing.T) {
	p := &memPersister{fail: errors.New("db down")}
	s, err := NewStore(Defaults(), p, zap.NewNop())
	require.NoError(t, err)

	cfg := Defaults()
	cfg.MaintenanceMode = true
	_, err = s.Update(context.Background(), cfg)
	require.Error(t, err)
	assert.False(t, s.Config().MaintenanceMode)
}

func TestReload(t *testing.T) {
	p := &memPersister{}
	s, err := NewStore(Defaults(), p, zap.NewNop())
	require.NoError(t, err)

	// nothing persisted yet: current snapshot is seeded
	_, err = s.Reload(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p.snap)

	changed := *p.snap
	changed.Version = 7
	changed.Config.LowStockThreshold = 3
	p.snap = &changed

	snap, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, int64(3), s.Config().LowStockThreshold)
}

func TestConcurrentReadsDuringUpdates(t *testing.T) {
	s, err := NewStore(Defaults(), nil, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := Defaults()
			cfg.LowStockThreshold = int64(i)
			_, _ = s.Update(context.Background(), cfg)
			_ = s.Current()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(9), s.Current().Version)
}
