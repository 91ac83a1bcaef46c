package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []Product
}

func (a *alertRecorder) LowStock(_ context.Context, p Product, _ int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, p)
}

func newLedger(t *testing.T, threshold int64, products ...Product) (*MemoryLedger, *alertRecorder) {
	t.Helper()
	rec := &alertRecorder{}
	l := NewMemoryLedger(func() int64 { return threshold }, rec, zap.NewNop())
	for _, p := range products {
		l.Upsert(p)
	}
	return l, rec
}

func pencil(stock int64) Product {
	return Product{ID: "pencil", Name: "HB pencil", Category: "writing", Price: 500, Stock: stock, IsActive: true}
}

func TestReserveTwoConcurrentOrdersOnlyOneWins(t *testing.T) {
	l, _ := newLedger(t, 0, pencil(5))
	ctx := context.Background()

	var wg sync.WaitGroup
	var granted, denied atomic.Int32
	for _, order := range []string{"o-1", "o-2"} {
		wg.Add(1)
		go func(order string) {
			defer wg.Done()
			_, err := l.Reserve(ctx, order, "pencil", 3)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(order)
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, int32(1), denied.Load())

	p, err := l.Product(ctx, "pencil")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Reserved)
	assert.Equal(t, int64(2), p.Available())
}

func TestConcurrentReservationsNeverExceedStock(t *testing.T) {
	const stock = 50
	l, _ := newLedger(t, 0, pencil(stock))
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []Token
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := l.Reserve(ctx, "o", "pencil", int64(i%4)+1)
			if err != nil {
				return
			}
			mu.Lock()
			tokens = append(tokens, tok)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// commit half, release the rest, concurrently
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok Token) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, l.Commit(ctx, tok))
			} else {
				assert.NoError(t, l.Release(ctx, tok))
			}
		}(i, tok)
	}
	wg.Wait()

	var committed, total int64
	for i, tok := range tokens {
		total += tok.Qty
		if i%2 == 0 {
			committed += tok.Qty
		}
	}
	assert.LessOrEqual(t, total, int64(stock))

	p, err := l.Product(ctx, "pencil")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Reserved)
	assert.Equal(t, stock-committed, p.Stock)
	assert.GreaterOrEqual(t, p.Stock, int64(0))
}

func TestReserveNeverPartial(t *testing.T) {
	l, _ := newLedger(t, 0, pencil(2))

	_, err := l.Reserve(context.Background(), "o-1", "pencil", 3)
	var shortage *ShortageError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, int64(3), shortage.Required)
	assert.Equal(t, int64(2), shortage.Available)

	p, _ := l.Product(context.Background(), "pencil")
	assert.Equal(t, int64(0), p.Reserved)
}

func TestReserveRejectsInactiveUnknownAndBadQty(t *testing.T) {
	inactive := pencil(10)
	inactive.IsActive = false
	l, _ := newLedger(t, 0, inactive)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "o", "pencil", 1)
	assert.ErrorIs(t, err, ErrProductInactive)

	_, err = l.Reserve(ctx, "o", "eraser", 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = l.Reserve(ctx, "o", "pencil", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCommitAndReleaseExactlyOnce(t *testing.T) {
	l, _ := newLedger(t, 0, pencil(10))
	ctx := context.Background()

	tok, err := l.Reserve(ctx, "o-1", "pencil", 4)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, tok))

	assert.ErrorIs(t, l.Commit(ctx, tok), ErrTokenResolved)
	assert.ErrorIs(t, l.Release(ctx, tok), ErrTokenResolved)

	p, _ := l.Product(ctx, "pencil")
	assert.Equal(t, int64(6), p.Stock)
	assert.Equal(t, int64(0), p.Reserved)

	rel, err := l.Reserve(ctx, "o-2", "pencil", 2)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, rel))
	assert.ErrorIs(t, l.Release(ctx, rel), ErrTokenResolved)

	p, _ = l.Product(ctx, "pencil")
	assert.Equal(t, int64(6), p.Stock)
	assert.Equal(t, int64(6), p.Available())

	assert.ErrorIs(t, l.Commit(ctx, Token{ID: "nope", ProductID: "pencil"}), ErrUnknownToken)
}

func TestLowStockAlertOnlyWhenCrossing(t *testing.T) {
	l, rec := newLedger(t, 5, pencil(8))
	ctx := context.Background()

	first, err := l.Reserve(ctx, "o-1", "pencil", 2)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, first)) // 8 -> 6
	assert.Empty(t, rec.alerts)

	second, err := l.Reserve(ctx, "o-2", "pencil", 2)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, second)) // 6 -> 4, crosses 5
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, int64(4), rec.alerts[0].Stock)

	third, err := l.Reserve(ctx, "o-3", "pencil", 1)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, third)) // already below
	assert.Len(t, rec.alerts, 1)
}

func TestRestockAndUpsertKeepReservations(t *testing.T) {
	l, _ := newLedger(t, 0, pencil(3))
	ctx := context.Background()

	_, err := l.Reserve(ctx, "o-1", "pencil", 2)
	require.NoError(t, err)

	require.NoError(t, l.Restock(ctx, "pencil", 4))
	updated := pencil(7)
	updated.Price = 650
	l.Upsert(updated)

	p, err := l.Product(ctx, "pencil")
	require.NoError(t, err)
	assert.Equal(t, int64(650), p.Price)
	assert.Equal(t, int64(2), p.Reserved)
	assert.Equal(t, int64(5), p.Available())

	assert.ErrorIs(t, l.Restock(ctx, "ruler", 1), ErrProductNotFound)
}

func TestProductsSorted(t *testing.T) {
	l, _ := newLedger(t, 0,
		Product{ID: "ruler", IsActive: true},
		Product{ID: "eraser", IsActive: true},
	)
	ps, err := l.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "eraser", ps[0].ID)
}
