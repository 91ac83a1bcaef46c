package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type tokenState int

const (
	tokenReserved tokenState = iota
	tokenCommitted
	tokenReleased
)

type productEntry struct {
	mu     sync.Mutex
	p      Product
	tokens map[string]tokenState
}

// MemoryLedger keeps products and reservations in process. Every stock
// mutation of a product happens under that product's lock.
type MemoryLedger struct {
	mu        sync.RWMutex
	products  map[string]*productEntry
	threshold func() int64
	alerter   LowStockAlerter
	logger    *zap.Logger
	now       func() time.Time
}

func NewMemoryLedger(threshold func() int64, alerter LowStockAlerter, logger *zap.Logger) *MemoryLedger {
	return &MemoryLedger{
		products:  map[string]*productEntry{},
		threshold: threshold,
		alerter:   alerter,
		logger:    logger,
		now:       time.Now,
	}
}

// Upsert inserts or replaces catalog data. Outstanding reservations are kept.
func (l *MemoryLedger) Upsert(p Product) {
	now := l.now().UTC()
	l.mu.Lock()
	e, ok := l.products[p.ID]
	if !ok {
		p.Reserved = 0
		p.CreatedAt, p.UpdatedAt = now, now
		l.products[p.ID] = &productEntry{p: p, tokens: map[string]tokenState{}}
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	e.mu.Lock()
	p.Reserved = e.p.Reserved
	p.CreatedAt = e.p.CreatedAt
	p.UpdatedAt = now
	e.p = p
	e.mu.Unlock()
}

func (l *MemoryLedger) entry(id string) (*productEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return e, nil
}

func (l *MemoryLedger) Product(_ context.Context, id string) (Product, error) {
	e, err := l.entry(id)
	if err != nil {
		return Product{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p, nil
}

func (l *MemoryLedger) Products(_ context.Context) ([]Product, error) {
	l.mu.RLock()
	entries := make([]*productEntry, 0, len(l.products))
	for _, e := range l.products {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]Product, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLedger) Reserve(_ context.Context, orderID, productID string, qty int64) (Token, error) {
	if qty <= 0 {
		return Token{}, ErrInvalidQuantity
	}
	e, err := l.entry(productID)
	if err != nil {
		return Token{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.p.IsActive {
		return Token{}, ErrProductInactive
	}
	if avail := e.p.Available(); qty > avail {
		return Token{}, &ShortageError{ProductID: productID, Required: qty, Available: avail}
	}

	t := Token{ID: uuid.NewString(), OrderID: orderID, ProductID: productID, Qty: qty}
	e.p.Reserved += qty
	e.tokens[t.ID] = tokenReserved
	return t, nil
}

// resolve flips a reserved token to state and applies mutate under the
// product lock.
func (l *MemoryLedger) resolve(ctx context.Context, t Token, state tokenState, mutate func(p *Product)) (Product, int64, error) {
	e, err := l.entry(t.ProductID)
	if err != nil {
		return Product{}, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tokens[t.ID]
	if !ok {
		return Product{}, 0, ErrUnknownToken
	}
	if st != tokenReserved {
		logx.DPanic(ctx, l.logger, "reservation resolved twice",
			zap.String("reservation_id", t.ID),
			zap.String("order_id", t.OrderID),
		)
		return Product{}, 0, ErrTokenResolved
	}

	before := e.p.Stock
	mutate(&e.p)
	e.p.UpdatedAt = l.now().UTC()
	e.tokens[t.ID] = state
	return e.p, before, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, t Token) error {
	p, before, err := l.resolve(ctx, t, tokenCommitted, func(p *Product) {
		p.Stock -= t.Qty
		p.Reserved -= t.Qty
	})
	if err != nil {
		return err
	}
	if l.alerter != nil && l.threshold != nil {
		if thr := l.threshold(); crossedBelow(before, p.Stock, thr) {
			l.alerter.LowStock(ctx, p, thr)
		}
	}
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, t Token) error {
	_, _, err := l.resolve(ctx, t, tokenReleased, func(p *Product) {
		p.Reserved -= t.Qty
	})
	return err
}

func (l *MemoryLedger) Restock(_ context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	e, err := l.entry(productID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.p.Stock += qty
	e.p.UpdatedAt = l.now().UTC()
	e.mu.Unlock()
	return nil
}
