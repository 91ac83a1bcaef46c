package orders

import (
	"context"
	"time"
)

// Repository persists orders. Update is a compare-and-swap on Version: it
// fails with ErrStaleWrite when the stored version is not expectedVersion.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByExternalID(ctx context.Context, externalID string) (Order, error)
	GetByProviderReference(ctx context.Context, providerRef string) (Order, error)
	Update(ctx context.Context, o Order, expectedVersion int64) (Order, error)
	ListStale(ctx context.Context, statuses []Status, updatedBefore time.Time, limit int) ([]Order, error)
	Delete(ctx context.Context, id string) error
}

// TxRunner runs fn atomically with respect to the repository and the
// inventory ledger.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. The in-memory stores are individually atomic and the
// version guard on Update decides which writer owns the side effects.
type NoTx struct{}

func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
