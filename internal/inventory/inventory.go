package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product inactive")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrTokenResolved     = errors.New("reservation already resolved")
	ErrUnknownToken      = errors.New("unknown reservation")
)

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     int64     `json:"price"`
	Stock     int64     `json:"stock"`
	Reserved  int64     `json:"reserved"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Product) Available() int64 { return p.Stock - p.Reserved }

// Token is the handle of one outstanding reservation. The order that received
// it is the only party allowed to commit or release it.
type Token struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
}

// ShortageError details a denied reservation.
type ShortageError struct {
	ProductID string `json:"product_id"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required %d, available %d", e.ProductID, e.Required, e.Available)
}

func (e *ShortageError) Unwrap() error { return ErrInsufficientStock }

type Ledger interface {
	Reserve(ctx context.Context, orderID, productID string, qty int64) (Token, error)
	Commit(ctx context.Context, t Token) error
	Release(ctx context.Context, t Token) error
	Restock(ctx context.Context, productID string, qty int64) error
}

type Catalog interface {
	Product(ctx context.Context, id string) (Product, error)
	Products(ctx context.Context) ([]Product, error)
}

// LowStockAlerter receives a signal when a commit takes stock below threshold.
type LowStockAlerter interface {
	LowStock(ctx context.Context, p Product, threshold int64)
}

// crossedBelow reports whether a stock change from before to after crossed
// the threshold downwards.
func crossedBelow(before, after, threshold int64) bool {
	return before >= threshold && after < threshold
}
