package inventory

import (
	"context"
	"errors"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PGLedger stores stock in products.stock/products.reserved. Reservations are
// granted with a conditional update, so concurrent reservations on one row
// serialize on the row lock and can never push available stock below zero.
type PGLedger struct {
	db        *pgxpool.Pool
	tx        *postgres.TxManager
	threshold func() int64
	alerter   LowStockAlerter
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewPGLedger(db *pgxpool.Pool, threshold func() int64, alerter LowStockAlerter, logger *zap.Logger) *PGLedger {
	return &PGLedger{
		db:        db,
		tx:        &postgres.TxManager{Pool: db},
		threshold: threshold,
		alerter:   alerter,
		logger:    logger,
		tracer:    otel.Tracer("inventory/pg_ledger"),
	}
}

const productColumns = `id, name, category, price, stock, reserved, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Reserved, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (l *PGLedger) Product(ctx context.Context, id string) (Product, error) {
	return scanProduct(postgres.Conn(ctx, l.db).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (l *PGLedger) Products(ctx context.Context) ([]Product, error) {
	rows, err := postgres.Conn(ctx, l.db).Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert writes catalog fields. Reserved units are never touched.
func (l *PGLedger) Upsert(ctx context.Context, p Product) error {
	_, err := postgres.Conn(ctx, l.db).Exec(ctx, `
		INSERT INTO products (id, name, category, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, category = EXCLUDED.category, price = EXCLUDED.price,
			stock = EXCLUDED.stock, is_active = EXCLUDED.is_active, updated_at = NOW()`,
		p.ID, p.Name, p.Category, p.Price, p.Stock, p.IsActive)
	return err
}

func (l *PGLedger) Reserve(ctx context.Context, orderID, productID string, qty int64) (Token, error) {
	ctx, span := l.tracer.Start(ctx, "PGLedger.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productID), attribute.Int64("qty", qty))

	if qty <= 0 {
		return Token{}, ErrInvalidQuantity
	}

	t := Token{ID: uuid.NewString(), OrderID: orderID, ProductID: productID, Qty: qty}
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, l.db)
		ct, err := q.Exec(ctx, `
			UPDATE products SET reserved = reserved + $2, updated_at = NOW()
			WHERE id = $1 AND is_active AND stock - reserved >= $2`, productID, qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return l.diagnose(ctx, productID, qty)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO reservations (id, order_id, product_id, qty, status)
			VALUES ($1, $2, $3, $4, 'RESERVED')`, t.ID, orderID, productID, qty)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Token{}, err
	}
	return t, nil
}

// diagnose explains why the conditional reservation update matched no row.
func (l *PGLedger) diagnose(ctx context.Context, productID string, qty int64) error {
	p, err := l.Product(ctx, productID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return ErrProductInactive
	}
	return &ShortageError{ProductID: productID, Required: qty, Available: p.Available()}
}

// flip moves a reservation out of RESERVED. A miss is a double resolution.
func (l *PGLedger) flip(ctx context.Context, t Token, status string) error {
	var exists bool
	ct, err := postgres.Conn(ctx, l.db).Exec(ctx, `
		UPDATE reservations SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = 'RESERVED'`, t.ID, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if err := postgres.Conn(ctx, l.db).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrUnknownToken
	}
	logx.DPanic(ctx, l.logger, "reservation resolved twice",
		zap.String("reservation_id", t.ID),
		zap.String("order_id", t.OrderID),
	)
	return ErrTokenResolved
}

func (l *PGLedger) Commit(ctx context.Context, t Token) error {
	ctx, span := l.tracer.Start(ctx, "PGLedger.Commit")
	defer span.End()

	var after Product
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := l.flip(ctx, t, "COMMITTED"); err != nil {
			return err
		}
		var err error
		after, err = scanProduct(postgres.Conn(ctx, l.db).QueryRow(ctx, `
			UPDATE products SET stock = stock - $2, reserved = reserved - $2, updated_at = NOW()
			WHERE id = $1
			RETURNING `+productColumns, t.ProductID, t.Qty))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if l.alerter != nil && l.threshold != nil {
		if thr := l.threshold(); crossedBelow(after.Stock+t.Qty, after.Stock, thr) {
			postgres.AfterCommit(ctx, func(ctx context.Context) {
				l.alerter.LowStock(ctx, after, thr)
			})
		}
	}
	return nil
}

func (l *PGLedger) Release(ctx context.Context, t Token) error {
	ctx, span := l.tracer.Start(ctx, "PGLedger.Release")
	defer span.End()

	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := l.flip(ctx, t, "RELEASED"); err != nil {
			return err
		}
		_, err := postgres.Conn(ctx, l.db).Exec(ctx, `
			UPDATE products SET reserved = reserved - $2, updated_at = NOW() WHERE id = $1`,
			t.ProductID, t.Qty)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (l *PGLedger) Restock(ctx context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	ct, err := postgres.Conn(ctx, l.db).Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}
