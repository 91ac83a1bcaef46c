package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Repo is the Postgres Repository. It joins the caller's transaction when the
// context carries one (see postgres.TxManager).
type Repo struct {
	DB     *pgxpool.Pool
	tracer trace.Tracer
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{DB: db, tracer: otel.Tracer("orders/repo")}
}

const orderColumns = `id, external_id, customer_id, status, payment_method,
	COALESCE(provider_reference, ''), COALESCE(payment_reference, ''),
	auto_approved, refund_pending, failure_reason, total_amount, version, created_at, updated_at`

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repo) Create(ctx context.Context, o Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepo.Create")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", o.ID), attribute.Int("items_count", len(o.Items)))

	tm := &postgres.TxManager{Pool: r.DB}
	err := tm.WithinTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)
		_, err := q.Exec(ctx, `
			INSERT INTO orders (id, external_id, customer_id, status, payment_method, provider_reference,
			                    payment_reference, auto_approved, refund_pending, failure_reason,
			                    total_amount, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			o.ID, o.ExternalID, o.CustomerID, string(o.Status), string(o.PaymentMethod),
			nullable(o.ProviderReference), nullable(o.PaymentReference), o.AutoApproved, o.RefundPending,
			o.FailureReason, o.TotalAmount, o.Version, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}

		for i, it := range o.Items {
			if _, err := q.Exec(ctx, `
				INSERT INTO order_items (order_id, line_no, product_id, name, quantity, unit_price_snapshot, reservation_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				o.ID, i, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.ReservationID); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *Repo) scanOne(ctx context.Context, where string, arg any) (Order, error) {
	q := postgres.Conn(ctx, r.DB)
	var (
		o            Order
		status, meth string
	)
	err := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg).Scan(
		&o.ID, &o.ExternalID, &o.CustomerID, &status, &meth, &o.ProviderReference, &o.PaymentReference,
		&o.AutoApproved, &o.RefundPending, &o.FailureReason, &o.TotalAmount, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.PaymentMethod = payment.Method(meth)

	o.Items, err = r.items(ctx, q, o.ID)
	return o, err
}

func (r *Repo) items(ctx context.Context, q postgres.Querier, orderID string) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, name, quantity, unit_price_snapshot, reservation_id
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice, &it.ReservationID); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.scanOne(ctx, "id = $1", id)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	return r.scanOne(ctx, "external_id = $1", externalID)
}

func (r *Repo) GetByProviderReference(ctx context.Context, providerRef string) (Order, error) {
	if providerRef == "" {
		return Order{}, ErrOrderNotFound
	}
	return r.scanOne(ctx, "provider_reference = $1", providerRef)
}

func (r *Repo) Update(ctx context.Context, o Order, expectedVersion int64) (Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepo.Update")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", o.ID), attribute.String("status", string(o.Status)))

	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE orders SET status = $3, provider_reference = $4, payment_reference = $5,
		                  auto_approved = $6, refund_pending = $7, failure_reason = $8,
		                  updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, expectedVersion, string(o.Status), nullable(o.ProviderReference), nullable(o.PaymentReference),
		o.AutoApproved, o.RefundPending, o.FailureReason, o.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return Order{}, err
	}
	if ct.RowsAffected() == 0 {
		if _, err := r.Get(ctx, o.ID); err != nil {
			return Order{}, err
		}
		return Order{}, ErrStaleWrite
	}
	o.Version = expectedVersion + 1
	return o, nil
}

func (r *Repo) ListStale(ctx context.Context, statuses []Status, updatedBefore time.Time, limit int) ([]Order, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT id FROM orders
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, names, updatedBefore, limitArg(limit))
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
