package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Gateways resolves the provider serving a payment method.
type Gateways interface {
	ForMethod(m payment.Method) (payment.Gateway, error)
}

// PolicySource is read on every operation; values are never cached.
type PolicySource interface {
	Config() policy.Config
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
}

type CreateInput struct {
	ExternalID string
	CustomerID string
	Method     payment.Method
	Items      []ItemInput
}

// lines validates the input and merges repeated products, keeping the order
// in which each product first appears.
func (in CreateInput) lines() ([]ItemInput, error) {
	if in.ExternalID == "" || in.CustomerID == "" {
		return nil, fmt.Errorf("%w: external_id and customer_id are required", ErrInvalidOrder)
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidOrder, payment.ErrUnsupportedMethod, in.Method)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}

	idx := map[string]int{}
	out := make([]ItemInput, 0, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" || it.Qty <= 0 {
			return nil, fmt.Errorf("%w: item needs a product and a positive qty", ErrInvalidOrder)
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

type Deps struct {
	Repo     Repository
	Tx       TxRunner
	Ledger   inventory.Ledger
	Catalog  inventory.Catalog
	Gateways Gateways
	Policy   PolicySource
	Events   *Events
	Logger   *zap.Logger
	Retry    RetryConfig
	Now      func() time.Time
}

// Service owns every status change of an order. Each change is a version
// guarded write followed, in the same transaction, by its inventory effect.
type Service struct {
	repo     Repository
	tx       TxRunner
	ledger   inventory.Ledger
	catalog  inventory.Catalog
	gateways Gateways
	policy   PolicySource
	events   *Events
	logger   *zap.Logger
	tracer   trace.Tracer
	retry    RetryConfig
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:     d.Repo,
		tx:       d.Tx,
		ledger:   d.Ledger,
		catalog:  d.Catalog,
		gateways: d.Gateways,
		policy:   d.Policy,
		events:   d.Events,
		logger:   d.Logger,
		tracer:   otel.Tracer("orders/service"),
		retry:    d.Retry,
		now:      d.Now,
	}
	if s.tx == nil {
		s.tx = NoTx{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.retry.Attempts == 0 {
		s.retry = DefaultRetryConfig()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// step is one decided transition: the order to write and the ledger effect
// that must happen with it.
type step struct {
	next   Order
	reason string
	effect func(ctx context.Context, o Order) error
}

func invalid(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// apply re-reads the order, lets decide pick a step and writes it under the
// version guard. A nil step means the order already is where decide wants it.
// Version conflicts are retried with backoff.
func (s *Service) apply(ctx context.Context, id, op string, decide func(cur Order) (*step, error)) (Order, bool, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService."+op)
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id))

	var (
		out  Order
		from Status
		done *step
	)
	err := retryOnStale(ctx, s.retry, func() error {
		done = nil
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		st, err := decide(cur)
		if err != nil {
			return err
		}
		if st == nil {
			out = cur
			return nil
		}
		st.next.UpdatedAt = s.now().UTC()

		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			saved, err := s.repo.Update(ctx, st.next, cur.Version)
			if err != nil {
				return err
			}
			if st.effect != nil {
				if err := st.effect(ctx, saved); err != nil {
					return fmt.Errorf("%s: %w", op, err)
				}
			}
			out, from, done = saved, cur.Status, st
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrStaleWrite) {
			logx.Warn(ctx, s.logger, "transition lost every version race",
				zap.String("order_id", id), zap.String("op", op))
		}
		return Order{}, false, err
	}
	if done == nil {
		return out, false, nil
	}

	if from != out.Status {
		logx.Info(ctx, s.logger, "order transitioned",
			zap.String("order_id", out.ID),
			zap.String("from", string(from)),
			zap.String("to", string(out.Status)),
			zap.String("reason", done.reason),
			zap.Int64("version", out.Version),
		)
		s.events.StatusChanged(ctx, from, out, done.reason)
	}
	return out, true, nil
}

func (s *Service) commitAll(ctx context.Context, o Order) error {
	for _, t := range o.Tokens() {
		if err := s.ledger.Commit(ctx, t); err != nil {
			return fmt.Errorf("commit %s: %w", t.ProductID, err)
		}
	}
	return nil
}

func (s *Service) releaseAll(ctx context.Context, o Order) error {
	for _, t := range o.Tokens() {
		if err := s.ledger.Release(ctx, t); err != nil {
			return fmt.Errorf("release %s: %w", t.ProductID, err)
		}
	}
	return nil
}

func (s *Service) restockAll(ctx context.Context, o Order) error {
	for _, it := range o.Items {
		if err := s.ledger.Restock(ctx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("restock %s: %w", it.ProductID, err)
		}
	}
	return nil
}

// dropHeld releases reservations of an order that was never persisted.
func (s *Service) dropHeld(ctx context.Context, held []inventory.Token) {
	for _, t := range held {
		if err := s.ledger.Release(ctx, t); err != nil {
			logx.Warn(ctx, s.logger, "release held reservation",
				zap.String("order_id", t.OrderID),
				zap.String("product_id", t.ProductID),
				zap.Error(err),
			)
		}
	}
}

// Create places an order. A repeated ExternalID returns the stored order with
// existed=true. When any line cannot be reserved nothing is persisted.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, bool, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("external_id", in.ExternalID),
		attribute.Int("items_count", len(in.Items)),
	)

	pol := s.policy.Config()
	if pol.MaintenanceMode {
		return Order{}, false, ErrMaintenance
	}
	lines, err := in.lines()
	if err != nil {
		return Order{}, false, err
	}

	existing, err := s.repo.GetByExternalID(ctx, in.ExternalID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return Order{}, false, err
	}

	now := s.now().UTC()
	o := Order{
		ID:            uuid.NewString(),
		ExternalID:    in.ExternalID,
		CustomerID:    in.CustomerID,
		Status:        StatusCreated,
		PaymentMethod: in.Method,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, l := range lines {
		p, err := s.catalog.Product(ctx, l.ProductID)
		if err != nil {
			return Order{}, false, fmt.Errorf("product %s: %w", l.ProductID, err)
		}
		if !p.IsActive {
			return Order{}, false, fmt.Errorf("product %s: %w", p.ID, inventory.ErrProductInactive)
		}
		o.Items = append(o.Items, LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  l.Qty,
			UnitPrice: p.Price,
		})
	}
	o.CalculateTotal()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		held := make([]inventory.Token, 0, len(o.Items))
		for i := range o.Items {
			tok, err := s.ledger.Reserve(ctx, o.ID, o.Items[i].ProductID, o.Items[i].Quantity)
			if err != nil {
				s.dropHeld(ctx, held)
				return err
			}
			o.Items[i].ReservationID = tok.ID
			held = append(held, tok)
		}
		if err := s.repo.Create(ctx, o); err != nil {
			s.dropHeld(ctx, held)
			return err
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyExists) {
		// lost a race on the same external id
		existing, gerr := s.repo.GetByExternalID(ctx, in.ExternalID)
		if gerr != nil {
			return Order{}, false, gerr
		}
		return existing, true, nil
	}
	if err != nil {
		span.RecordError(err)
		logx.Info(ctx, s.logger, "order rejected",
			zap.String("external_id", in.ExternalID), zap.Error(err))
		return Order{}, false, err
	}

	logx.Info(ctx, s.logger, "order created",
		zap.String("order_id", o.ID),
		zap.String("external_id", o.ExternalID),
		zap.Int64("total_amount", o.TotalAmount),
	)
	s.events.StatusChanged(ctx, "", o, "created")

	if pol.DefaultOrderStatus == policy.DefaultStatusPendingPayment {
		out, err := s.InitiatePayment(ctx, o.ID)
		return out, false, err
	}
	return o, false, nil
}

// InitiatePayment asks the provider for a payment and moves the order to
// PendingPayment. If the provider refuses, the order is cancelled and its
// reservations released.
func (s *Service) InitiatePayment(ctx context.Context, id string) (Order, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	switch cur.Status {
	case StatusPendingPayment:
		return cur, nil
	case StatusCreated:
	default:
		return Order{}, invalid(cur.Status, StatusPendingPayment)
	}

	var ref string
	gw, err := s.gateways.ForMethod(cur.PaymentMethod)
	if err == nil {
		ref, err = gw.Initiate(ctx, payment.InitiateRequest{
			OrderID: cur.ID,
			Amount:  cur.TotalAmount,
			Method:  cur.PaymentMethod,
		})
	}
	if err != nil {
		cause := fmt.Errorf("%w: %v", ErrPaymentInitiation, err)
		logx.Warn(ctx, s.logger, "payment initiation failed",
			zap.String("order_id", id), zap.String("method", string(cur.PaymentMethod)), zap.Error(err))
		cancelled, cerr := s.Cancel(ctx, id, cause.Error())
		if cerr != nil {
			logx.Error(ctx, s.logger, "cancel after failed initiation", zap.String("order_id", id), zap.Error(cerr))
			return Order{}, errors.Join(cause, cerr)
		}
		return cancelled, cause
	}

	o, _, err := s.apply(ctx, id, "InitiatePayment", func(cur Order) (*step, error) {
		if cur.Status == StatusPendingPayment {
			return nil, nil
		}
		if !CanTransition(cur.Status, StatusPendingPayment) {
			return nil, invalid(cur.Status, StatusPendingPayment)
		}
		next := cur.clone()
		next.Status = StatusPendingPayment
		next.ProviderReference = ref
		return &step{next: next, reason: "payment initiated"}, nil
	})
	return o, err
}

// ConfirmPayment records a verified payment and commits the reservations.
// With auto-approve on, the order goes straight on to Processing.
func (s *Service) ConfirmPayment(ctx context.Context, id, paymentRef string) (Order, error) {
	o, applied, err := s.apply(ctx, id, "ConfirmPayment", func(cur Order) (*step, error) {
		if cur.Status == StatusConfirmed {
			return nil, nil
		}
		if !CanTransition(cur.Status, StatusConfirmed) {
			return nil, invalid(cur.Status, StatusConfirmed)
		}
		next := cur.clone()
		next.Status = StatusConfirmed
		next.PaymentReference = paymentRef
		return &step{next: next, reason: "payment confirmed", effect: s.commitAll}, nil
	})
	if err != nil || !applied {
		return o, err
	}

	if s.policy.Config().AutoApproveOrders {
		advanced, err := s.advance(ctx, id, StatusProcessing, true)
		if err != nil {
			logx.Warn(ctx, s.logger, "auto approve", zap.String("order_id", id), zap.Error(err))
			return o, nil
		}
		return advanced, nil
	}
	return o, nil
}

// FailPayment moves a PendingPayment order to PaymentFailed and releases its
// reservations.
func (s *Service) FailPayment(ctx context.Context, id string, cause error) (Order, error) {
	reason := "payment failed"
	if cause != nil {
		reason = cause.Error()
	}
	o, _, err := s.apply(ctx, id, "FailPayment", func(cur Order) (*step, error) {
		if cur.Status == StatusPaymentFailed {
			return nil, nil
		}
		if !CanTransition(cur.Status, StatusPaymentFailed) {
			return nil, invalid(cur.Status, StatusPaymentFailed)
		}
		next := cur.clone()
		next.Status = StatusPaymentFailed
		next.FailureReason = reason
		return &step{next: next, reason: reason, effect: s.releaseAll}, nil
	})
	return o, err
}

// Advance moves a paid order one fulfilment step forward.
func (s *Service) Advance(ctx context.Context, id string, to Status) (Order, error) {
	return s.advance(ctx, id, to, false)
}

func (s *Service) advance(ctx context.Context, id string, to Status, auto bool) (Order, error) {
	switch to {
	case StatusProcessing, StatusShipped, StatusDelivered:
	default:
		return Order{}, fmt.Errorf("%w: %s is not a fulfilment status", ErrInvalidTransition, to)
	}

	o, _, err := s.apply(ctx, id, "Advance", func(cur Order) (*step, error) {
		if cur.Status == to {
			return nil, nil
		}
		if !CanTransition(cur.Status, to) {
			return nil, invalid(cur.Status, to)
		}
		next := cur.clone()
		next.Status = to
		reason := "fulfilment"
		if auto {
			next.AutoApproved = true
			reason = "auto approved"
		}
		return &step{next: next, reason: reason}, nil
	})
	return o, err
}

// Cancel stops an order before Processing. Held reservations are released;
// committed stock is put back and the payment refunded.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Order, error) {
	if reason == "" {
		reason = "cancelled"
	}
	o, applied, err := s.apply(ctx, id, "Cancel", func(cur Order) (*step, error) {
		if cur.Status == StatusCancelled {
			return nil, nil
		}
		if !CanTransition(cur.Status, StatusCancelled) {
			return nil, invalid(cur.Status, StatusCancelled)
		}
		next := cur.clone()
		next.Status = StatusCancelled
		next.FailureReason = reason

		st := &step{reason: reason}
		switch cur.Status {
		case StatusCreated, StatusPendingPayment:
			st.effect = s.releaseAll
		case StatusConfirmed:
			next.RefundPending = true
			st.effect = s.restockAll
		}
		st.next = next
		return st, nil
	})
	if err != nil || !applied {
		return o, err
	}

	if o.RefundPending {
		if err := s.refund(ctx, o); err != nil {
			// order stays Cancelled with refund_pending for an operator to settle
			logx.Error(ctx, s.logger, "refund after cancel", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return o, nil
}

func (s *Service) refund(ctx context.Context, o Order) error {
	gw, err := s.gateways.ForMethod(o.PaymentMethod)
	if err != nil {
		return err
	}
	return gw.Refund(ctx, o.ProviderReference, o.TotalAmount)
}

// RequestRefund flags a paid order as awaiting a refund and asks the provider
// for it. The status only changes once the provider confirms.
func (s *Service) RequestRefund(ctx context.Context, id string) (Order, error) {
	o, applied, err := s.apply(ctx, id, "RequestRefund", func(cur Order) (*step, error) {
		if cur.RefundPending {
			return nil, nil
		}
		if !CanTransition(cur.Status, StatusRefunded) {
			return nil, invalid(cur.Status, StatusRefunded)
		}
		next := cur.clone()
		next.RefundPending = true
		return &step{next: next, reason: "refund requested"}, nil
	})
	if err != nil || !applied {
		return o, err
	}

	if err := s.refund(ctx, o); err != nil {
		cause := fmt.Errorf("%w: %v", ErrRefundFailed, err)
		reverted, _, rerr := s.apply(ctx, id, "RevertRefundRequest", func(cur Order) (*step, error) {
			if !cur.RefundPending {
				return nil, nil
			}
			next := cur.clone()
			next.RefundPending = false
			return &step{next: next, reason: "refund request failed"}, nil
		})
		if rerr != nil {
			logx.Error(ctx, s.logger, "clear refund flag", zap.String("order_id", id), zap.Error(rerr))
			return o, errors.Join(cause, rerr)
		}
		return reverted, cause
	}

	logx.Info(ctx, s.logger, "refund requested", zap.String("order_id", id), zap.Int64("amount", o.TotalAmount))
	return o, nil
}

// CompleteRefund applies the provider's refund confirmation. A cancelled
// order only has its refund flag cleared.
func (s *Service) CompleteRefund(ctx context.Context, id string) (Order, error) {
	o, _, err := s.apply(ctx, id, "CompleteRefund", func(cur Order) (*step, error) {
		if cur.Status == StatusRefunded {
			return nil, nil
		}
		if !cur.RefundPending {
			return nil, fmt.Errorf("%w: order %s", ErrRefundNotRequested, cur.ID)
		}
		next := cur.clone()
		next.RefundPending = false
		if cur.Status == StatusCancelled {
			return &step{next: next, reason: "refund settled"}, nil
		}
		if !CanTransition(cur.Status, StatusRefunded) {
			return nil, invalid(cur.Status, StatusRefunded)
		}
		next.Status = StatusRefunded
		return &step{next: next, reason: "refund confirmed"}, nil
	})
	return o, err
}

// ExpireStale is the timeout path for orders untouched since before cutoff:
// PendingPayment becomes PaymentFailed and Created becomes Cancelled. An
// order touched after cutoff is left alone.
func (s *Service) ExpireStale(ctx context.Context, id string, cutoff time.Time) (Order, error) {
	o, _, err := s.apply(ctx, id, "ExpireStale", func(cur Order) (*step, error) {
		if !cur.UpdatedAt.Before(cutoff) {
			return nil, nil
		}
		next := cur.clone()
		next.FailureReason = ErrReservationTimeout.Error()
		switch cur.Status {
		case StatusPendingPayment:
			next.Status = StatusPaymentFailed
		case StatusCreated:
			next.Status = StatusCancelled
		default:
			return nil, invalid(cur.Status, StatusPaymentFailed)
		}
		return &step{next: next, reason: ErrReservationTimeout.Error(), effect: s.releaseAll}, nil
	})
	return o, err
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.Get(ctx, id)
}
