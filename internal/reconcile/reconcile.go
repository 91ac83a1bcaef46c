package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrInvalidCallback    = errors.New("invalid callback")
	ErrAmountMismatch     = errors.New("amount mismatch")
	ErrUnknownCorrelation = errors.New("unknown correlation")
	ErrCallbackInFlight   = errors.New("callback is being processed")
	ErrUnverifiedCallback = errors.New("callback not confirmed by provider")
)

// Callback is one provider notification. PaymentReference identifies the
// payment on the provider side and is the deduplication key.
type Callback struct {
	ProviderID         string          `json:"provider_id"`
	PaymentReference   string          `json:"payment_reference"`
	ProviderReference  string          `json:"provider_reference,omitempty"`
	OrderCorrelationID string          `json:"order_correlation_id,omitempty"`
	Amount             int64           `json:"amount"`
	Outcome            payment.Outcome `json:"outcome"`
}

func (cb Callback) validate() error {
	if cb.ProviderID == "" || cb.PaymentReference == "" {
		return fmt.Errorf("%w: provider and payment reference are required", ErrInvalidCallback)
	}
	if cb.OrderCorrelationID == "" && cb.ProviderReference == "" {
		return fmt.Errorf("%w: no order correlation", ErrInvalidCallback)
	}
	if !cb.Outcome.Valid() {
		return fmt.Errorf("%w: outcome %q", ErrInvalidCallback, cb.Outcome)
	}
	if cb.Amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidCallback)
	}
	return nil
}

func (cb Callback) key() string { return cb.ProviderID + ":" + cb.PaymentReference }

// Result is what a processed callback did. It is stored and handed back
// unchanged on redelivery.
type Result struct {
	ProviderID       string          `json:"provider_id"`
	PaymentReference string          `json:"payment_reference"`
	OrderID          string          `json:"order_id,omitempty"`
	Status           orders.Status   `json:"status,omitempty"`
	Outcome          payment.Outcome `json:"outcome"`
	Reason           string          `json:"reason,omitempty"`
	Duplicate        bool            `json:"duplicate"`
	ProcessedAt      time.Time       `json:"processed_at"`
}

type OrderLookup interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	GetByProviderReference(ctx context.Context, providerRef string) (orders.Order, error)
}

// Transitions is the part of orders.Service driven by callbacks.
type Transitions interface {
	ConfirmPayment(ctx context.Context, id, paymentRef string) (orders.Order, error)
	FailPayment(ctx context.Context, id string, cause error) (orders.Order, error)
	CompleteRefund(ctx context.Context, id string) (orders.Order, error)
}

type Providers interface {
	Provider(id string) (payment.Gateway, error)
	ForMethod(m payment.Method) (payment.Gateway, error)
}

type Deps struct {
	Lookup    OrderLookup
	Orders    Transitions
	Providers Providers
	Ledger    Ledger
	Events    *orders.Events
	Logger    *zap.Logger
	// Verify re-queries providers that implement payment.Verifier before a
	// success is trusted.
	Verify bool
	Now    func() time.Time
}

type Service struct {
	lookup    OrderLookup
	orders    Transitions
	providers Providers
	ledger    Ledger
	events    *orders.Events
	logger    *zap.Logger
	tracer    trace.Tracer
	verify    bool
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		lookup:    d.Lookup,
		orders:    d.Orders,
		providers: d.Providers,
		ledger:    d.Ledger,
		events:    d.Events,
		logger:    d.Logger,
		tracer:    otel.Tracer("reconcile"),
		verify:    d.Verify,
		now:       d.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// HandleCallback applies cb at most once. A redelivered callback gets the
// stored result with Duplicate set and causes no side effects.
//
// ErrAmountMismatch and ErrUnknownCorrelation are final: the result is
// stored and returned together with the error. Any other error leaves the
// callback unprocessed so the provider can redeliver it.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Reconcile.HandleCallback")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider_id", cb.ProviderID),
		attribute.String("payment_reference", cb.PaymentReference),
		attribute.String("outcome", string(cb.Outcome)),
	)

	if err := cb.validate(); err != nil {
		return Result{}, err
	}
	gw, err := s.providers.Provider(cb.ProviderID)
	if err != nil {
		return Result{}, err
	}

	stored, done, err := s.ledger.Claim(ctx, cb.key())
	if err != nil {
		return Result{}, err
	}
	if done {
		stored.Duplicate = true
		logx.Debug(ctx, s.logger, "duplicate callback",
			zap.String("provider_id", cb.ProviderID), zap.String("payment_reference", cb.PaymentReference))
		return stored, nil
	}

	res, keep, err := s.process(ctx, gw, cb)
	if !keep {
		if aerr := s.ledger.Abandon(ctx, cb.key()); aerr != nil {
			logx.Warn(ctx, s.logger, "abandon claim", zap.String("key", cb.key()), zap.Error(aerr))
		}
		if err != nil {
			span.RecordError(err)
		}
		return res, err
	}

	res.ProviderID = cb.ProviderID
	res.PaymentReference = cb.PaymentReference
	res.ProcessedAt = s.now().UTC()
	if cerr := s.ledger.Complete(ctx, cb.key(), res); cerr != nil {
		// the transition is already applied; a redelivery is absorbed by the
		// order state machine
		logx.Error(ctx, s.logger, "store callback result", zap.String("key", cb.key()), zap.Error(cerr))
	}
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// process returns keep=true when the outcome is final and must be stored.
func (s *Service) process(ctx context.Context, gw payment.Gateway, cb Callback) (Result, bool, error) {
	o, err := s.correlate(ctx, cb)
	if err != nil {
		if errors.Is(err, ErrUnknownCorrelation) {
			return s.unknown(ctx, cb, err), true, err
		}
		return Result{}, false, err
	}

	res := Result{OrderID: o.ID, Status: o.Status, Outcome: cb.Outcome}
	outcome, amount := cb.Outcome, cb.Amount

	if outcome == payment.OutcomeSucceeded {
		outcome, amount, err = s.verified(ctx, gw, o, cb)
		if err != nil {
			return res, false, err
		}
		res.Outcome = outcome
	}

	var next orders.Order
	switch outcome {
	case payment.OutcomePending:
		logx.Debug(ctx, s.logger, "payment still pending", zap.String("order_id", o.ID))
		return res, false, nil

	case payment.OutcomeSucceeded:
		// both the callback and the provider record must carry the exact total
		if cb.Amount != o.TotalAmount || amount != o.TotalAmount {
			cause := fmt.Errorf("%w: callback %d, provider %d, order total %d", ErrAmountMismatch, cb.Amount, amount, o.TotalAmount)
			next, err = s.orders.FailPayment(ctx, o.ID, cause)
			if err == nil {
				logx.Warn(ctx, s.logger, "callback amount mismatch",
					zap.String("order_id", o.ID), zap.Int64("amount", cb.Amount), zap.Int64("provider_amount", amount), zap.Int64("total", o.TotalAmount))
				res.Status, res.Reason = next.Status, cause.Error()
				return res, true, cause
			}
		} else {
			next, err = s.orders.ConfirmPayment(ctx, o.ID, cb.PaymentReference)
		}

	case payment.OutcomeFailed:
		next, err = s.orders.FailPayment(ctx, o.ID, fmt.Errorf("provider %s reported failure", cb.ProviderID))

	case payment.OutcomeRefunded:
		next, err = s.orders.CompleteRefund(ctx, o.ID)
	}

	if errors.Is(err, orders.ErrInvalidTransition) {
		// the order moved between correlation and the write, e.g. the
		// timeout sweep got there first
		uerr := fmt.Errorf("%w: %v", ErrUnknownCorrelation, err)
		return s.unknown(ctx, cb, uerr), true, uerr
	}
	if err != nil {
		return res, false, err
	}

	res.Status = next.Status
	logx.Info(ctx, s.logger, "callback applied",
		zap.String("order_id", o.ID),
		zap.String("provider_id", cb.ProviderID),
		zap.String("outcome", string(outcome)),
		zap.String("status", string(next.Status)),
	)
	return res, true, nil
}

// correlate finds the order cb pays for and checks that it is waiting for
// this kind of callback.
func (s *Service) correlate(ctx context.Context, cb Callback) (orders.Order, error) {
	var (
		o   orders.Order
		err = orders.ErrOrderNotFound
	)
	if cb.OrderCorrelationID != "" {
		o, err = s.lookup.Get(ctx, cb.OrderCorrelationID)
	}
	if errors.Is(err, orders.ErrOrderNotFound) && cb.ProviderReference != "" {
		o, err = s.lookup.GetByProviderReference(ctx, cb.ProviderReference)
	}
	if errors.Is(err, orders.ErrOrderNotFound) {
		return orders.Order{}, fmt.Errorf("%w: no such order", ErrUnknownCorrelation)
	}
	if err != nil {
		return orders.Order{}, err
	}

	gw, err := s.providers.ForMethod(o.PaymentMethod)
	if err != nil || gw.ID() != cb.ProviderID {
		return orders.Order{}, fmt.Errorf("%w: order %s is not paid through %s", ErrUnknownCorrelation, o.ID, cb.ProviderID)
	}
	if cb.ProviderReference != "" && o.ProviderReference != "" && cb.ProviderReference != o.ProviderReference {
		return orders.Order{}, fmt.Errorf("%w: provider reference does not match order %s", ErrUnknownCorrelation, o.ID)
	}

	if cb.Outcome == payment.OutcomeRefunded {
		if !o.RefundPending {
			return orders.Order{}, fmt.Errorf("%w: order %s has no refund pending", ErrUnknownCorrelation, o.ID)
		}
		return o, nil
	}
	if o.Status != orders.StatusPendingPayment {
		return orders.Order{}, fmt.Errorf("%w: order %s is %s", ErrUnknownCorrelation, o.ID, o.Status)
	}
	return o, nil
}

// verified asks the provider for the payment state when it can be asked.
// A verified failure replaces the claimed success.
func (s *Service) verified(ctx context.Context, gw payment.Gateway, o orders.Order, cb Callback) (payment.Outcome, int64, error) {
	v, ok := gw.(payment.Verifier)
	if !s.verify || !ok {
		return cb.Outcome, cb.Amount, nil
	}

	got, err := v.Verify(ctx, o.ProviderReference)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnverifiedCallback, err)
	}
	switch got.Outcome {
	case payment.OutcomeSucceeded:
		if got.PaymentReference != "" && got.PaymentReference != cb.PaymentReference {
			return "", 0, fmt.Errorf("%w: payment reference differs from provider record", ErrUnverifiedCallback)
		}
		return payment.OutcomeSucceeded, got.Amount, nil
	case payment.OutcomeFailed:
		logx.Warn(ctx, s.logger, "success callback contradicted by provider",
			zap.String("order_id", o.ID), zap.String("provider_id", cb.ProviderID))
		return payment.OutcomeFailed, got.Amount, nil
	default:
		return "", 0, fmt.Errorf("%w: provider reports %s", ErrUnverifiedCallback, got.Outcome)
	}
}

func (s *Service) unknown(ctx context.Context, cb Callback, cause error) Result {
	logx.Error(ctx, s.logger, "callback matches no waiting order",
		zap.String("provider_id", cb.ProviderID),
		zap.String("payment_reference", cb.PaymentReference),
		zap.String("order_correlation_id", cb.OrderCorrelationID),
		zap.Int64("amount", cb.Amount),
		zap.Error(cause),
	)
	s.events.UnknownCorrelation(ctx, orders.UnknownCorrelationPayload{
		ProviderID:         cb.ProviderID,
		PaymentReference:   cb.PaymentReference,
		OrderCorrelationID: cb.OrderCorrelationID,
		Amount:             cb.Amount,
		Outcome:            string(cb.Outcome),
		Reason:             cause.Error(),
	})
	return Result{OrderID: cb.OrderCorrelationID, Outcome: cb.Outcome, Reason: cause.Error()}
}
