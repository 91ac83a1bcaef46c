package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (orders.Order, bool, error)
	Get(ctx context.Context, id string) (orders.Order, error)
	InitiatePayment(ctx context.Context, id string) (orders.Order, error)
	Cancel(ctx context.Context, id, reason string) (orders.Order, error)
	Advance(ctx context.Context, id string, to orders.Status) (orders.Order, error)
	RequestRefund(ctx context.Context, id string) (orders.Order, error)
}

// StatusCache is the Redis read-through cache. It may be nil.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, s redisx.CachedStatus) error
	RememberCreate(ctx context.Context, externalID, orderID string) error
	LookupCreate(ctx context.Context, externalID string) (string, bool, error)
}

type OrdersHandler struct {
	Orders   OrderService
	Catalog  inventory.Catalog
	Cache    StatusCache
	Validate *validator.Validate
	Logger   *zap.Logger
}

type ItemReq struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int64  `json:"qty" validate:"gt=0"`
}

type CreateOrderReq struct {
	ExternalID    string    `json:"external_id" validate:"required,max=128"`
	CustomerID    string    `json:"customer_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required,oneof=mobile_money_a mobile_money_b aggregator_pay ussd card"`
	Items         []ItemReq `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

type TransitionReq struct {
	To     orders.Status `json:"to" validate:"required"`
	Reason string        `json:"reason" validate:"max=500"`
}

type CancelReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/pay", h.pay)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/transitions", h.transition)
	r.Post("/orders/{id}/refunds", h.refund)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.Products(ctx)
	if err != nil {
		h.fail(ctx, w, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if eb := decode(r, h.Validate, &req); eb != nil {
		writeJSON(w, http.StatusBadRequest, eb)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast path; the repository stays the source of truth
	if h.Cache != nil {
		if id, ok, err := h.Cache.LookupCreate(ctx, req.ExternalID); err == nil && ok {
			if o, err := h.Orders.Get(ctx, id); err == nil {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: o, Idempotent: true})
				return
			}
		}
	}

	in := orders.CreateInput{
		ExternalID: req.ExternalID,
		CustomerID: req.CustomerID,
		Method:     payment.Method(req.PaymentMethod),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.ItemInput{ProductID: it.ProductID, Qty: it.Qty})
	}

	o, existed, err := h.Orders.Create(ctx, in)
	if err != nil {
		h.fail(ctx, w, "create order", err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.RememberCreate(ctx, req.ExternalID, o.ID); err != nil {
			logx.Warn(ctx, h.Logger, "cache create key", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: o, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if s, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// 2) repository
	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "get order status", err)
		return
	}
	s := redisx.CachedStatus{OrderID: o.ID, Status: o.Status, Version: o.Version, UpdatedAt: o.UpdatedAt}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, s); err != nil {
			logx.Warn(ctx, h.Logger, "cache order status", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.InitiatePayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "initiate payment", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelReq
	if r.ContentLength != 0 {
		if eb := decode(r, h.Validate, &req); eb != nil {
			writeJSON(w, http.StatusBadRequest, eb)
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.Cancel(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(ctx, w, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// transition is the admin entry point. Payment statuses are owned by the
// reconciliation path and cannot be set here.
func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionReq
	if eb := decode(r, h.Validate, &req); eb != nil {
		writeJSON(w, http.StatusBadRequest, eb)
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var (
		o   orders.Order
		err error
	)
	switch req.To {
	case orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered:
		o, err = h.Orders.Advance(ctx, id, req.To)
	case orders.StatusCancelled:
		o, err = h.Orders.Cancel(ctx, id, req.Reason)
	case orders.StatusRefunded:
		o, err = h.Orders.RequestRefund(ctx, id)
	default:
		err = fmt.Errorf("%w: %s cannot be set by an operator", orders.ErrInvalidTransition, req.To)
	}
	if err != nil {
		h.fail(ctx, w, "transition order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.RequestRefund(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "request refund", err)
		return
	}
	writeJSON(w, http.StatusAccepted, o)
}

func (h *OrdersHandler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		logx.Error(ctx, h.Logger, op, zap.Error(err))
	} else {
		logx.Debug(ctx, h.Logger, op, zap.Error(err))
	}
	writeError(w, err)
}
