package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Reconciler interface {
	HandleCallback(ctx context.Context, cb reconcile.Callback) (reconcile.Result, error)
}

type CallbacksHandler struct {
	Reconciler Reconciler
	Validate   *validator.Validate
	Logger     *zap.Logger
}

type CallbackReq struct {
	PaymentReference  string `json:"payment_reference" validate:"required"`
	ProviderReference string `json:"provider_reference"`
	OrderID           string `json:"order_id" validate:"required_without=ProviderReference"`
	Amount            int64  `json:"amount" validate:"gte=0"`
	Outcome           string `json:"outcome" validate:"required,oneof=succeeded failed refunded pending"`
}

func (h *CallbacksHandler) Register(r chi.Router) {
	r.Post("/payments/callbacks/{provider}", h.callback)
}

// callback answers 200 whenever the outcome is final, including a rejected
// amount or an unknown order, so the provider stops redelivering. Anything
// it may retry gets a 4xx/5xx.
func (h *CallbacksHandler) callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackReq
	if eb := decode(r, h.Validate, &req); eb != nil {
		writeJSON(w, http.StatusBadRequest, eb)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Reconciler.HandleCallback(ctx, reconcile.Callback{
		ProviderID:         chi.URLParam(r, "provider"),
		PaymentReference:   req.PaymentReference,
		ProviderReference:  req.ProviderReference,
		OrderCorrelationID: req.OrderID,
		Amount:             req.Amount,
		Outcome:            payment.Outcome(req.Outcome),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, reconcile.ErrAmountMismatch), errors.Is(err, reconcile.ErrUnknownCorrelation):
		writeJSON(w, http.StatusOK, res)
	default:
		if statusFor(err) >= http.StatusInternalServerError {
			logx.Error(ctx, h.Logger, "payment callback", zap.Error(err))
		}
		writeError(w, err)
	}
}
