package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"github.com/ariefcatur/schoolmart-orders/internal/reconcile"
	"github.com/go-playground/validator/v10"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, payment.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrStaleWrite),
		errors.Is(err, orders.ErrRefundNotRequested),
		errors.Is(err, inventory.ErrTokenResolved),
		errors.Is(err, reconcile.ErrCallbackInFlight):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, inventory.ErrProductInactive),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, payment.ErrUnsupportedMethod),
		errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, reconcile.ErrInvalidCallback),
		errors.Is(err, reconcile.ErrUnverifiedCallback),
		errors.Is(err, reconcile.ErrAmountMismatch),
		errors.Is(err, reconcile.ErrUnknownCorrelation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrPaymentInitiation),
		errors.Is(err, orders.ErrRefundFailed):
		return http.StatusBadGateway
	case errors.Is(err, orders.ErrMaintenance):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

// decode reads a JSON body into v and runs struct validation on it.
func decode(r *http.Request, validate *validator.Validate, v any) *errorBody {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &errorBody{Error: "invalid json"}
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &errorBody{Error: "validation failed", Fields: formatValidation(verrs)}
		}
		return &errorBody{Error: err.Error()}
	}
	return nil
}

func formatValidation(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "min":
			out[field] = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "gt":
			out[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "gte":
			out[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}
