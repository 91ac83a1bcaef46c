package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type PolicyStore interface {
	Current() policy.Snapshot
	Update(ctx context.Context, cfg policy.Config) (policy.Snapshot, error)
	Reload(ctx context.Context) (policy.Snapshot, error)
}

type PolicyHandler struct {
	Store    PolicyStore
	Validate *validator.Validate
	Logger   *zap.Logger
}

type PolicyReq struct {
	DefaultOrderStatus      string `json:"default_order_status" validate:"required,oneof=CREATED PENDING_PAYMENT"`
	AutoApproveOrders       bool   `json:"auto_approve_orders"`
	LowStockThreshold       int64  `json:"low_stock_threshold" validate:"gte=0"`
	DataRetentionPeriodDays int    `json:"data_retention_period_days" validate:"gte=1"`
	MaintenanceMode         bool   `json:"maintenance_mode"`
}

func (h *PolicyHandler) Register(r chi.Router) {
	r.Get("/admin/policy", h.get)
	r.Put("/admin/policy", h.put)
	r.Post("/admin/policy/reload", h.reload)
}

func (h *PolicyHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Current())
}

func (h *PolicyHandler) put(w http.ResponseWriter, r *http.Request) {
	var req PolicyReq
	if eb := decode(r, h.Validate, &req); eb != nil {
		writeJSON(w, http.StatusBadRequest, eb)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap, err := h.Store.Update(ctx, policy.Config{
		DefaultOrderStatus:      req.DefaultOrderStatus,
		AutoApproveOrders:       req.AutoApproveOrders,
		LowStockThreshold:       req.LowStockThreshold,
		DataRetentionPeriodDays: req.DataRetentionPeriodDays,
		MaintenanceMode:         req.MaintenanceMode,
	})
	if err != nil {
		logx.Warn(ctx, h.Logger, "update policy", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *PolicyHandler) reload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap, err := h.Store.Reload(ctx)
	if err != nil {
		logx.Error(ctx, h.Logger, "reload policy", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
