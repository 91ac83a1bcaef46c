package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventLowStock           = "LowStock"
	EventUnknownCorrelation = "UnknownCorrelation"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or product_id
	Payload       json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	OrderID          string `json:"order_id"`
	ExternalID       string `json:"external_id"`
	CustomerID       string `json:"customer_id"`
	From             Status `json:"from,omitempty"`
	To               Status `json:"to"`
	Reason           string `json:"reason,omitempty"`
	TotalAmount      int64  `json:"total_amount"`
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference,omitempty"`
	AutoApproved     bool   `json:"auto_approved"`
	Version          int64  `json:"version"`
}

type LowStockPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int64  `json:"stock"`
	Threshold int64  `json:"threshold"`
}

type UnknownCorrelationPayload struct {
	ProviderID         string `json:"provider_id"`
	PaymentReference   string `json:"payment_reference"`
	OrderCorrelationID string `json:"order_correlation_id"`
	Amount             int64  `json:"amount"`
	Outcome            string `json:"outcome"`
	Reason             string `json:"reason"`
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Publishers fans one envelope out to every publisher and returns the first error.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, env Envelope) error {
	var first error
	for _, p := range ps {
		if err := p.Publish(ctx, env); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Events builds envelopes and publishes them. Publish failures are logged,
// never returned: state changes are already durable when events go out.
type Events struct {
	Publisher Publisher
	Producer  string
	Logger    *zap.Logger
}

func (e *Events) emit(ctx context.Context, eventType, correlationID string, payload any) {
	if e == nil || e.Publisher == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logx.Error(ctx, e.Logger, "marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	if err := e.Publisher.Publish(ctx, env); err != nil {
		logx.Warn(ctx, e.Logger, "publish event",
			zap.String("event_type", eventType),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}
}

func (e *Events) StatusChanged(ctx context.Context, from Status, o Order, reason string) {
	e.emit(ctx, EventOrderStatusChanged, o.ID, StatusChangedPayload{
		OrderID:          o.ID,
		ExternalID:       o.ExternalID,
		CustomerID:       o.CustomerID,
		From:             from,
		To:               o.Status,
		Reason:           reason,
		TotalAmount:      o.TotalAmount,
		PaymentMethod:    string(o.PaymentMethod),
		PaymentReference: o.PaymentReference,
		AutoApproved:     o.AutoApproved,
		Version:          o.Version,
	})
}

// LowStock implements inventory.LowStockAlerter.
func (e *Events) LowStock(ctx context.Context, p inventory.Product, threshold int64) {
	e.emit(ctx, EventLowStock, p.ID, LowStockPayload{
		ProductID: p.ID,
		Name:      p.Name,
		Stock:     p.Stock,
		Threshold: threshold,
	})
}

func (e *Events) UnknownCorrelation(ctx context.Context, p UnknownCorrelationPayload) {
	e.emit(ctx, EventUnknownCorrelation, p.OrderCorrelationID, p)
}
