package orders

import (
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
)

type Order struct {
	ID                string         `json:"id"`
	ExternalID        string         `json:"external_id"`
	CustomerID        string         `json:"customer_id"`
	Status            Status         `json:"status"`
	Items             []LineItem     `json:"items"`
	TotalAmount       int64          `json:"total_amount"`
	PaymentMethod     payment.Method `json:"payment_method"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	PaymentReference  string         `json:"payment_reference,omitempty"`
	AutoApproved      bool           `json:"auto_approved"`
	RefundPending     bool           `json:"refund_pending"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// LineItem keeps the unit price seen when the order was placed.
type LineItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	ReservationID string `json:"reservation_id"`
}

func (li LineItem) Subtotal() int64 { return li.Quantity * li.UnitPrice }

func (o *Order) CalculateTotal() {
	var total int64
	for _, it := range o.Items {
		total += it.Subtotal()
	}
	o.TotalAmount = total
}

// Tokens rebuilds the reservation handles owned by the order.
func (o Order) Tokens() []inventory.Token {
	out := make([]inventory.Token, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Token{
			ID:        it.ReservationID,
			OrderID:   o.ID,
			ProductID: it.ProductID,
			Qty:       it.Quantity,
		})
	}
	return out
}

func (o Order) clone() Order {
	c := o
	c.Items = append([]LineItem(nil), o.Items...)
	return c
}
