package notify

import (
	"context"
	"encoding/json"
	"sort"

	kafkax "github.com/ariefcatur/schoolmart-orders/internal/kafka"
	"github.com/ariefcatur/schoolmart-orders/internal/logx"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"go.uber.org/zap"
)

type Category string

const (
	CategoryOrderUpdates    Category = "order_updates"
	CategoryPaymentUpdates  Category = "payment_updates"
	CategoryDeliveryUpdates Category = "delivery_updates"
	CategoryInventoryAlerts Category = "inventory_alerts"
	CategoryOperatorAlerts  Category = "operator_alerts"
)

var Categories = []Category{
	CategoryOrderUpdates, CategoryPaymentUpdates, CategoryDeliveryUpdates,
	CategoryInventoryAlerts, CategoryOperatorAlerts,
}

func (c Category) Valid() bool {
	for _, x := range Categories {
		if c == x {
			return true
		}
	}
	return false
}

// Categorize maps an event to the preference category that gates it.
func Categorize(env orders.Envelope) (Category, bool) {
	switch env.EventType {
	case orders.EventLowStock:
		return CategoryInventoryAlerts, true
	case orders.EventUnknownCorrelation:
		return CategoryOperatorAlerts, true
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			return "", false
		}
		switch p.To {
		case orders.StatusConfirmed, orders.StatusPaymentFailed, orders.StatusRefunded:
			return CategoryPaymentUpdates, true
		case orders.StatusShipped, orders.StatusDelivered:
			return CategoryDeliveryUpdates, true
		default:
			return CategoryOrderUpdates, true
		}
	}
	return "", false
}

// Preferences holds an admin's explicit choices. A category without an
// entry is enabled.
type Preferences map[Category]bool

func (p Preferences) Enabled(c Category) bool {
	v, ok := p[c]
	return !ok || v
}

// PreferenceStore lists every admin that can receive notifications.
type PreferenceStore interface {
	All(ctx context.Context) (map[string]Preferences, error)
}

// Notifier delivers one notification. Transport is up to the implementation.
type Notifier interface {
	Notify(ctx context.Context, adminID string, category Category, payload json.RawMessage) error
}

// Seen tracks dispatched event ids. Mark is called only after a dispatch
// went through, so a failed attempt is retried on redelivery.
type Seen interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Dispatcher struct {
	Prefs    PreferenceStore
	Notifier Notifier
	Seen     Seen
	Logger   *zap.Logger
}

// Dispatch sends env to every admin that has its category enabled. Delivery
// failures are logged per admin; only a failing preference read is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, env orders.Envelope) error {
	cat, ok := Categorize(env)
	if !ok {
		logx.Debug(ctx, d.Logger, "event has no notification category",
			zap.String("event_type", env.EventType), zap.String("event_id", env.EventID))
		return nil
	}

	dedup := d.Seen != nil && env.EventID != ""
	if dedup {
		seen, err := d.Seen.Seen(ctx, env.EventID)
		if err != nil {
			logx.Warn(ctx, d.Logger, "dedup check", zap.String("event_id", env.EventID), zap.Error(err))
		} else if seen {
			return nil
		}
	}

	all, err := d.Prefs.All(ctx)
	if err != nil {
		return err
	}
	admins := make([]string, 0, len(all))
	for id := range all {
		admins = append(admins, id)
	}
	sort.Strings(admins)

	for _, id := range admins {
		if !all[id].Enabled(cat) {
			continue
		}
		if err := d.Notifier.Notify(ctx, id, cat, env.Payload); err != nil {
			logx.Warn(ctx, d.Logger, "notify admin",
				zap.String("admin_id", id),
				zap.String("category", string(cat)),
				zap.String("event_id", env.EventID),
				zap.Error(err),
			)
		}
	}

	if dedup {
		if err := d.Seen.Mark(ctx, env.EventID); err != nil {
			logx.Warn(ctx, d.Logger, "dedup mark", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	return nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, adminID string, category Category, payload json.RawMessage) error {
	logx.Info(ctx, n.Logger, "notification",
		zap.String("admin_id", adminID),
		zap.String("category", string(category)),
		zap.ByteString("payload", payload),
	)
	return nil
}
