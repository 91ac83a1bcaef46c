package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/schoolmart-orders/internal/kafka"
	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

type CachedStatus struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	Version   int64         `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps order_status:{id} fresh from OrderStatusChanged events.
// It implements orders.Publisher so it can sit next to the Kafka publisher.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func (c *StatusCache) Publish(ctx context.Context, env orders.Envelope) error {
	if env.EventType != orders.EventOrderStatusChanged {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}
	return c.Put(ctx, CachedStatus{
		OrderID:   p.OrderID,
		Status:    p.To,
		Version:   p.Version,
		UpdatedAt: env.OccurredAt,
	})
}

// Put stores s unless the cache already holds a newer version.
func (c *StatusCache) Put(ctx context.Context, s CachedStatus) error {
	cur, ok, err := c.Get(ctx, s.OrderID)
	if err != nil {
		return err
	}
	if ok && cur.Version > s.Version {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, s.OrderID), b, TTLStatusCache).Err()
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var s CachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return CachedStatus{}, false, err
	}
	return s, true, nil
}

// RememberCreate maps a client external id to the order it created.
func (c *StatusCache) RememberCreate(ctx context.Context, externalID, orderID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

func (c *StatusCache) LookupCreate(ctx context.Context, externalID string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
