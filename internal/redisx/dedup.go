package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed ids per service for TTLDedup.
type Deduper struct {
	rdb     *redis.Client
	service string
}

func NewDeduper(rdb *redis.Client, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service}
}

// Mark records id as processed.
func (d *Deduper) Mark(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, d.service, id), 1, TTLDedup).Err()
}

// Seen checks without marking.
func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, id))
}
