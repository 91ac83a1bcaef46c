package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const claimedMarker = "claimed:"

// releaseClaim deletes KEYS[1] only while it still holds this caller's claim.
var releaseClaim = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLedger keeps claims in Redis so every api replica sees them. A claim
// that is never completed expires after ClaimTTL.
type RedisLedger struct {
	rdb      *redis.Client
	ClaimTTL time.Duration
	DoneTTL  time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb, ClaimTTL: time.Minute, DoneTTL: redisx.TTLDedup, tokens: map[string]string{}}
}

func (l *RedisLedger) key(k string) string {
	return fmt.Sprintf(redisx.KeyDedup, "reconcile", k)
}

func (l *RedisLedger) Claim(ctx context.Context, key string) (Result, bool, error) {
	k := l.key(key)
	token := claimedMarker + uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, k, token, l.ClaimTTL).Result()
	if err != nil {
		return Result{}, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
		return Result{}, false, nil
	}

	raw, err := l.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) || strings.HasPrefix(raw, claimedMarker) {
		return Result{}, false, ErrCallbackInFlight
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("read claim %s: %w", key, err)
	}

	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Result{}, false, fmt.Errorf("decode claim %s: %w", key, err)
	}
	return r, true, nil
}

func (l *RedisLedger) Complete(ctx context.Context, key string, r Result) error {
	l.take(key)
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, l.key(key), b, l.DoneTTL).Err()
}

// Abandon drops a claim this ledger still holds. A completed result, or a
// claim taken over by another replica after expiry, is left alone.
func (l *RedisLedger) Abandon(ctx context.Context, key string) error {
	token, ok := l.take(key)
	if !ok {
		return nil
	}
	return releaseClaim.Run(ctx, l.rdb, []string{l.key(key)}, token).Err()
}

func (l *RedisLedger) take(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	return token, ok
}
