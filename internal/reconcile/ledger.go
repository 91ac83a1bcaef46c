package reconcile

import (
	"context"
	"sync"
)

// Ledger remembers which callbacks were processed and what came out.
//
// Claim takes the key for the caller. When the key was already completed the
// stored result is returned with done=true; when another caller holds it,
// Claim fails with ErrCallbackInFlight.
type Ledger interface {
	Claim(ctx context.Context, key string) (stored Result, done bool, err error)
	Complete(ctx context.Context, key string, r Result) error
	Abandon(ctx context.Context, key string) error
}

type memEntry struct {
	done bool
	res  Result
}

type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: map[string]memEntry{}}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (Result, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	switch {
	case !ok:
		l.entries[key] = memEntry{}
		return Result{}, false, nil
	case e.done:
		return e.res, true, nil
	default:
		return Result{}, false, ErrCallbackInFlight
	}
}

func (l *MemoryLedger) Complete(_ context.Context, key string, r Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = memEntry{done: true, res: r}
	return nil
}

func (l *MemoryLedger) Abandon(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && !e.done {
		delete(l.entries, key)
	}
	return nil
}
