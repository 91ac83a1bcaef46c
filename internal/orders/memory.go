package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	byID  map[string]Order
	byExt map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Order{}, byExt: map[string]string{}}
}

func (r *MemoryRepo) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := r.byExt[o.ExternalID]; ok {
		return ErrAlreadyExists
	}
	r.byID[o.ID] = o.clone()
	r.byExt[o.ExternalID] = o.ID
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o.clone(), nil
}

func (r *MemoryRepo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	r.mu.RLock()
	id, ok := r.byExt[externalID]
	r.mu.RUnlock()
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) GetByProviderReference(_ context.Context, providerRef string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.byID {
		if providerRef != "" && o.ProviderReference == providerRef {
			return o.clone(), nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (r *MemoryRepo) Update(_ context.Context, o Order, expectedVersion int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[o.ID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return Order{}, ErrStaleWrite
	}
	o.Version = expectedVersion + 1
	r.byID[o.ID] = o.clone()
	return o.clone(), nil
}

func (r *MemoryRepo) ListStale(_ context.Context, statuses []Status, updatedBefore time.Time, limit int) ([]Order, error) {
	want := map[Status]bool{}
	for _, s := range statuses {
		want[s] = true
	}

	r.mu.RLock()
	var out []Order
	for _, o := range r.byID {
		if want[o.Status] && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, o.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return ErrOrderNotFound
	}
	delete(r.byID, id)
	delete(r.byExt, o.ExternalID)
	return nil
}

// Put stores o as-is, bypassing the version guard. Used to seed fixtures.
func (r *MemoryRepo) Put(o Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[o.ID] = o.clone()
	r.byExt[o.ExternalID] = o.ID
}
