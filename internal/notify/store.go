package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MemoryPreferences struct {
	mu     sync.RWMutex
	admins map[string]Preferences
}

func NewMemoryPreferences(admins ...string) *MemoryPreferences {
	m := &MemoryPreferences{admins: map[string]Preferences{}}
	for _, a := range admins {
		m.admins[a] = Preferences{}
	}
	return m
}

// Set records a choice, registering the admin when needed.
func (m *MemoryPreferences) Set(adminID string, c Category, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.admins[adminID]
	if !ok {
		p = Preferences{}
		m.admins[adminID] = p
	}
	p[c] = enabled
}

func (m *MemoryPreferences) All(context.Context) (map[string]Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Preferences, len(m.admins))
	for id, p := range m.admins {
		cp := make(Preferences, len(p))
		for c, v := range p {
			cp[c] = v
		}
		out[id] = cp
	}
	return out, nil
}

// PGPreferences reads active admins and their notification_preferences rows.
type PGPreferences struct{ DB *pgxpool.Pool }

func (s *PGPreferences) All(ctx context.Context) (map[string]Preferences, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT a.id, COALESCE(p.category, ''), COALESCE(p.enabled, TRUE)
		FROM admins a
		LEFT JOIN notification_preferences p ON p.admin_id = a.id
		WHERE a.active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Preferences{}
	for rows.Next() {
		var (
			id, cat string
			enabled bool
		)
		if err := rows.Scan(&id, &cat, &enabled); err != nil {
			return nil, err
		}
		p, ok := out[id]
		if !ok {
			p = Preferences{}
			out[id] = p
		}
		if cat != "" {
			p[Category(cat)] = enabled
		}
	}
	return out, rows.Err()
}

func (s *PGPreferences) Set(ctx context.Context, adminID string, c Category, enabled bool) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category %q", c)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notification_preferences (admin_id, category, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (admin_id, category) DO UPDATE SET enabled = EXCLUDED.enabled`,
		adminID, string(c), enabled)
	return err
}
