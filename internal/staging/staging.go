// Package staging tracks uploaded files that no note references yet, so
// abandoned uploads can be swept once they expire.
package staging

import (
	"context"
	"sync"
	"time"
)

// Registry records staged object names with an expiry.
type Registry interface {
	// Stage records name as unclaimed until expiresAt.
	Stage(ctx context.Context, name string, expiresAt time.Time) error
	// Claim removes names from staging; unknown names are ignored.
	Claim(ctx context.Context, names ...string) error
	// Expired returns at most limit names whose expiry is at or before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

// MemoryRegistry is the in-process Registry used when Redis is not configured.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]time.Time)}
}

func (r *MemoryRegistry) Stage(_ context.Context, name string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = expiresAt
	return nil
}

func (r *MemoryRegistry) Claim(_ context.Context, names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		delete(r.entries, name)
	}
	return nil
}

func (r *MemoryRegistry) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0)
	for name, expiresAt := range r.entries {
		if limit > 0 && len(names) >= limit {
			break
		}
		if !expiresAt.After(now) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *MemoryRegistry) Ping(context.Context) error { return nil }

// Staged reports whether name is currently staged.
func (r *MemoryRegistry) Staged(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}
