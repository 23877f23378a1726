package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryProvider implements Provider with an in-process store. It serves
// single-node deployments and localdev where a Valkey endpoint is not
// worth running.
type MemoryProvider struct {
	store *gocache.Cache
}

// NewMemoryProvider creates a Provider whose entries default to defaultTTL.
func NewMemoryProvider(defaultTTL time.Duration) *MemoryProvider {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &MemoryProvider{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *MemoryProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := p.store.Get(key); ok {
		if data, ok := v.([]byte); ok {
			return append([]byte(nil), data...), nil
		}
	}
	return nil, ErrCacheMiss
}

// Set stores bytes with the provided TTL.
func (p *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	p.store.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Del removes a key from the cache.
func (p *MemoryProvider) Del(ctx context.Context, key string) error {
	p.store.Delete(key)
	return nil
}

// Close is a no-op for the in-process cache.
func (p *MemoryProvider) Close() error { return nil }
