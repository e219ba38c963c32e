package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryProvider is a process-local Provider backed by ttlcache.
type MemoryProvider struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, []byte]
}

// NewMemoryProvider starts a TTL cache with background expiry.
func NewMemoryProvider() *MemoryProvider {
	items := ttlcache.New(
		ttlcache.WithTTL[string, []byte](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &MemoryProvider{items: items}
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	item := p.items.Get(key)
	if item == nil {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.Value()...), nil
}

// Set stores value under key; a non-positive ttl keeps the entry until deleted.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items.Set(key, append([]byte(nil), value...), normaliseTTL(ttl))
	return nil
}

// SetNX stores value only when key is absent or expired.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items.Get(key) != nil {
		return false, nil
	}
	p.items.Set(key, append([]byte(nil), value...), normaliseTTL(ttl))
	return true, nil
}

func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.items.Delete(key)
	return nil
}

// Close stops the expiry loop.
func (p *MemoryProvider) Close() error {
	p.items.Stop()
	return nil
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}
