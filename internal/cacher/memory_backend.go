package cacher

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process, non-persistent Backend for tests and
// single-node deployments.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]*CachedTile
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]*CachedTile)}
}

func (b *MemoryBackend) GetImpl(ctx context.Context, key string, done func(*CachedTile, error)) {
	b.mu.Lock()
	tile, ok := b.data[key]
	b.mu.Unlock()
	if !ok {
		done(nil, errBackendMiss)
		return
	}
	done(tile, nil)
}

func (b *MemoryBackend) SetImpl(ctx context.Context, key string, tile *CachedTile, expire time.Duration) {
	b.mu.Lock()
	b.data[key] = tile
	b.mu.Unlock()
	if expire > 0 {
		time.AfterFunc(expire, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if cur, ok := b.data[key]; ok && cur == tile {
				delete(b.data, key)
			}
		})
	}
}

func (b *MemoryBackend) TouchImpl(ctx context.Context, key string, expire time.Duration) {
	b.mu.Lock()
	tile, ok := b.data[key]
	b.mu.Unlock()
	if !ok {
		return
	}
	// Store a copy so the expiry timer armed by the earlier SetImpl no
	// longer matches the stored pointer and leaves the entry in place.
	cp := *tile
	b.SetImpl(ctx, key, &cp, expire)
}

var errBackendMiss = &missError{}

type missError struct{}

func (*missError) Error() string { return "cache miss" }
