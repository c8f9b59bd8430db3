package cacher

import (
	"context"
	"sync"
	"time"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
)

// Cacher implements single-flight get, lock-until-set coordination, and
// a post-write short-term memory on top of a pluggable Backend
// (SPEC_FULL.md §4.7). Grounded on original_source/src/couchbase_cacher.h's
// get_waiters_/set_waiters_/tmp_cache_ shape.
type Cacher struct {
	backend Backend

	mu         sync.Mutex
	tmpCache   map[string]*CachedTile
	getWaiters map[string][]*asynctask.Task[*CachedTile]
	setWaiters map[string][]*asynctask.Task[*CachedTile]
}

// New constructs a Cacher backed by the given Backend.
func New(backend Backend) *Cacher {
	return &Cacher{
		backend:    backend,
		tmpCache:   make(map[string]*CachedTile),
		getWaiters: make(map[string][]*asynctask.Task[*CachedTile]),
		setWaiters: make(map[string][]*asynctask.Task[*CachedTile]),
	}
}

// Get implements the single-flight get algorithm of SPEC_FULL.md §4.7.
func (c *Cacher) Get(ctx context.Context, key string, task *asynctask.Task[*CachedTile]) {
	c.mu.Lock()
	if tile, ok := c.tmpCache[key]; ok {
		c.mu.Unlock()
		task.CompleteSuccess(tile)
		return
	}
	if _, locked := c.setWaiters[key]; locked {
		c.setWaiters[key] = append(c.setWaiters[key], task)
		c.mu.Unlock()
		return
	}
	if _, inFlight := c.getWaiters[key]; inFlight {
		c.getWaiters[key] = append(c.getWaiters[key], task)
		c.mu.Unlock()
		return
	}
	c.getWaiters[key] = []*asynctask.Task[*CachedTile]{task}
	c.mu.Unlock()

	go c.backend.GetImpl(ctx, key, func(tile *CachedTile, err error) {
		if err != nil {
			c.onRetrieveError(key)
			return
		}
		c.onRetrieved(key, tile)
	})
}

func (c *Cacher) onRetrieved(key string, tile *CachedTile) {
	c.mu.Lock()
	waiters := c.getWaiters[key]
	delete(c.getWaiters, key)
	c.tmpCache[key] = tile
	c.mu.Unlock()

	for _, w := range waiters {
		w.CompleteSuccess(tile)
	}
	c.scheduleTmpCacheRemoval(key, tile)
}

func (c *Cacher) onRetrieveError(key string) {
	c.mu.Lock()
	waiters := c.getWaiters[key]
	delete(c.getWaiters, key)
	c.mu.Unlock()

	for _, w := range waiters {
		w.CompleteError(errRetrieveFailed)
	}
}

func (c *Cacher) scheduleTmpCacheRemoval(key string, published *CachedTile) {
	time.AfterFunc(tmpCacheGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if current, ok := c.tmpCache[key]; ok && current == published {
			delete(c.tmpCache, key)
		}
	})
}

// Lock is a held reservation over a set of cache keys, returned by
// LockUntilSet. Exactly one of Unlock or Cancel must be called.
type Lock struct {
	keys   []string
	cacher *Cacher
}

// LockUntilSet reserves keys so concurrent readers wait instead of
// triggering redundant backend fetches or redundant renders. Returns nil
// if any key in keys is already locked by someone else.
func (c *Cacher) LockUntilSet(keys []string) *Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if _, locked := c.setWaiters[k]; locked {
			return nil
		}
	}
	for _, k := range keys {
		c.setWaiters[k] = nil
	}
	return &Lock{keys: keys, cacher: c}
}

// Unlock releases the lock, completing every accumulated waiter with an
// error so they fall back to re-lookup. Use when generation failed
// without ever calling Set.
func (l *Lock) Unlock() {
	c := l.cacher
	c.mu.Lock()
	var allWaiters []*asynctask.Task[*CachedTile]
	for _, k := range l.keys {
		allWaiters = append(allWaiters, c.setWaiters[k]...)
		delete(c.setWaiters, k)
	}
	c.mu.Unlock()
	for _, w := range allWaiters {
		w.CompleteError(errLockReleasedWithoutSet)
	}
}

// Cancel releases the lock without erroring waiters — used after a
// successful Set, which has already signaled them directly.
func (l *Lock) Cancel() {
	c := l.cacher
	c.mu.Lock()
	for _, k := range l.keys {
		delete(c.setWaiters, k)
	}
	c.mu.Unlock()
}

// Set writes a cached tile, satisfies any set-waiters on key, and
// dispatches the write to the backend (SPEC_FULL.md §4.7 "Set").
func (c *Cacher) Set(ctx context.Context, key string, tile *CachedTile, task *asynctask.Task[*CachedTile]) {
	c.mu.Lock()
	c.tmpCache[key] = tile
	// Only a held lock keeps its entry; a Set after the lock was released
	// must not leave behind a lock that no Unlock or Cancel will clear.
	waiters, locked := c.setWaiters[key]
	if locked {
		c.setWaiters[key] = nil
	}
	c.mu.Unlock()

	for _, w := range waiters {
		w.CompleteSuccess(tile)
	}

	expire := tile.Policy.Expire()
	go c.backend.SetImpl(ctx, key, tile, expire)
	c.scheduleTmpCacheRemoval(key, tile)

	if task != nil {
		task.CompleteSuccess(tile)
	}
}

// Touch refreshes a key's TTL in the backend without altering tmp_cache
// or waiter state.
func (c *Cacher) Touch(ctx context.Context, key string, expire time.Duration) {
	go c.backend.TouchImpl(ctx, key, expire)
}
