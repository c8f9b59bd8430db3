package cacher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
)

// countingBackend counts GetImpl invocations per key to verify
// single-flight dedup.
type countingBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	tiles   map[string]*CachedTile
	delayed bool
	release chan struct{}
}

func newCountingBackend() *countingBackend {
	return &countingBackend{calls: map[string]int{}, tiles: map[string]*CachedTile{}}
}

func (b *countingBackend) GetImpl(ctx context.Context, key string, done func(*CachedTile, error)) {
	b.mu.Lock()
	b.calls[key]++
	b.mu.Unlock()
	if b.delayed {
		<-b.release
	}
	b.mu.Lock()
	tile, ok := b.tiles[key]
	b.mu.Unlock()
	if !ok {
		done(nil, errBackendMiss)
		return
	}
	done(tile, nil)
}

func (b *countingBackend) SetImpl(ctx context.Context, key string, tile *CachedTile, expire time.Duration) {
	b.mu.Lock()
	b.tiles[key] = tile
	b.mu.Unlock()
}

func (b *countingBackend) TouchImpl(ctx context.Context, key string, expire time.Duration) {}

func TestGetSingleFlightDedup(t *testing.T) {
	backend := newCountingBackend()
	backend.delayed = true
	backend.release = make(chan struct{})
	backend.tiles["k"] = &CachedTile{Data: []byte("v")}

	c := New(backend)

	const n = 10
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		task := asynctask.New[*CachedTile](func(tile *CachedTile) {
			successes.Add(1)
			wg.Done()
		}, func(error) { wg.Done() }, nil)
		c.Get(context.Background(), "k", task)
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	backend.mu.Lock()
	calls := backend.calls["k"]
	backend.mu.Unlock()
	assert.Equal(t, 1, calls, "single-flight: exactly one backend fetch per key")
	assert.EqualValues(t, n, successes.Load())
}

func TestGetTmpCacheHit(t *testing.T) {
	backend := newCountingBackend()
	backend.tiles["k"] = &CachedTile{Data: []byte("v")}
	c := New(backend)

	var wg sync.WaitGroup
	wg.Add(1)
	task := asynctask.New[*CachedTile](func(*CachedTile) { wg.Done() }, func(error) { wg.Done() }, nil)
	c.Get(context.Background(), "k", task)
	wg.Wait()

	// Second get should hit tmp_cache without another backend call.
	wg.Add(1)
	task2 := asynctask.New[*CachedTile](func(*CachedTile) { wg.Done() }, func(error) { wg.Done() }, nil)
	c.Get(context.Background(), "k", task2)
	wg.Wait()

	backend.mu.Lock()
	calls := backend.calls["k"]
	backend.mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestLockUntilSetExclusive(t *testing.T) {
	backend := newCountingBackend()
	c := New(backend)

	lock := c.LockUntilSet([]string{"a", "b"})
	require.NotNil(t, lock)

	lock2 := c.LockUntilSet([]string{"b", "c"})
	assert.Nil(t, lock2, "overlapping lock must fail while held")

	lock.Cancel()

	lock3 := c.LockUntilSet([]string{"b"})
	assert.NotNil(t, lock3, "lock must be available again after cancel")
}

func TestLockUnlockErrorsWaiters(t *testing.T) {
	backend := newCountingBackend()
	c := New(backend)

	lock := c.LockUntilSet([]string{"k"})
	require.NotNil(t, lock)

	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	waiter := asynctask.New[*CachedTile](func(*CachedTile) { wg.Done() }, func(e error) {
		gotErr = e
		wg.Done()
	}, nil)
	c.Get(context.Background(), "k", waiter)

	lock.Unlock()
	wg.Wait()

	require.Error(t, gotErr)
}

func TestSetSatisfiesLockWaitersAndCancelsLockCleanly(t *testing.T) {
	backend := newCountingBackend()
	c := New(backend)

	lock := c.LockUntilSet([]string{"k"})
	require.NotNil(t, lock)

	var got *CachedTile
	var wg sync.WaitGroup
	wg.Add(1)
	waiter := asynctask.New[*CachedTile](func(tile *CachedTile) {
		got = tile
		wg.Done()
	}, func(error) { wg.Done() }, nil)
	c.Get(context.Background(), "k", waiter)

	tile := &CachedTile{Data: []byte("rendered"), Policy: PolicyRegular}
	c.Set(context.Background(), "k", tile, nil)
	lock.Cancel()
	wg.Wait()

	require.NotNil(t, got)
	assert.Equal(t, []byte("rendered"), got.Data)
}

func TestRecordRoundTrip(t *testing.T) {
	tile := &CachedTile{
		Data:    []byte("tile-bytes"),
		Headers: []Header{{Name: "Content-Type", Value: "application/x-protobuf"}},
		Policy:  PolicyExtended,
	}
	encoded := EncodeRecord(tile)
	decoded, err := DecodeRecord(encoded)
	require.NoError(t, err)
	if diff := cmp.Diff(tile, decoded); diff != "" {
		t.Errorf("decoded record diverges from the original (-want +got):\n%s", diff)
	}
}

func TestExpireMapping(t *testing.T) {
	assert.Equal(t, 86400*time.Second, PolicyRegular.Expire())
	assert.Equal(t, 259200*time.Second, PolicyExtended.Expire())
	assert.Equal(t, 20*time.Second, PolicyError.Expire())
}
