package render

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/workerpool"
)

type fakeCompiledStyle struct{ v uint32 }

func (f fakeCompiledStyle) StyleVersion() uint32 { return f.v }

type fakeLoader struct {
	mu        sync.Mutex
	failNames map[string]bool
	loads     int
}

func (l *fakeLoader) Load(s StyleInfo) (CompiledStyle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.failNames[s.Name] {
		return nil, errors.New("compile failed")
	}
	return fakeCompiledStyle{v: s.Version}, nil
}

func newTestManager(t *testing.T, loader StyleLoader, numWorkers int) *Manager {
	t.Helper()
	pool := workerpool.New(64)
	m := NewManager(pool, PlaceholderRenderer{}, loader)
	for i := 0; i < numWorkers; i++ {
		m.AddWorker()
	}
	return m
}

func TestManagerUpdateStylesCommitsOnSuccess(t *testing.T) {
	loader := &fakeLoader{failNames: map[string]bool{}}
	m := newTestManager(t, loader, 3)

	m.UpdateStyles([]StyleInfo{{Name: "basic", Version: 1}})
	require.Eventually(t, func() bool {
		_, ok := m.ActiveStyle("basic")
		return ok
	}, time.Second, 2*time.Millisecond)

	active, ok := m.ActiveStyle("basic")
	require.True(t, ok)
	assert.EqualValues(t, 1, active.Version)
}

func TestManagerUpdateStylesCancelsOnWorkerFailure(t *testing.T) {
	loader := &fakeLoader{failNames: map[string]bool{"broken": true}}
	m := newTestManager(t, loader, 2)

	m.UpdateStyles([]StyleInfo{{Name: "broken", Version: 1}})
	time.Sleep(50 * time.Millisecond)

	_, ok := m.ActiveStyle("broken")
	assert.False(t, ok, "a failed update must not publish an active style")
}

func TestManagerUpdateStylesCoalescesConcurrentRequests(t *testing.T) {
	loader := &fakeLoader{failNames: map[string]bool{}}
	m := newTestManager(t, loader, 2)

	m.UpdateStyles([]StyleInfo{{Name: "a", Version: 1}})
	m.UpdateStyles([]StyleInfo{{Name: "a", Version: 2}})

	require.Eventually(t, func() bool {
		active, ok := m.ActiveStyle("a")
		return ok && active.Version == 2
	}, time.Second, 2*time.Millisecond)
}

func TestManagerRenderDispatchesToWorker(t *testing.T) {
	// PlaceholderRenderer only draws styles compiled by
	// PlaceholderStyleLoader.
	m := newTestManager(t, PlaceholderStyleLoader, 1)

	m.UpdateStyles([]StyleInfo{{Name: "basic", Version: 1}})
	require.Eventually(t, func() bool {
		_, ok := m.ActiveStyle("basic")
		return ok
	}, time.Second, 2*time.Millisecond)

	id := metatile.New(metatile.TileID{X: 0, Y: 0, Z: 2}, 1, 1)
	req := RenderRequest{Metatile: id, StyleName: "basic", Kind: KindPNG}

	var wg sync.WaitGroup
	wg.Add(1)
	var out metatile.Metatile
	var outErr error
	m.Render(req, func(mt metatile.Metatile, err error) {
		out, outErr = mt, err
		wg.Done()
	})
	wg.Wait()

	require.NoError(t, outErr)
	assert.Len(t, out.Tiles, 1)
}

func TestManagerRenderUnknownStyleErrors(t *testing.T) {
	loader := &fakeLoader{failNames: map[string]bool{}}
	m := newTestManager(t, loader, 1)

	id := metatile.New(metatile.TileID{X: 0, Y: 0, Z: 2}, 1, 1)
	req := RenderRequest{Metatile: id, StyleName: "missing", Kind: KindPNG}

	var wg sync.WaitGroup
	wg.Add(1)
	var outErr error
	m.Render(req, func(_ metatile.Metatile, err error) {
		outErr = err
		wg.Done()
	})
	wg.Wait()
	assert.Error(t, outErr)
}
