package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/dataprovider"
	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/render"
	"github.com/atlasdatatech/tileserver/internal/workerpool"
)

type fakeLoader struct {
	data     []byte
	versions map[string]bool
	fail     error
}

func (l *fakeLoader) HasVersion(v string) bool {
	if l.versions == nil {
		return true
	}
	return l.versions[v]
}

func (l *fakeLoader) Load(ctx context.Context, id metatile.TileID, version string, task *asynctask.Task[[]byte]) {
	if l.fail != nil {
		task.CompleteError(l.fail)
		return
	}
	task.CompleteSuccess(l.data)
}

func runTask(t *testing.T, run func(task *asynctask.Task[metatile.Metatile])) (metatile.Metatile, error) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	var out metatile.Metatile
	var outErr error
	task := asynctask.New[metatile.Metatile](func(mt metatile.Metatile) {
		out = mt
		wg.Done()
	}, func(err error) {
		outErr = err
		wg.Done()
	}, nil)
	run(task)
	wg.Wait()
	return out, outErr
}

func TestProcessStaticSucceeds(t *testing.T) {
	tile := metatile.TileID{X: 1, Y: 1, Z: 3}
	id := metatile.New(tile, 1, 1)
	provider := dataprovider.New(&fakeLoader{data: []byte("png-bytes")}, 0, 20, nil)

	req := dispatch.TileRequest{
		TileID:     tile,
		MetatileID: id,
		Endpoint: dispatch.EndpointParams{
			Kind:         dispatch.KindStatic,
			DataProvider: provider,
			MaxZoom:      20,
		},
	}

	p := New(nil)
	out, err := runTask(t, func(task *asynctask.Task[metatile.Metatile]) {
		p.Process(context.Background(), req, task)
	})
	require.NoError(t, err)
	require.Len(t, out.Tiles, 1)
	assert.Equal(t, []byte("png-bytes"), out.Tiles[0].Data)
}

func TestProcessStaticNotFoundPropagates(t *testing.T) {
	tile := metatile.TileID{X: 1, Y: 1, Z: 3}
	id := metatile.New(tile, 1, 1)
	provider := dataprovider.New(&fakeLoader{fail: errs.New(errs.NotFound, "missing")}, 0, 20, nil)

	req := dispatch.TileRequest{
		TileID:     tile,
		MetatileID: id,
		Endpoint: dispatch.EndpointParams{
			Kind:         dispatch.KindStatic,
			DataProvider: provider,
			MaxZoom:      20,
		},
	}

	p := New(nil)
	_, err := runTask(t, func(task *asynctask.Task[metatile.Metatile]) {
		p.Process(context.Background(), req, task)
	})
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func newTestManager(t *testing.T) *render.Manager {
	t.Helper()
	pool := workerpool.New(32)
	m := render.NewManager(pool, render.PlaceholderRenderer{}, render.PlaceholderStyleLoader)
	m.AddWorker()
	m.UpdateStyles([]render.StyleInfo{{Name: "basic", Version: 1}})
	require.Eventually(t, func() bool {
		_, ok := m.ActiveStyle("basic")
		return ok
	}, time.Second, 2*time.Millisecond)
	return m
}

func encodeMVTFixture(t *testing.T) []byte {
	t.Helper()
	f := geojson.NewFeature(orb.Point{100, 100})
	f.Properties = map[string]interface{}{"n": 1}
	layers := mvt.Layers{{Name: "points", Version: 2, Extent: 4096, Features: []*geojson.Feature{f}}}
	data, err := mvt.Marshal(layers)
	require.NoError(t, err)
	return data
}

func TestProcessRenderSucceeds(t *testing.T) {
	m := newTestManager(t)
	p := New(m)

	tile := metatile.TileID{X: 1, Y: 1, Z: 3}
	id := metatile.New(tile, 1, 1)
	provider := dataprovider.New(&fakeLoader{data: encodeMVTFixture(t)}, 0, 20, nil)

	req := dispatch.TileRequest{
		TileID:     tile,
		MetatileID: id,
		Extension:  dispatch.ExtPNG,
		Endpoint: dispatch.EndpointParams{
			Kind:         dispatch.KindRender,
			StyleName:    "basic",
			DataProvider: provider,
			MaxZoom:      20,
		},
	}

	out, err := runTask(t, func(task *asynctask.Task[metatile.Metatile]) {
		p.Process(context.Background(), req, task)
	})
	require.NoError(t, err)
	assert.Len(t, out.Tiles, 1)
}

func TestProcessRenderUnknownStyleFails(t *testing.T) {
	m := newTestManager(t)
	p := New(m)

	tile := metatile.TileID{X: 1, Y: 1, Z: 3}
	id := metatile.New(tile, 1, 1)
	provider := dataprovider.New(&fakeLoader{data: []byte{}}, 0, 20, nil)

	req := dispatch.TileRequest{
		TileID:     tile,
		MetatileID: id,
		Endpoint: dispatch.EndpointParams{
			Kind:         dispatch.KindRender,
			StyleName:    "missing-style",
			DataProvider: provider,
			MaxZoom:      20,
		},
	}

	_, err := runTask(t, func(task *asynctask.Task[metatile.Metatile]) {
		p.Process(context.Background(), req, task)
	})
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestProcessMVTSubtilesFromBaseTile(t *testing.T) {
	m := newTestManager(t)
	p := New(m)

	// Tiles only exist at zoom 4 (zoom group); a request at zoom 6 two
	// levels deeper is served by subtiling from the zoom-4 base tile.
	target := metatile.TileID{X: 4, Y: 4, Z: 6}
	id := metatile.New(target, 1, 1)
	provider := dataprovider.New(&fakeLoader{data: encodeMVTFixture(t)}, 0, 20, metatile.ZoomGroups{4})

	req := dispatch.TileRequest{
		TileID:     target,
		MetatileID: id,
		Endpoint: dispatch.EndpointParams{
			Kind:         dispatch.KindMVT,
			DataProvider: provider,
			MaxZoom:      20,
		},
	}

	out, err := runTask(t, func(task *asynctask.Task[metatile.Metatile]) {
		p.Process(context.Background(), req, task)
	})
	require.NoError(t, err)
	require.Len(t, out.Tiles, 1)
	assert.Equal(t, target, out.Tiles[0].ID)
}

func TestProcessCancellation(t *testing.T) {
	slow := &blockingLoader{release: make(chan struct{})}
	provider := dataprovider.New(slow, 0, 20, nil)

	tile := metatile.TileID{X: 1, Y: 1, Z: 3}
	id := metatile.New(tile, 1, 1)
	req := dispatch.TileRequest{
		TileID:     tile,
		MetatileID: id,
		Endpoint: dispatch.EndpointParams{
			Kind:         dispatch.KindStatic,
			DataProvider: provider,
			MaxZoom:      20,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := New(nil)
	_, err := runTask(t, func(task *asynctask.Task[metatile.Metatile]) {
		p.Process(ctx, req, task)
		cancel()
	})
	require.Error(t, err)
	assert.Equal(t, errs.Timeout, errs.KindOf(err))
	close(slow.release)
}

type blockingLoader struct {
	release chan struct{}
}

func (l *blockingLoader) HasVersion(string) bool { return true }

func (l *blockingLoader) Load(ctx context.Context, id metatile.TileID, version string, task *asynctask.Task[[]byte]) {
	go func() {
		<-l.release
		task.CompleteSuccess([]byte("late"))
	}()
}
