package dataprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
)

type fakeLoader struct {
	versions map[string]bool
	tiles    map[metatile.TileID][]byte
	lastLoad metatile.TileID
}

func (f *fakeLoader) HasVersion(v string) bool { return f.versions[v] }

func (f *fakeLoader) Load(ctx context.Context, id metatile.TileID, version string, task *asynctask.Task[[]byte]) {
	f.lastLoad = id
	data, ok := f.tiles[id]
	if !ok {
		task.CompleteError(errs.New(errs.NotFound, "no tile"))
		return
	}
	task.CompleteSuccess(data)
}

func TestGetTileForwardsBaseTile(t *testing.T) {
	loader := &fakeLoader{
		versions: map[string]bool{"v1": true},
		tiles:    map[metatile.TileID][]byte{{X: 10, Y: 12, Z: 5}: []byte("data")},
	}
	p := New(loader, 0, 20, metatile.ZoomGroups{0, 5})

	var got []byte
	task := asynctask.New[[]byte](func(v []byte) { got = v }, func(e error) { t.Fatal(e) }, nil)
	p.GetTile(context.Background(), metatile.TileID{X: 40, Y: 48, Z: 7}, 0, "v1", task)

	assert.Equal(t, []byte("data"), got)
	assert.Equal(t, metatile.TileID{X: 10, Y: 12, Z: 5}, loader.lastLoad)
}

func TestGetTileUnknownVersion(t *testing.T) {
	loader := &fakeLoader{versions: map[string]bool{"v1": true}}
	p := New(loader, 0, 20, nil)

	var gotErr error
	task := asynctask.New[[]byte](nil, func(e error) { gotErr = e }, nil)
	p.GetTile(context.Background(), metatile.TileID{X: 0, Y: 0, Z: 1}, 0, "v2", task)

	require.Error(t, gotErr)
	assert.Equal(t, errs.NotFound, errs.KindOf(gotErr))
}

func TestGetTileOutOfZoomRange(t *testing.T) {
	loader := &fakeLoader{versions: map[string]bool{"v1": true}}
	p := New(loader, 5, 10, nil)

	var gotErr error
	task := asynctask.New[[]byte](nil, func(e error) { gotErr = e }, nil)
	p.GetTile(context.Background(), metatile.TileID{X: 0, Y: 0, Z: 1}, 0, "v1", task)

	require.Error(t, gotErr)
	assert.Equal(t, errs.NotFound, errs.KindOf(gotErr))
}
