package tileloader

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
)

func TestIndexInterleaveStartsWithX(t *testing.T) {
	// x=1 (bit0 set), y=0 -> result bit0 set, bit1 clear -> index 1
	assert.EqualValues(t, 1, Index(1, 0))
	// x=0, y=1 -> result bit1 set -> index 2
	assert.EqualValues(t, 2, Index(0, 1))
	// x=1, y=1 -> bits 0 and 1 set -> index 3
	assert.EqualValues(t, 3, Index(1, 1))
}

func TestBlockAndSeq(t *testing.T) {
	idx := Index(500, 500)
	assert.Equal(t, idx/blockSize, Block(idx))
	assert.Equal(t, idx%blockSize, Seq(idx))
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestKVLoaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kv, err := OpenKV(filepath.Join(dir, "tiles.db"), []string{"v1"})
	require.NoError(t, err)
	defer kv.Close()

	id := metatile.TileID{X: 10, Y: 12, Z: 5}
	payload := gzipBytes(t, []byte("hello tile"))
	require.NoError(t, kv.Put(id, "v1", payload))

	var got []byte
	var gotErr error
	task := asynctask.New[[]byte](func(v []byte) { got = v }, func(e error) { gotErr = e }, nil)
	kv.Load(context.Background(), id, "v1", task)

	require.NoError(t, gotErr)
	assert.Equal(t, []byte("hello tile"), got)
}

func TestKVLoaderUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	kv, err := OpenKV(filepath.Join(dir, "tiles.db"), []string{"v1"})
	require.NoError(t, err)
	defer kv.Close()

	var gotErr error
	task := asynctask.New[[]byte](nil, func(e error) { gotErr = e }, nil)
	kv.Load(context.Background(), metatile.TileID{}, "v2", task)

	require.Error(t, gotErr)
	assert.Equal(t, errs.NotFound, errs.KindOf(gotErr))
}

func TestKVLoaderMissingTile(t *testing.T) {
	dir := t.TempDir()
	kv, err := OpenKV(filepath.Join(dir, "tiles.db"), []string{"v1"})
	require.NoError(t, err)
	defer kv.Close()

	var gotErr error
	task := asynctask.New[[]byte](nil, func(e error) { gotErr = e }, nil)
	kv.Load(context.Background(), metatile.TileID{X: 1, Y: 1, Z: 1}, "v1", task)

	require.Error(t, gotErr)
	assert.Equal(t, errs.NotFound, errs.KindOf(gotErr))
}

func TestFSLoaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	id := metatile.TileID{X: 3, Y: 4, Z: 2}
	tilePath := filepath.Join(dir, "v1", "2", "3")
	require.NoError(t, os.MkdirAll(tilePath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tilePath, "4.mvt"), []byte("raw mvt"), 0o644))

	loader := OpenFS(dir, []string{"v1"})
	var got []byte
	task := asynctask.New[[]byte](func(v []byte) { got = v }, func(e error) { t.Fatal(e) }, nil)
	loader.Load(context.Background(), id, "v1", task)
	assert.Equal(t, []byte("raw mvt"), got)
}

func TestFSLoaderNotFound(t *testing.T) {
	dir := t.TempDir()
	loader := OpenFS(dir, []string{"v1"})
	var gotErr error
	task := asynctask.New[[]byte](nil, func(e error) { gotErr = e }, nil)
	loader.Load(context.Background(), metatile.TileID{X: 1, Y: 1, Z: 1}, "v1", task)
	require.Error(t, gotErr)
	assert.Equal(t, errs.NotFound, errs.KindOf(gotErr))
}
