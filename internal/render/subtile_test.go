package render

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

func buildSourceTile(t *testing.T, extent uint32, points []orb.Point) []byte {
	t.Helper()
	features := make([]*geojson.Feature, len(points))
	for i, p := range points {
		f := geojson.NewFeature(p)
		f.Properties = map[string]interface{}{"n": i}
		features[i] = f
	}
	layers := mvt.Layers{{
		Name:     "points",
		Version:  2,
		Extent:   extent,
		Features: features,
	}}
	data, err := mvt.Marshal(layers)
	require.NoError(t, err)
	return data
}

func TestSubtileRejectsSameOrShallowerZoom(t *testing.T) {
	_, err := Subtile(SubtileRequest{
		SourceID: metatile.TileID{X: 1, Y: 1, Z: 5},
		Target:   metatile.TileID{X: 1, Y: 1, Z: 5},
	})
	assert.Error(t, err)
}

func TestSubtileRejectsNonDescendant(t *testing.T) {
	_, err := Subtile(SubtileRequest{
		SourceID: metatile.TileID{X: 1, Y: 1, Z: 5},
		Target:   metatile.TileID{X: 10, Y: 10, Z: 6},
	})
	assert.Error(t, err)
}

func TestSubtileRescalesFeatureIntoChildFootprint(t *testing.T) {
	const extent = 4096
	// Point sits in the top-left quadrant of the source tile, at local
	// (100, 100) out of 4096.
	data := buildSourceTile(t, extent, []orb.Point{{100, 100}})

	tile, err := Subtile(SubtileRequest{
		Source:   metatile.Tile{Data: data},
		SourceID: metatile.TileID{X: 2, Y: 2, Z: 5},
		Target:   metatile.TileID{X: 4, Y: 4, Z: 6},
	})
	require.NoError(t, err)
	assert.Equal(t, metatile.TileID{X: 4, Y: 4, Z: 6}, tile.ID)

	layers, err := mvt.Unmarshal(tile.Data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Len(t, layers[0].Features, 1)

	pt, ok := layers[0].Features[0].Geometry.(orb.Point)
	require.True(t, ok)
	// Source point at local (100,100) in the top-left quadrant [0,2048)
	// rescales by factor 2 to (200,200) in the child's own 4096 extent.
	assert.InDelta(t, 200, pt[0], 0.001)
	assert.InDelta(t, 200, pt[1], 0.001)
}

func TestSubtileDropsFeaturesOutsideChildFootprint(t *testing.T) {
	const extent = 4096
	// Point sits in the bottom-right quadrant; target is the top-left
	// child, so the feature must be clipped away.
	data := buildSourceTile(t, extent, []orb.Point{{3000, 3000}})

	tile, err := Subtile(SubtileRequest{
		Source:   metatile.Tile{Data: data},
		SourceID: metatile.TileID{X: 2, Y: 2, Z: 5},
		Target:   metatile.TileID{X: 4, Y: 4, Z: 6},
	})
	require.NoError(t, err)

	layers, err := mvt.Unmarshal(tile.Data)
	require.NoError(t, err)
	assert.Len(t, layers, 0)
}

func TestSubtileAppliesFilterTable(t *testing.T) {
	const extent = 4096
	data := buildSourceTile(t, extent, []orb.Point{{100, 100}})

	ft := &FilterTable{Rename: map[string]string{"points": "poi"}}
	tile, err := Subtile(SubtileRequest{
		Source:      metatile.Tile{Data: data},
		SourceID:    metatile.TileID{X: 2, Y: 2, Z: 5},
		Target:      metatile.TileID{X: 4, Y: 4, Z: 6},
		FilterTable: ft,
	})
	require.NoError(t, err)

	layers, err := mvt.Unmarshal(tile.Data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "poi", layers[0].Name)
}
