package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

func testEndpoints() EndpointMap {
	return EndpointMap{
		"": {
			Kind:             KindRender,
			StyleName:        "basic",
			MaxZoom:          20,
			MetatileWidth:    1,
			MetatileHeight:   1,
			AllowUTFGrid:     true,
			AllowLayersQuery: false,
		},
		"admin": {
			Kind:             KindMVT,
			MaxZoom:          20,
			MetatileWidth:    1,
			MetatileHeight:   1,
			AllowLayersQuery: true,
		},
	}
}

func TestParseBasicPath(t *testing.T) {
	r := NewRouter(testEndpoints())
	req, err := r.Parse("5/10/12.png", nil, false)
	require.NoError(t, err)
	assert.Equal(t, metatile.TileID{X: 10, Y: 12, Z: 5}, req.TileID)
	assert.Equal(t, "", req.EndpointName)
	assert.Equal(t, ExtPNG, req.Extension)
}

func TestParseVersionEndpointAndTags(t *testing.T) {
	r := NewRouter(testEndpoints())
	req, err := r.Parse("v1/admin/retina/5/10/12.mvt", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "v1", req.Version)
	assert.Equal(t, "admin", req.EndpointName)
	assert.True(t, req.HasTag("retina"))
	assert.Equal(t, ExtMVT, req.Extension)
}

func TestParseRejectsPNGOnMVTEndpoint(t *testing.T) {
	r := NewRouter(testEndpoints())
	_, err := r.Parse("admin/5/10/12.png", nil, false)
	assert.Error(t, err)
}

func TestParseRejectsMVTOnNonMVTEndpoint(t *testing.T) {
	r := NewRouter(testEndpoints())
	_, err := r.Parse("5/10/12.mvt", nil, false)
	assert.Error(t, err)
}

func TestParseJSONRequiresUTFGridRenderEndpoint(t *testing.T) {
	r := NewRouter(testEndpoints())
	_, err := r.Parse("5/10/12.json", nil, false)
	assert.NoError(t, err)

	_, err = r.Parse("admin/5/10/12.json", nil, false)
	assert.Error(t, err)
}

func TestParseDropsLayerFilterWhenNotAllowed(t *testing.T) {
	r := NewRouter(testEndpoints())
	req, err := r.Parse("5/10/12.png", []string{"roads"}, false)
	require.NoError(t, err)
	assert.Nil(t, req.Layers)
}

func TestParseKeepsLayerFilterWhenAllowed(t *testing.T) {
	r := NewRouter(testEndpoints())
	req, err := r.Parse("admin/5/10/12.mvt", []string{"roads"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"roads"}, req.Layers)
}

func TestParseRejectsShortPath(t *testing.T) {
	r := NewRouter(testEndpoints())
	_, err := r.Parse("10/12.png", nil, false)
	assert.Error(t, err)
}

func TestParseRejectsOutOfRangeTile(t *testing.T) {
	r := NewRouter(testEndpoints())
	_, err := r.Parse("2/99/99.png", nil, false)
	assert.Error(t, err)
}

func TestCacheKeyIncludesComponents(t *testing.T) {
	r := NewRouter(testEndpoints())
	req, err := r.Parse("v1/retina/5/10/12.png", nil, false)
	require.NoError(t, err)
	req.DataVersion = "2024-01-01"

	key := CacheKey(req, req.TileID, StyleVersionKnown(3))
	assert.Contains(t, key, "5/10/12")
	assert.Contains(t, key, "retina")
	assert.Contains(t, key, "style=basic@3")
	assert.Contains(t, key, "data=2024-01-01")
	assert.Contains(t, key, "mt=1x1")
}

func TestCacheKeyOmitsUnknownStyleVersion(t *testing.T) {
	req := TileRequest{
		TileID:     metatile.TileID{X: 1, Y: 1, Z: 1},
		MetatileID: metatile.ID{LT: metatile.TileID{X: 1, Y: 1, Z: 1}, Width: 1, Height: 1},
		Tags:       map[string]struct{}{},
	}
	key := CacheKey(req, req.TileID, StyleVersionUnknown())
	assert.NotContains(t, key, "@")
}
