package render

import (
	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// Kind selects the rendering product requested for a RenderRequest.
type Kind int

const (
	KindPNG Kind = iota
	KindUTFGrid
)

// RenderRequest asks a render worker to raster-render one metatile
// through a named style (spec.md §4.6).
type RenderRequest struct {
	Metatile     metatile.ID
	StyleName    string
	StyleVersion uint32
	Source       *metatile.Tile // optional source vector tile bound as an MVT layer datasource
	LayerFilter  []string       // nil means no filter
	Retina       bool
	Kind         Kind
	UTFGridKey   string
}

// Scale returns 2 for a retina request, 1 otherwise (spec.md §4.6 step
// "256 × metatile_width × scale").
func (r RenderRequest) Scale() int {
	if r.Retina {
		return 2
	}
	return 1
}

// PixelWidth and PixelHeight return the target raster's dimensions.
func (r RenderRequest) PixelWidth() int {
	return int(metatile.TileSize) * int(r.Metatile.Width) * r.Scale()
}

func (r RenderRequest) PixelHeight() int {
	return int(metatile.TileSize) * int(r.Metatile.Height) * r.Scale()
}

// renderBuffer is the size, in projection units, of the rendering buffer
// around the metatile's merc bbox (spec.md §4.6). It is not applied: the
// Renderer receives the metatile's unpadded Bound.
const renderBuffer = 128

// SubtileRequest asks a render worker to re-clip a source MVT tile's
// features down to the footprint of a deeper-zoom target tile
// (spec.md §4.6 "MVT subtile").
type SubtileRequest struct {
	Source      metatile.Tile
	SourceID    metatile.TileID
	Target      metatile.TileID
	FilterTable *FilterTable
	LayerFilter []string
}
