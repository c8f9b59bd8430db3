// Package metatile implements the tile/metatile identity model, the
// EPSG:3857 bbox computation for a metatile, and the optimal-metatile
// sizing policy (SPEC_FULL.md §4.3). Grounded on atlasdatatech-tiler's
// Tile type (tile.go) and its use of github.com/paulmach/orb/maptile for
// Mercator geometry, generalized from a single-tile download helper into
// the full metatile model the spec requires.
package metatile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// originShift is half the EPSG:3857 sphere's equatorial circumference in
// meters, the origin-to-edge distance used to map pixel coordinates onto
// the Mercator plane.
const originShift = 20037508.342789244

// TileSize is the pixel width/height of one rendered tile.
const TileSize = 256

// TileID identifies one 256x256 slippy-map cell. Invariant: X, Y < 2^Z.
type TileID struct {
	X, Y, Z uint32
}

// Valid reports whether the coordinates fit within the zoom-Z grid.
func (t TileID) Valid() bool {
	if t.Z > 30 {
		return false
	}
	n := uint32(1) << t.Z
	return t.X < n && t.Y < n
}

func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Maptile converts to the orb maptile representation, for callers that
// need orb's own tilecover/clip helpers.
func (t TileID) Maptile() maptile.Tile {
	return maptile.Tile{X: t.X, Y: t.Y, Z: maptile.Zoom(t.Z)}
}

// ID is an axis-aligned rectangle of tiles at a single zoom: the
// top-left tile plus a width and height in tile units.
type ID struct {
	LT            TileID
	Width, Height uint32
}

// MaxMetatileSize bounds the metatile dimension: size is always a power
// of two up to this value (SPEC_FULL.md §4.3: dz clamped to [0,3]).
const MaxMetatileSize = 8

// New snaps t's top-left corner to a (w,h)-aligned grid cell and clamps
// w,h to the remaining extent of the zoom-Z tile grid, per the creation
// rule in SPEC_FULL.md §3.
func New(t TileID, w, h uint32) ID {
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	n := uint32(1) << t.Z
	ltX := t.X - t.X%w
	ltY := t.Y - t.Y%h
	if ltX+w > n {
		w = n - ltX
	}
	if ltY+h > n {
		h = n - ltY
	}
	return ID{LT: TileID{X: ltX, Y: ltY, Z: t.Z}, Width: w, Height: h}
}

// Valid checks that the rectangle is fully contained within the zoom-Z
// tile grid and has positive dimensions.
func (m ID) Valid() bool {
	if m.Width < 1 || m.Height < 1 {
		return false
	}
	n := uint32(1) << m.LT.Z
	return m.LT.X+m.Width <= n && m.LT.Y+m.Height <= n
}

// TileIDs enumerates the metatile's tiles in row-major order (x fastest,
// then y), matching the Metatile.tiles ordering invariant.
func (m ID) TileIDs() []TileID {
	out := make([]TileID, 0, m.Width*m.Height)
	for y := uint32(0); y < m.Height; y++ {
		for x := uint32(0); x < m.Width; x++ {
			out = append(out, TileID{X: m.LT.X + x, Y: m.LT.Y + y, Z: m.LT.Z})
		}
	}
	return out
}

// Contains reports whether t lies within this metatile's grid.
func (m ID) Contains(t TileID) bool {
	if t.Z != m.LT.Z {
		return false
	}
	return t.X >= m.LT.X && t.X < m.LT.X+m.Width &&
		t.Y >= m.LT.Y && t.Y < m.LT.Y+m.Height
}

// pixelToMerc maps a pixel position at tile size 256, zoom z, onto the
// EPSG:3857 plane.
func pixelToMerc(px, py float64, z uint32) (x, y float64) {
	worldSize := 256.0 * math.Pow(2, float64(z))
	x = px/worldSize*(2*originShift) - originShift
	y = originShift - py/worldSize*(2*originShift)
	return x, y
}

// Bound returns the metatile's geographic extent in EPSG:3857, computed
// by mapping the corner pixel positions (lt.x*256, lt.y*256) and
// ((lt.x+w)*256, (lt.y+h)*256) through the spherical-Mercator projection
// (SPEC_FULL.md §4.3).
func (m ID) Bound() orb.Bound {
	minX, maxY := pixelToMerc(float64(m.LT.X)*TileSize, float64(m.LT.Y)*TileSize, m.LT.Z)
	maxX, minY := pixelToMerc(float64(m.LT.X+m.Width)*TileSize, float64(m.LT.Y+m.Height)*TileSize, m.LT.Z)
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// Tile is one rendered tile: its identity plus format-dependent bytes.
type Tile struct {
	ID   TileID
	Data []byte
}

// Metatile is a group of tiles produced by a single render pass.
type Metatile struct {
	ID    ID
	Tiles []Tile
}

// Validate checks the Metatile invariant: exactly Width*Height tiles, in
// row-major order, each matching the metatile's own grid.
func (m Metatile) Validate() error {
	want := m.ID.TileIDs()
	if len(m.Tiles) != len(want) {
		return fmt.Errorf("metatile %v: expected %d tiles, got %d", m.ID, len(want), len(m.Tiles))
	}
	for i, tl := range m.Tiles {
		if tl.ID != want[i] {
			return fmt.Errorf("metatile %v: tile %d expected id %v, got %v", m.ID, i, want[i], tl.ID)
		}
	}
	return nil
}

// ZoomGroups is a sorted ascending set of zoom levels at which tiles
// actually exist in the backend (SPEC_FULL.md glossary: "Zoom group").
type ZoomGroups []int

// BaseZoom returns the largest configured group <= z, or z itself (with
// ok=false) if no group is configured or none is <= z.
func (g ZoomGroups) BaseZoom(z int) (base int, ok bool) {
	if len(g) == 0 {
		return z, false
	}
	base = -1
	for _, gz := range g {
		if gz <= z && gz > base {
			base = gz
		}
	}
	if base < 0 {
		return z, false
	}
	return base, true
}

// OptimalMetatile implements SPEC_FULL.md §4.3's optimal-metatile
// computation: given the request tile and a per-endpoint zoom offset
// (non-positive), compute the source zoom/base tile to load and the
// metatile size to render at.
//
// offsetZoom = tile.Z - zoomOffset must land in [minZoom, maxZoom].
type Optimal struct {
	BaseTile TileID
	Metatile ID
}

// Compute returns the optimal metatile for req at the given zoom policy.
// zoomOffset is expected to be <= 0 (SPEC_FULL.md glossary: "Zoom
// offset").
func Compute(req TileID, zoomOffset, minZoom, maxZoom int, groups ZoomGroups) (Optimal, error) {
	offsetZoom := int(req.Z) - zoomOffset
	if offsetZoom < minZoom || offsetZoom > maxZoom {
		return Optimal{}, fmt.Errorf("offset zoom %d outside [%d,%d]", offsetZoom, minZoom, maxZoom)
	}

	base, _ := groups.BaseZoom(offsetZoom)

	dz := int(req.Z) - base
	if dz < 0 {
		dz = 0
	}
	if dz > 3 {
		dz = 3
	}
	size := uint32(1) << dz

	baseX := req.X >> dz
	baseY := req.Y >> dz
	baseTile := TileID{X: baseX, Y: baseY, Z: uint32(base)}

	return Optimal{
		BaseTile: baseTile,
		Metatile: New(req, size, size),
	}, nil
}
