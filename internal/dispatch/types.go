// Package dispatch parses an HTTP tile request's path and query string
// into a TileRequest and resolves it against the configured endpoint
// map (SPEC_FULL.md §4.11, unchanged from spec.md §4.11).
package dispatch

import (
	"github.com/atlasdatatech/tileserver/internal/dataprovider"
	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/render"
)

// EndpointKind selects what an endpoint serves.
type EndpointKind int

const (
	KindStatic EndpointKind = iota
	KindRender
	KindMVT
)

func (k EndpointKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindRender:
		return "render"
	case KindMVT:
		return "mvt"
	default:
		return "unknown"
	}
}

// EndpointParams configures one named endpoint (spec.md §3).
type EndpointParams struct {
	Kind                          EndpointKind
	StyleName                     string
	MinZoom, MaxZoom              int
	ZoomOffset                    int
	MetatileWidth, MetatileHeight uint32
	AutoMetatileSize              bool
	DataProvider                  *dataprovider.Provider
	FilterTable                   *render.FilterTable
	AllowUTFGrid                  bool
	UTFGridKey                    string
	AllowLayersQuery              bool
}

// EndpointMap resolves an endpoint name (the empty string is the
// default) to its configuration.
type EndpointMap map[string]EndpointParams

// Lookup resolves name, falling back to the empty-key default endpoint.
func (m EndpointMap) Lookup(name string) (EndpointParams, bool) {
	if ep, ok := m[name]; ok {
		return ep, true
	}
	ep, ok := m[""]
	return ep, ok
}

// Extension is the requested response format, derived from the path's
// trailing `.ext`.
type Extension int

const (
	ExtPNG Extension = iota
	ExtMVT
	ExtJSON
	ExtHTML
)

func parseExtension(s string) (Extension, bool) {
	switch s {
	case "png":
		return ExtPNG, true
	case "mvt":
		return ExtMVT, true
	case "json":
		return ExtJSON, true
	case "html":
		return ExtHTML, true
	default:
		return 0, false
	}
}

// TileRequest is the resolved input to the pipeline (spec.md §3).
type TileRequest struct {
	TileID     metatile.TileID
	MetatileID metatile.ID

	Version     string
	EndpointName string
	Tags        map[string]struct{}
	Extension   Extension

	Endpoint EndpointParams

	Layers      []string
	DataVersion string

	// Internal marks a request that arrived on the internal port
	// (spec.md §4.10: "internal requests skip PeerDecide").
	Internal bool
}

// HasTag reports whether tag was present as a path segment.
func (r TileRequest) HasTag(tag string) bool {
	_, ok := r.Tags[tag]
	return ok
}

// SortedTags returns the request's tag segments in a deterministic
// order, for callers that need to rebuild an equivalent path (tag order
// carries no meaning — Tags is a set).
func (r TileRequest) SortedTags() []string {
	return sortedKeys(r.Tags)
}
