package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// ExtString renders e as its path-segment extension (".png", ".mvt",
// ...), for callers outside this package that need to rebuild a tile
// path (e.g. the internal peer-proxy client).
func ExtString(e Extension) string { return extString(e) }

func extString(e Extension) string {
	switch e {
	case ExtPNG:
		return "png"
	case ExtMVT:
		return "mvt"
	case ExtJSON:
		return "json"
	case ExtHTML:
		return "html"
	default:
		return "bin"
	}
}

// CacheKey composes the cache key for one tile within req's metatile
// (spec.md §4.10: "tags, extension, style name, data version, style
// version (if known), metatile dimensions, layer filter"). Called once
// per tile produced, since the cache addresses individual tiles.
func CacheKey(req TileRequest, tile metatile.TileID, style StyleVersion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d/%d", tile.Z, tile.X, tile.Y)
	if req.EndpointName != "" {
		b.WriteByte('/')
		b.WriteString(req.EndpointName)
	}
	for _, t := range sortedKeys(req.Tags) {
		b.WriteByte('/')
		b.WriteString(t)
	}
	fmt.Fprintf(&b, ".%s", extString(req.Extension))

	fmt.Fprintf(&b, "|style=%s", req.Endpoint.StyleName)
	if style.Known {
		fmt.Fprintf(&b, "@%d", style.Version)
	}
	fmt.Fprintf(&b, "|data=%s", req.DataVersion)
	fmt.Fprintf(&b, "|mt=%dx%d", req.MetatileID.Width, req.MetatileID.Height)
	if len(req.Layers) > 0 {
		layers := append([]string(nil), req.Layers...)
		sort.Strings(layers)
		fmt.Fprintf(&b, "|layers=%s", strings.Join(layers, ","))
	}
	return b.String()
}

// StyleVersion carries the active style version known at
// cache-key composition time, or Known=false if the style's identity
// doesn't participate (e.g. static endpoints with no style).
type StyleVersion struct {
	Version uint32
	Known   bool
}

// StyleVersionKnown and StyleVersionUnknown construct StyleVersion
// for CacheKey callers.
func StyleVersionKnown(v uint32) StyleVersion { return StyleVersion{Version: v, Known: true} }
func StyleVersionUnknown() StyleVersion       { return StyleVersion{} }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
