package dispatch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
)

var versionSegment = regexp.MustCompile(`^v[0-9]{1,5}$`)

// Router resolves request paths against a configured endpoint map.
type Router struct {
	Endpoints EndpointMap
}

// NewRouter constructs a Router over the given endpoint map.
func NewRouter(endpoints EndpointMap) *Router {
	return &Router{Endpoints: endpoints}
}

// Parse implements spec.md §4.11: parses `[version/] [endpoint/]
// [tag/ tag/ ...] z/x/y[.ext]`, resolves the endpoint, validates the
// extension against the endpoint kind, and sizes the metatile.
// layerFilter is the parsed `layers=a,b,c` query parameter, or nil.
func (r *Router) Parse(path string, layerFilter []string, internal bool) (TileRequest, error) {
	segs := splitPath(path)
	if len(segs) < 3 {
		return TileRequest{}, errs.New(errs.InvalidRequest, "path too short")
	}

	idx := 0
	var version string
	if versionSegment.MatchString(segs[idx]) {
		version = segs[idx]
		idx++
	}

	if len(segs)-idx < 3 {
		return TileRequest{}, errs.New(errs.InvalidRequest, "missing z/x/y")
	}

	endpointName := ""
	if len(segs)-idx > 3 {
		candidate := segs[idx]
		if _, ok := r.Endpoints[candidate]; ok {
			endpointName = candidate
			idx++
		}
	}

	tagSegs := segs[idx : len(segs)-3]
	tags := make(map[string]struct{}, len(tagSegs))
	for _, t := range tagSegs {
		tags[t] = struct{}{}
	}

	zSeg, xSeg, yextSeg := segs[len(segs)-3], segs[len(segs)-2], segs[len(segs)-1]

	z, err := strconv.ParseUint(zSeg, 10, 32)
	if err != nil {
		return TileRequest{}, errs.Wrap(errs.InvalidRequest, "invalid z", err)
	}
	x, err := strconv.ParseUint(xSeg, 10, 32)
	if err != nil {
		return TileRequest{}, errs.Wrap(errs.InvalidRequest, "invalid x", err)
	}

	ySeg, extSeg, ok := splitExt(yextSeg)
	if !ok {
		return TileRequest{}, errs.New(errs.InvalidRequest, "missing extension")
	}
	y, err := strconv.ParseUint(ySeg, 10, 32)
	if err != nil {
		return TileRequest{}, errs.Wrap(errs.InvalidRequest, "invalid y", err)
	}
	ext, ok := parseExtension(extSeg)
	if !ok {
		return TileRequest{}, errs.New(errs.InvalidRequest, "unrecognized extension")
	}

	tile := metatile.TileID{X: uint32(x), Y: uint32(y), Z: uint32(z)}
	if !tile.Valid() {
		return TileRequest{}, errs.New(errs.InvalidRequest, "tile coordinates out of range")
	}

	endpoint, ok := r.Endpoints.Lookup(endpointName)
	if !ok {
		return TileRequest{}, errs.New(errs.NotFound, "no endpoint configured")
	}

	if err := validateExtension(endpoint, ext); err != nil {
		return TileRequest{}, err
	}

	if layerFilter != nil && !endpoint.AllowLayersQuery {
		layerFilter = nil
	}

	mt, err := sizeMetatile(endpoint, tile)
	if err != nil {
		return TileRequest{}, err
	}

	return TileRequest{
		TileID:       tile,
		MetatileID:   mt,
		Version:      version,
		EndpointName: endpointName,
		Tags:         tags,
		Extension:    ext,
		Endpoint:     endpoint,
		Layers:       layerFilter,
		Internal:     internal,
	}, nil
}

// validateExtension implements spec.md §4.11's validation rules: png
// forbidden for MVT endpoints, mvt forbidden for non-MVT endpoints,
// json only on render endpoints with UTF-grid enabled.
func validateExtension(ep EndpointParams, ext Extension) error {
	switch ext {
	case ExtPNG:
		if ep.Kind == KindMVT {
			return errs.New(errs.InvalidRequest, "png not valid for mvt endpoint")
		}
	case ExtMVT:
		if ep.Kind != KindMVT {
			return errs.New(errs.InvalidRequest, "mvt extension requires mvt endpoint")
		}
	case ExtJSON:
		if ep.Kind != KindRender || !ep.AllowUTFGrid {
			return errs.New(errs.InvalidRequest, "json extension requires utf-grid-enabled render endpoint")
		}
	case ExtHTML:
		// html is a preview page, valid on any endpoint kind.
	}
	return nil
}

// sizeMetatile computes the MetatileId for tile under the endpoint's
// sizing policy: either auto (delegated to the data provider's
// zoom-group computation, spec.md §4.3) or the endpoint's fixed
// width/height.
func sizeMetatile(ep EndpointParams, tile metatile.TileID) (metatile.ID, error) {
	if ep.AutoMetatileSize && ep.DataProvider != nil {
		opt, err := ep.DataProvider.OptimalMetatile(tile, ep.ZoomOffset)
		if err != nil {
			return metatile.ID{}, err
		}
		return opt.Metatile, nil
	}
	w, h := ep.MetatileWidth, ep.MetatileHeight
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return metatile.New(tile, w, h), nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func splitExt(seg string) (name, ext string, ok bool) {
	i := strings.LastIndexByte(seg, '.')
	if i < 0 || i == len(seg)-1 {
		return "", "", false
	}
	return seg[:i], seg[i+1:], true
}
