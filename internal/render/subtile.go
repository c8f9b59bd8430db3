package render

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// defaultExtent is the MVT tile-local coordinate extent assumed when a
// decoded layer does not carry its own (the de facto standard used
// throughout the vector-tile ecosystem).
const defaultExtent = 4096

// Subtile implements the "MVT subtile" operation (spec.md §4.6): given
// a source MVT tile and a target tile id at a deeper zoom, re-clip and
// rescale the source's features down to the target's footprint.
func Subtile(req SubtileRequest) (metatile.Tile, error) {
	dz := int(req.Target.Z) - int(req.SourceID.Z)
	if dz < 1 {
		return metatile.Tile{}, fmt.Errorf("render: subtile target zoom %d must be deeper than source zoom %d", req.Target.Z, req.SourceID.Z)
	}
	factor := uint32(1) << uint(dz)
	if req.Target.X>>uint(dz) != req.SourceID.X || req.Target.Y>>uint(dz) != req.SourceID.Y {
		return metatile.Tile{}, fmt.Errorf("render: target tile %v is not a descendant of source %v", req.Target, req.SourceID)
	}

	srcLayers, err := mvt.Unmarshal(req.Source.Data)
	if err != nil {
		return metatile.Tile{}, fmt.Errorf("render: decode source mvt: %w", err)
	}

	offsetX := req.Target.X % factor
	offsetY := req.Target.Y % factor

	out := make(mvt.Layers, 0, len(srcLayers))
	for _, layer := range srcLayers {
		name, ok := req.FilterTable.outputName(layer.Name)
		if !ok {
			continue
		}
		if !layerAllowed(layer.Name, req.LayerFilter) {
			continue
		}

		extent := layer.Extent
		if extent == 0 {
			extent = defaultExtent
		}
		subSize := float64(extent) / float64(factor)
		bound := orb.Bound{
			Min: orb.Point{float64(offsetX) * subSize, float64(offsetY) * subSize},
			Max: orb.Point{float64(offsetX+1) * subSize, float64(offsetY+1) * subSize},
		}

		var features []*geojson.Feature
		for _, f := range layer.Features {
			clipped := clip.Geometry(bound, f.Geometry)
			if clipped == nil {
				continue
			}
			rescaled := transformPoints(clipped, func(p orb.Point) orb.Point {
				return orb.Point{
					(p[0] - bound.Min[0]) * float64(factor),
					(p[1] - bound.Min[1]) * float64(factor),
				}
			})
			nf := geojson.NewFeature(rescaled)
			nf.Properties = f.Properties
			nf.ID = f.ID
			features = append(features, nf)
		}
		if len(features) == 0 {
			continue
		}
		out = append(out, &mvt.Layer{
			Name:     name,
			Version:  layer.Version,
			Extent:   extent,
			Features: features,
		})
	}

	data, err := mvt.Marshal(out)
	if err != nil {
		return metatile.Tile{}, fmt.Errorf("render: encode subtile mvt: %w", err)
	}
	return metatile.Tile{ID: req.Target, Data: data}, nil
}
