package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/paulmach/orb"
)

// Renderer is the external map-rendering engine collaborator. The
// pipeline in this repository owns compiled-style lifecycle, featureset
// binding, layer filtering and metatile slicing (spec.md §4.6); the
// actual cartographic drawing is delegated here so a real engine
// binding (Mapnik via cgo, or a pure-Go vector renderer) can be dropped
// in without touching the render manager/worker.
type Renderer interface {
	// RenderRaster draws one metatile's worth of pixels for style at
	// the given pixel dimensions and projection bound, sourcing MVT
	// layer data from featuresets (keyed by MVT layer name) and
	// honoring layerFilter (nil means all layers active).
	RenderRaster(style CompiledStyle, width, height int, bound orb.Bound, featuresets map[string]*CachingFeatureset, layerFilter []string) (image.Image, error)

	// RenderUTFGrid produces the interactivity grid payload for the
	// same parameters, keyed by utfGridKey.
	RenderUTFGrid(style CompiledStyle, width, height int, bound orb.Bound, featuresets map[string]*CachingFeatureset, utfGridKey string) (*UTFGrid, error)
}

// placeholderStyle is the reference CompiledStyle: it carries the
// style version needed to participate in the update protocol, plus a
// flat background color derived from the style name so different
// styles are visibly distinguishable in the reference renderer's
// output.
type placeholderStyle struct {
	version uint32
	bg      color.RGBA
}

func (p *placeholderStyle) StyleVersion() uint32 { return p.version }

// compileStyle builds the placeholder compiled form of a StyleInfo. A
// real engine would parse style.PathOrInline (Mapnik XML, or an MVT
// style document) here instead.
func compileStyle(style StyleInfo) (CompiledStyle, error) {
	h := fnv32(style.Name)
	return &placeholderStyle{
		version: style.Version,
		bg:      color.RGBA{R: byte(h), G: byte(h >> 8), B: byte(h >> 16), A: 255},
	}, nil
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// PlaceholderRenderer is the reference Renderer: it paints a flat tile
// per style and drains each bound featureset so the caching/replay
// invariant (§4.6.1) is exercised end to end, without a cartographic
// rendering engine in this repository.
type PlaceholderRenderer struct{}

func (PlaceholderRenderer) RenderRaster(style CompiledStyle, width, height int, bound orb.Bound, featuresets map[string]*CachingFeatureset, layerFilter []string) (image.Image, error) {
	ps, ok := style.(*placeholderStyle)
	if !ok {
		return nil, fmt.Errorf("render: unsupported compiled style type %T", style)
	}
	for name, fs := range featuresets {
		if !layerAllowed(name, layerFilter) {
			continue
		}
		for fs.Next() != nil {
		}
		fs.Rewind()
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, ps.bg)
		}
	}
	return img, nil
}

func (PlaceholderRenderer) RenderUTFGrid(style CompiledStyle, width, height int, bound orb.Bound, featuresets map[string]*CachingFeatureset, utfGridKey string) (*UTFGrid, error) {
	grid := NewUTFGrid(width, height)
	for _, fs := range featuresets {
		for f := fs.Next(); f != nil; f = fs.Next() {
			if v, ok := f.Properties[utfGridKey]; ok {
				grid.AddFeature(fmt.Sprintf("%v", v), f.Properties)
			}
		}
		fs.Rewind()
	}
	return grid, nil
}

// EncodePNG encodes img using the stdlib codec, matching the raster
// output format named in spec.md §1.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
