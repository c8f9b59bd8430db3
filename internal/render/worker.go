package render

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/paulmach/orb/encoding/mvt"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// StyleLoader compiles a StyleInfo into worker-local CompiledStyle
// state. Implementations may parse a Mapnik XML document, an MVT style
// JSON document, or (the reference implementation) derive a flat
// placeholder.
type StyleLoader interface {
	Load(StyleInfo) (CompiledStyle, error)
}

// StyleLoaderFunc adapts a function to StyleLoader.
type StyleLoaderFunc func(StyleInfo) (CompiledStyle, error)

func (f StyleLoaderFunc) Load(s StyleInfo) (CompiledStyle, error) { return f(s) }

// PlaceholderStyleLoader compiles styles via the in-repo reference
// implementation (engine.go).
var PlaceholderStyleLoader StyleLoader = StyleLoaderFunc(compileStyle)

// renderJob and subtileJob are the task payloads a RenderWorker
// recognizes from workerpool.Pool.PostTask.
type renderJob struct {
	req      RenderRequest
	renderer Renderer
	reply    func(metatile.Metatile, error)
}

type subtileJob struct {
	req   SubtileRequest
	reply func(metatile.Tile, error)
}

// RenderWorker implements workerpool.Worker. It owns a set of compiled
// map states keyed by style name, exclusively on its own goroutine
// (spec.md §3 "StyleInfo derived map state is owned exclusively by the
// worker thread holding it").
type RenderWorker struct {
	live    map[string]CompiledStyle
	staging map[string]CompiledStyle
}

// NewRenderWorker constructs a worker with no compiled styles; styles
// arrive through the UpdateStyles/CommitUpdate protocol once the
// worker is live in the pool.
func NewRenderWorker() *RenderWorker {
	return &RenderWorker{live: make(map[string]CompiledStyle)}
}

func (w *RenderWorker) Init() error { return nil }

func (w *RenderWorker) Process(task any) {
	switch t := task.(type) {
	case *renderJob:
		w.handleRender(t)
	case *subtileJob:
		w.handleSubtile(t)
	default:
		log.WithField("type", fmt.Sprintf("%T", task)).Warn("render: unrecognized task dropped")
	}
}

// UpdateStyles implements step 2 of the style-lifecycle protocol
// (spec.md §4.6): reuse compiled state whose version matches, else
// load fresh into a staging map. Must run on this worker's own
// goroutine (dispatch via workerpool.Pool.ExecuteOnWorker).
func (w *RenderWorker) UpdateStyles(loader StyleLoader, styles []StyleInfo) error {
	staging := make(map[string]CompiledStyle, len(styles))
	for _, s := range styles {
		if cur, ok := w.live[s.Name]; ok && cur.StyleVersion() == s.Version {
			staging[s.Name] = cur
			continue
		}
		compiled, err := loader.Load(s)
		if err != nil {
			return fmt.Errorf("render: compile style %q: %w", s.Name, err)
		}
		staging[s.Name] = compiled
	}
	w.staging = staging
	return nil
}

// CommitUpdate implements step 4: replace the live set with staging.
func (w *RenderWorker) CommitUpdate() {
	if w.staging != nil {
		w.live = w.staging
		w.staging = nil
	}
}

// CancelUpdate implements step 3: drop staging without touching live.
func (w *RenderWorker) CancelUpdate() {
	w.staging = nil
}

func (w *RenderWorker) handleRender(job *renderJob) {
	req := job.req
	style, ok := w.live[req.StyleName]
	if !ok {
		job.reply(metatile.Metatile{}, fmt.Errorf("render: unknown style %q", req.StyleName))
		return
	}

	featuresets, err := decodeFeaturesets(req.Source)
	if err != nil {
		job.reply(metatile.Metatile{}, err)
		return
	}

	bound := req.Metatile.Bound()
	width, height := req.PixelWidth(), req.PixelHeight()

	var out metatile.Metatile
	switch req.Kind {
	case KindUTFGrid:
		grid, err := job.renderer.RenderUTFGrid(style, width, height, bound, featuresets, req.UTFGridKey)
		if err != nil {
			job.reply(metatile.Metatile{}, err)
			return
		}
		payload, err := grid.Encode()
		if err != nil {
			job.reply(metatile.Metatile{}, err)
			return
		}
		out, err = sliceUniform(req.Metatile, payload)
		if err != nil {
			job.reply(metatile.Metatile{}, err)
			return
		}
	default:
		img, err := job.renderer.RenderRaster(style, width, height, bound, featuresets, req.LayerFilter)
		if err != nil {
			job.reply(metatile.Metatile{}, err)
			return
		}
		out, err = sliceImage(req.Metatile, img, req.Scale())
		if err != nil {
			job.reply(metatile.Metatile{}, err)
			return
		}
	}

	job.reply(out, nil)
}

func (w *RenderWorker) handleSubtile(job *subtileJob) {
	tile, err := Subtile(job.req)
	if err != nil {
		job.reply(metatile.Tile{}, err)
		return
	}
	job.reply(tile, nil)
}

// decodeFeaturesets decodes an optional source vector tile into one
// CachingFeatureset per MVT layer, keyed by layer name (spec.md §4.6:
// "decode its vector-tile layer messages and bind them as in-memory
// datasources wrapped by a caching featureset").
func decodeFeaturesets(source *metatile.Tile) (map[string]*CachingFeatureset, error) {
	if source == nil {
		return nil, nil
	}
	layers, err := mvt.Unmarshal(source.Data)
	if err != nil {
		return nil, fmt.Errorf("render: decode source mvt: %w", err)
	}
	out := make(map[string]*CachingFeatureset, len(layers))
	for _, layer := range layers {
		out[layer.Name] = NewCachingFeatureset(layer.Features)
	}
	return out, nil
}

// sliceUniform builds a Metatile where every tile carries an identical
// payload, used for the UTF-grid render kind where the placeholder
// renderer computes one grid for the whole metatile.
func sliceUniform(id metatile.ID, payload []byte) (metatile.Metatile, error) {
	ids := id.TileIDs()
	tiles := make([]metatile.Tile, len(ids))
	for i, tid := range ids {
		tiles[i] = metatile.Tile{ID: tid, Data: payload}
	}
	out := metatile.Metatile{ID: id, Tiles: tiles}
	if err := out.Validate(); err != nil {
		return metatile.Metatile{}, err
	}
	return out, nil
}
