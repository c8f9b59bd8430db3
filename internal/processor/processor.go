// Package processor implements the tile processor (SPEC_FULL.md §4.8,
// unchanged from spec.md §4.8): sequences load → (wrap|render|subtile)
// → metatile assembly for a single request. Grounded on
// original_source/src/tile_processor.cpp for the exact step order and
// atlasdatatech-tiler/task.go's tileFetcher (fetch → encode → hand off)
// for the Go idiom of a single per-request pipeline function.
package processor

import (
	"context"
	"sync"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/render"
)

// Processor sequences one request's tile production.
type Processor struct {
	manager *render.Manager
}

// New constructs a Processor dispatching render/subtile work through
// manager.
func New(manager *render.Manager) *Processor {
	return &Processor{manager: manager}
}

// Process runs the full load → wrap|render|subtile pipeline for req,
// completing task exactly once. Cancelling ctx cancels the in-flight
// load or render/subtile sub-task (spec.md §4.8 step 5).
func (p *Processor) Process(ctx context.Context, req dispatch.TileRequest, task *asynctask.Task[metatile.Metatile]) {
	var mu sync.Mutex
	done := false
	var cancelSub func()

	go func() {
		<-ctx.Done()
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		done = true
		if cancelSub != nil {
			cancelSub()
		}
		task.CompleteError(errs.Wrap(errs.Timeout, "request cancelled", ctx.Err()))
	}()

	finish := func() {
		mu.Lock()
		done = true
		mu.Unlock()
	}

	if req.Endpoint.DataProvider == nil {
		finish()
		p.afterLoad(req, metatile.TileID{}, nil, task)
		return
	}

	opt, err := req.Endpoint.DataProvider.OptimalMetatile(req.TileID, req.Endpoint.ZoomOffset)
	if err != nil {
		finish()
		task.CompleteError(errs.Wrap(errs.NotFound, "zoom out of range", err))
		return
	}

	loadTask := asynctask.New[[]byte](
		func(data []byte) {
			finish()
			p.afterLoad(req, opt.BaseTile, data, task)
		},
		func(err error) {
			finish()
			task.CompleteError(err)
		},
		nil,
	)

	mu.Lock()
	cancelSub = loadTask.Cancel
	mu.Unlock()

	req.Endpoint.DataProvider.GetTile(ctx, req.TileID, req.Endpoint.ZoomOffset, req.DataVersion, loadTask)
}

func (p *Processor) afterLoad(req dispatch.TileRequest, baseTile metatile.TileID, data []byte, task *asynctask.Task[metatile.Metatile]) {
	switch req.Endpoint.Kind {
	case dispatch.KindStatic:
		p.handleStatic(req, data, task)
	case dispatch.KindRender:
		p.handleRender(req, baseTile, data, task)
	case dispatch.KindMVT:
		p.handleMVT(req, baseTile, data, task)
	default:
		task.CompleteError(errs.New(errs.Internal, "unknown endpoint kind"))
	}
}

// handleStatic implements step 2: the loaded bytes must equal the
// metatile's only tile.
func (p *Processor) handleStatic(req dispatch.TileRequest, data []byte, task *asynctask.Task[metatile.Metatile]) {
	mt := metatile.Metatile{ID: req.MetatileID, Tiles: []metatile.Tile{{ID: req.TileID, Data: data}}}
	if err := mt.Validate(); err != nil {
		task.CompleteError(errs.Wrap(errs.Internal, "static tile does not match its metatile", err))
		return
	}
	task.CompleteSuccess(mt)
}

// handleRender implements step 3: build and submit a RenderRequest.
func (p *Processor) handleRender(req dispatch.TileRequest, baseTile metatile.TileID, data []byte, task *asynctask.Task[metatile.Metatile]) {
	active, known := p.manager.ActiveStyle(req.Endpoint.StyleName)
	if !known {
		task.CompleteError(errs.New(errs.NotFound, "unknown style"))
		return
	}

	var source *metatile.Tile
	if data != nil {
		source = &metatile.Tile{ID: baseTile, Data: data}
	}

	renderReq := render.RenderRequest{
		Metatile:     req.MetatileID,
		StyleName:    active.Name,
		StyleVersion: active.Version,
		Source:       source,
		LayerFilter:  req.Layers,
		Retina:       req.HasTag("retina"),
		Kind:         renderKindFor(req.Extension),
		UTFGridKey:   req.Endpoint.UTFGridKey,
	}

	p.manager.Render(renderReq, func(mt metatile.Metatile, err error) {
		if err != nil {
			task.CompleteError(errs.Wrap(errs.Rendering, "render failed", err))
			return
		}
		task.CompleteSuccess(mt)
	})
}

// handleMVT implements step 4: build and submit a SubtileRequest.
func (p *Processor) handleMVT(req dispatch.TileRequest, baseTile metatile.TileID, data []byte, task *asynctask.Task[metatile.Metatile]) {
	if data == nil {
		task.CompleteError(errs.New(errs.NotFound, "no source tile for mvt endpoint"))
		return
	}

	subReq := render.SubtileRequest{
		Source:      metatile.Tile{ID: baseTile, Data: data},
		SourceID:    baseTile,
		Target:      req.TileID,
		FilterTable: req.Endpoint.FilterTable,
		LayerFilter: req.Layers,
	}

	p.manager.Subtile(subReq, func(tile metatile.Tile, err error) {
		if err != nil {
			task.CompleteError(errs.Wrap(errs.Rendering, "subtile failed", err))
			return
		}
		mt := metatile.Metatile{ID: req.MetatileID, Tiles: []metatile.Tile{tile}}
		if err := mt.Validate(); err != nil {
			task.CompleteError(errs.Wrap(errs.Internal, "subtile does not match its metatile", err))
			return
		}
		task.CompleteSuccess(mt)
	})
}

func renderKindFor(ext dispatch.Extension) render.Kind {
	if ext == dispatch.ExtJSON {
		return render.KindUTFGrid
	}
	return render.KindPNG
}
