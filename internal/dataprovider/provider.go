// Package dataprovider wraps a tileloader.Loader with a zoom policy
// (SPEC_FULL.md §4.5): min/max zoom and optional zoom groups, used to
// compute the base tile to fetch for a given request tile and zoom
// offset. Grounded on atlasdatatech-tiler/task.go's per-layer zoom
// bookkeeping (task.Min, task.Max, []Layer), generalized from "a fixed
// list of configured zooms with geometry" into "a zoom-group policy over
// an arbitrary backing loader".
package dataprovider

import (
	"context"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/tileloader"
)

// Provider answers "get_tile" requests against a Loader under a zoom
// policy.
type Provider struct {
	Loader           tileloader.Loader
	MinZoom, MaxZoom int
	ZoomGroups       metatile.ZoomGroups
}

// New constructs a Provider.
func New(loader tileloader.Loader, minZoom, maxZoom int, groups metatile.ZoomGroups) *Provider {
	return &Provider{Loader: loader, MinZoom: minZoom, MaxZoom: maxZoom, ZoomGroups: groups}
}

// GetTile computes the base tile id for req at zoomOffset (SPEC_FULL.md
// §4.3) and forwards the fetch to the wrapped Loader. Fails not_found if
// the computed offset zoom is out of range or the version is unknown.
func (p *Provider) GetTile(ctx context.Context, req metatile.TileID, zoomOffset int, version string, task *asynctask.Task[[]byte]) {
	opt, err := metatile.Compute(req, zoomOffset, p.MinZoom, p.MaxZoom, p.ZoomGroups)
	if err != nil {
		task.CompleteError(errs.Wrap(errs.NotFound, "zoom out of range", err))
		return
	}
	if !p.Loader.HasVersion(version) {
		task.CompleteError(errs.New(errs.NotFound, "unknown data version"))
		return
	}
	p.Loader.Load(ctx, opt.BaseTile, version, task)
}

// OptimalMetatile exposes the same computation for callers (C8) that
// need the metatile sizing without performing a load.
func (p *Provider) OptimalMetatile(req metatile.TileID, zoomOffset int) (metatile.Optimal, error) {
	return metatile.Compute(req, zoomOffset, p.MinZoom, p.MaxZoom, p.ZoomGroups)
}
