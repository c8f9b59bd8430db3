// Package statemachine implements the per-request controller
// (SPEC_FULL.md §4.10, unchanged from spec.md §4.10): cache lookup,
// peer redirection, lock-and-generate contention handling, and the
// request deadline. Grounded on original_source/src/tile_handler.cpp/
// base_handler.cpp/proxy_handler.cpp for the exact state table;
// re-derived here as a small struct with one method per state instead
// of virtual dispatch through a handler base class (SPEC_FULL.md §9's
// redesign flag on that hierarchy).
package statemachine

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/cacher"
	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/peers"
	"github.com/atlasdatatech/tileserver/internal/processor"
	"github.com/atlasdatatech/tileserver/internal/render"
)

// DefaultDeadline is the time budget for a request up to its first
// response byte (spec.md §4.10 "20s to first response").
const DefaultDeadline = 20 * time.Second

// GraceWriteDeadline is the extra budget the spec grants a request that
// has already started emitting its response when the main deadline
// fires. Stdlib net/http streams response bytes straight to the
// connection rather than through a userspace send buffer the state
// machine owns, so this package only ever enforces DefaultDeadline;
// GraceWriteDeadline is exported for the HTTP layer to apply as a
// per-write deadline on the response connection once bytes start
// flowing (see DESIGN.md).
const GraceWriteDeadline = 5 * time.Second

// Response is the single tile served back to the caller of Handle.
type Response struct {
	Data []byte
}

// PeerProxy fetches a tile from a remote peer on behalf of the state
// machine (spec.md §4.10 "Proxy"). Implementations live outside this
// package (the HTTP layer), keeping the transport concern out of the
// controller.
type PeerProxy interface {
	Fetch(ctx context.Context, addr string, req dispatch.TileRequest) (Response, error)
}

// Styles resolves a style's authoritative version for cache-key
// composition (render.Manager satisfies this).
type Styles interface {
	ActiveStyle(name string) (render.ActiveStyle, bool)
}

// Deps wires the controller to the rest of the pipeline. Cacher, Peers,
// and Proxy may be nil, in which case the corresponding states
// (CacheLookup, PeerDecide/Proxy) are skipped, per spec.md §4.10.
type Deps struct {
	Cacher    *cacher.Cacher
	Processor *processor.Processor
	Peers     *peers.Directory
	Proxy     PeerProxy
	Styles    Styles
}

// Handle runs req through the state machine, completing task exactly
// once with either the served tile or a classified error suitable for
// mapping to an HTTP status (errs.KindOf). req has already been parsed
// and resolved against the endpoint map by the dispatch package; the
// `Parse` state of spec.md §4.10 is therefore the caller's
// responsibility (a parse failure never reaches Handle).
func Handle(ctx context.Context, deps Deps, req dispatch.TileRequest, task *asynctask.Task[Response]) {
	dctx, cancel := context.WithCancel(ctx)

	r := &run{
		ctx:   dctx,
		deps:  deps,
		req:   req,
		task:  task,
		style: styleInfoFor(deps, req),
	}

	timer := time.AfterFunc(DefaultDeadline, func() {
		r.fail(errs.New(errs.Timeout, "deadline expired"))
	})
	r.cleanup = func() { timer.Stop(); cancel() }

	r.cacheLookup()
}

// run carries one request's mutable state through its transitions. At
// most one cache lock is live at a time (spec.md §4.10 "Cancellation");
// mu guards it against a racing deadline. A generation dispatched by
// generate() is deliberately NOT tracked here: once started, it runs to
// completion and writes through regardless of this request's own
// deadline (spec.md §4.10, §5 — "a cancelled generation still completes
// its write-through so cache occupancy is not wasted").
type run struct {
	ctx     context.Context
	deps    Deps
	req     dispatch.TileRequest
	task    *asynctask.Task[Response]
	style   dispatch.StyleVersion
	cleanup func()

	mu   sync.Mutex
	done bool
	lock *cacher.Lock
}

// takeLock installs lock as the request's held cache lock, unless the
// request already finished (in which case it is released immediately —
// the deadline fired between LockUntilSet returning and this call).
func (r *run) takeLock(lock *cacher.Lock) bool {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		lock.Unlock()
		return false
	}
	r.lock = lock
	r.mu.Unlock()
	return true
}

// releaseLock errors any waiters on the held lock (generation aborted
// without a Set) and clears it. Safe to call when no lock is held.
func (r *run) releaseLock() {
	r.mu.Lock()
	lock := r.lock
	r.lock = nil
	r.mu.Unlock()
	if lock != nil {
		lock.Unlock()
	}
}

// commitLock releases the held lock without erroring waiters, since
// every tile has already been written through (spec.md §4.10
// "WriteThroughAndRespond").
func (r *run) commitLock() {
	r.mu.Lock()
	lock := r.lock
	r.lock = nil
	r.mu.Unlock()
	if lock != nil {
		lock.Cancel()
	}
}

// markDone transitions the request to terminal exactly once, returning
// whether this call won that race. Callers use it to guard their
// completion of r.task. It tears down the request's own deadline timer
// and context, but never reaches into an in-flight generation — that
// runs under its own context and outlives this call (see generate).
func (r *run) markDone() bool {
	r.mu.Lock()
	already := r.done
	r.done = true
	r.mu.Unlock()
	if already {
		return false
	}
	if r.cleanup != nil {
		r.cleanup()
	}
	return true
}

// fail completes the task with err, releasing any held lock, unless the
// request already finished.
func (r *run) fail(err error) {
	if !r.markDone() {
		return
	}
	r.releaseLock()
	r.task.CompleteError(err)
}

func (r *run) succeed(resp Response) {
	if !r.markDone() {
		return
	}
	r.task.CompleteSuccess(resp)
}

// cacheLookup implements the `CacheLookup` state.
func (r *run) cacheLookup() {
	if r.deps.Cacher == nil {
		r.lockAndGenerate()
		return
	}

	key := dispatch.CacheKey(r.req, r.req.TileID, r.style)
	getTask := asynctask.New[*cacher.CachedTile](
		func(tile *cacher.CachedTile) { r.succeed(Response{Data: tile.Data}) },
		func(err error) { r.peerDecide() },
		nil,
	)
	r.deps.Cacher.Get(r.ctx, key, getTask)
}

// peerDecide implements the `PeerDecide` state.
func (r *run) peerDecide() {
	if r.req.Internal || r.deps.Peers == nil || r.deps.Proxy == nil {
		r.lockAndGenerate()
		return
	}

	snapshot := r.deps.Peers.ActiveNodes()
	target, ok := snapshot.Target(r.req.MetatileID.LT)
	if !ok || target.Self {
		r.lockAndGenerate()
		return
	}
	r.proxy(target.Addr)
}

// proxy implements the `Proxy` state.
func (r *run) proxy(addr string) {
	resp, err := r.deps.Proxy.Fetch(r.ctx, addr, r.req)
	if err == nil {
		r.succeed(resp)
		return
	}
	switch errs.KindOf(err) {
	case errs.PeerConnect:
		log.WithError(err).WithField("peer", addr).Warn("statemachine: peer unreachable, generating locally")
		r.lockAndGenerate()
	default:
		r.fail(errs.Wrap(errs.PeerProtocol, "peer proxy failed", err))
	}
}

// lockAndGenerate implements the `LockAndGenerate` state. The lock set
// is the cache keys of every tile in the request's metatile (spec.md
// §4.10), so concurrent requests for any tile in the same metatile
// rendezvous on one generation.
func (r *run) lockAndGenerate() {
	if r.deps.Cacher == nil {
		r.generate(nil)
		return
	}

	tileIDs := r.req.MetatileID.TileIDs()
	keys := make([]string, len(tileIDs))
	for i, id := range tileIDs {
		keys[i] = dispatch.CacheKey(r.req, id, r.style)
	}

	lock := r.deps.Cacher.LockUntilSet(keys)
	if lock == nil {
		r.waitForCacheOrFail()
		return
	}
	if !r.takeLock(lock) {
		return
	}
	r.generate(keys)
}

// waitForCacheOrFail implements the `WaitForCacheOrFail` state: the
// lock is already held by another generation, so re-issue the cache
// get. Cacher.Get transparently enqueues this request as a set-waiter
// on the held lock, so it resolves exactly when the other generation's
// Set (hit) or Lock.Unlock (miss) fires.
func (r *run) waitForCacheOrFail() {
	key := dispatch.CacheKey(r.req, r.req.TileID, r.style)
	getTask := asynctask.New[*cacher.CachedTile](
		func(tile *cacher.CachedTile) { r.succeed(Response{Data: tile.Data}) },
		func(err error) {
			r.fail(errs.Wrap(errs.Internal, "generation contention: other generator failed", err))
		},
		nil,
	)
	r.deps.Cacher.Get(r.ctx, key, getTask)
}

// generate implements the `Generate` state, dispatching to the tile
// processor. keys is nil when no cacher is configured.
//
// The generation runs under its own context, independent of r.ctx: a
// request that hits its deadline must not cancel the generation it
// started, because the generation's write-through is what actually
// populates the cache for every other tile in the metatile (spec.md
// §4.10, §5 — "a cancelled generation still completes its
// write-through so cache occupancy is not wasted"). genCancel is
// called exactly once, when the generation's task completes, so the
// processor's own context-cancellation watcher (processor.Processor)
// is released promptly rather than held open for the life of the
// process.
func (r *run) generate(keys []string) {
	genCtx, genCancel := context.WithCancel(context.Background())
	procTask := asynctask.New[metatile.Metatile](
		func(mt metatile.Metatile) {
			defer genCancel()
			r.writeThroughAndRespond(genCtx, mt, keys)
		},
		func(err error) {
			genCancel()
			r.fail(err)
		},
		nil,
	)
	r.deps.Processor.Process(genCtx, r.req, procTask)
}

// writeThroughAndRespond implements the `WriteThroughAndRespond` state:
// every produced tile is written through the cacher (releasing that
// key's waiters), then the lock is committed before the caller's own
// tile is returned. ctx is the generation's own context (see generate),
// not r.ctx, so a write-through that finishes after this request's own
// deadline still lands in the cache.
func (r *run) writeThroughAndRespond(ctx context.Context, mt metatile.Metatile, keys []string) {
	var ownData []byte
	if r.deps.Cacher != nil && keys != nil {
		for i, tile := range mt.Tiles {
			if tile.ID == r.req.TileID {
				ownData = tile.Data
			}
			r.deps.Cacher.Set(ctx, keys[i], &cacher.CachedTile{Data: tile.Data, Policy: cacher.PolicyRegular}, nil)
		}
		r.commitLock()
	} else {
		for _, tile := range mt.Tiles {
			if tile.ID == r.req.TileID {
				ownData = tile.Data
			}
		}
	}

	r.succeed(Response{Data: ownData})
}

func styleInfoFor(deps Deps, req dispatch.TileRequest) dispatch.StyleVersion {
	if deps.Styles == nil || req.Endpoint.StyleName == "" {
		return dispatch.StyleVersionUnknown()
	}
	active, ok := deps.Styles.ActiveStyle(req.Endpoint.StyleName)
	if !ok {
		return dispatch.StyleVersionUnknown()
	}
	return dispatch.StyleVersionKnown(active.Version)
}
