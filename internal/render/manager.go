package render

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/workerpool"
)

// Manager coordinates a fixed worker pool's render workers: it runs
// the style-update protocol (spec.md §4.6 "Style lifecycle") and
// dispatches RenderRequest/SubtileRequest work onto the pool.
type Manager struct {
	pool     *workerpool.Pool
	renderer Renderer
	loader   StyleLoader

	workersMu sync.Mutex
	workers   map[workerpool.Handle]*RenderWorker

	active atomic.Pointer[activeSnapshot]

	updateMu   sync.Mutex
	updating   bool
	pending    []StyleInfo
	hasPending bool
}

// NewManager constructs a Manager over an already-created pool. Use
// AddWorker to populate it with render workers.
func NewManager(pool *workerpool.Pool, renderer Renderer, loader StyleLoader) *Manager {
	m := &Manager{
		pool:     pool,
		renderer: renderer,
		loader:   loader,
		workers:  make(map[workerpool.Handle]*RenderWorker),
	}
	m.active.Store(newActiveSnapshot(nil))
	return m
}

// AddWorker spawns one more render worker on the pool.
func (m *Manager) AddWorker() workerpool.Handle {
	rw := NewRenderWorker()
	var h workerpool.Handle
	ready := make(chan struct{})
	h = m.pool.PushWorker(rw, func(error) { close(ready) })
	<-ready
	m.workersMu.Lock()
	m.workers[h] = rw
	m.workersMu.Unlock()
	return h
}

func (m *Manager) workerFor(h workerpool.Handle) *RenderWorker {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()
	return m.workers[h]
}

// ActiveStyle returns the authoritative (name, version) for name, used
// for cache-key computation and for rejecting requests against an
// unknown style (spec.md §4.6).
func (m *Manager) ActiveStyle(name string) (ActiveStyle, bool) {
	return m.active.Load().Lookup(name)
}

// UpdateStyles requests a style-set swap. If an update is already in
// progress, this one is coalesced: only the most recently requested
// set is applied once the in-progress update finishes (spec.md §4.6:
// "only one update process is active at a time").
func (m *Manager) UpdateStyles(styles []StyleInfo) {
	m.updateMu.Lock()
	if m.updating {
		m.pending = styles
		m.hasPending = true
		m.updateMu.Unlock()
		return
	}
	m.updating = true
	m.updateMu.Unlock()
	go m.runUpdate(styles)
}

func (m *Manager) runUpdate(styles []StyleInfo) {
	for {
		m.applyUpdate(styles)

		m.updateMu.Lock()
		if m.hasPending {
			styles = m.pending
			m.pending = nil
			m.hasPending = false
			m.updateMu.Unlock()
			continue
		}
		m.updating = false
		m.updateMu.Unlock()
		return
	}
}

// applyUpdate runs steps 1-5 of the style-lifecycle protocol against
// the pool's current worker set.
func (m *Manager) applyUpdate(styles []StyleInfo) {
	m.workersMu.Lock()
	handles := make([]workerpool.Handle, 0, len(m.workers))
	for h := range m.workers {
		handles = append(handles, h)
	}
	m.workersMu.Unlock()

	accepted := make([]workerpool.Handle, 0, len(handles))
	var failure error
	for _, h := range handles {
		rw := m.workerFor(h)
		if rw == nil {
			continue
		}
		done := make(chan error, 1)
		hh, rww := h, rw
		m.pool.ExecuteOnWorker(hh, func() { done <- rww.UpdateStyles(m.loader, styles) })
		if err := <-done; err != nil {
			failure = err
			break
		}
		accepted = append(accepted, h)
	}

	if failure != nil {
		log.WithError(failure).Warn("render: style update failed, cancelling")
		for _, h := range accepted {
			rw := m.workerFor(h)
			hh, rww := h, rw
			m.pool.ExecuteOnWorker(hh, func() { rww.CancelUpdate() })
		}
		return
	}

	for _, h := range handles {
		rw := m.workerFor(h)
		hh, rww := h, rw
		m.pool.ExecuteOnWorker(hh, func() { rww.CommitUpdate() })
	}

	m.active.Store(newActiveSnapshot(styles))
}

// Render submits a RenderRequest to the pool; reply is invoked on
// whichever worker picks up the job.
func (m *Manager) Render(req RenderRequest, reply func(metatile.Metatile, error)) {
	m.pool.PostTask(&renderJob{req: req, renderer: m.renderer, reply: reply})
}

// Subtile submits a SubtileRequest to the pool.
func (m *Manager) Subtile(req SubtileRequest, reply func(metatile.Tile, error)) {
	m.pool.PostTask(&subtileJob{req: req, reply: reply})
}
