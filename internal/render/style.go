// Package render implements the render manager and render workers
// (SPEC_FULL.md §4.6): hot-swappable map styles, per-worker compiled map
// state, and rendering/subtiling dispatched through the worker pool.
package render

// StyleKind distinguishes the two style families a StyleInfo can name.
type StyleKind int

const (
	StyleMapnik StyleKind = iota
	StyleMVT
)

// StyleInfo describes one named map style (SPEC_FULL.md §3). Version
// must be strictly increasing across updates to participate in cache
// key computation.
type StyleInfo struct {
	Name            string
	PathOrInline    string
	BasePath        string
	Version         uint32
	AllowGridRender bool
	Kind            StyleKind
}

// ActiveStyle is the authoritative (name, version) pair published after
// a successful style update, used for cache-key computation and for
// rejecting requests against an unknown style (SPEC_FULL.md §4.6 "Style
// lifecycle", step 5).
type ActiveStyle struct {
	Name    string
	Version uint32
}

// activeSnapshot is the copy-on-write set of active styles, read by any
// number of concurrent requests without blocking a concurrent publish
// (SPEC_FULL.md §3 "Peer-directory snapshots are immutable" pattern,
// applied identically here per SPEC_FULL.md §5's "hot-style swap...
// observed atomically per request").
type activeSnapshot struct {
	byName map[string]ActiveStyle
}

func newActiveSnapshot(styles []StyleInfo) *activeSnapshot {
	m := make(map[string]ActiveStyle, len(styles))
	for _, s := range styles {
		m[s.Name] = ActiveStyle{Name: s.Name, Version: s.Version}
	}
	return &activeSnapshot{byName: m}
}

// Lookup returns the active (name, version) for a style, or ok=false if
// the style is unknown.
func (s *activeSnapshot) Lookup(name string) (ActiveStyle, bool) {
	if s == nil {
		return ActiveStyle{}, false
	}
	v, ok := s.byName[name]
	return v, ok
}

// CompiledStyle is the worker-local, single-thread-owned compiled form
// of a StyleInfo (SPEC_FULL.md §3: "derived map state is owned
// exclusively by the worker thread holding it"). The concrete rendering
// engine is an external collaborator (SPEC_FULL.md §1); this interface
// is what a worker holds per style name.
type CompiledStyle interface {
	// StyleVersion is the StyleInfo.Version this compiled state was
	// built from, used to decide whether a worker can reuse it across
	// an update (SPEC_FULL.md §4.6 "Style lifecycle", step 2).
	StyleVersion() uint32
}
