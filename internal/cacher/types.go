// Package cacher implements the backend-agnostic tile cacher
// (SPEC_FULL.md §4.7): single-flight get, lock-until-set, set, touch, and
// a short-lived post-write memory (tmp_cache) that absorbs bursts of
// identical reads immediately after a write. Concrete backends plug in
// through the three-op Backend interface; the coordination layer never
// performs I/O itself.
package cacher

import "time"

// Policy drives the TTL used when a tile is written through to the
// backend (SPEC_FULL.md §4.7 "Expire mapping").
type Policy int

const (
	PolicyError Policy = iota
	PolicyRegular
	PolicyExtended
)

// Expire returns the TTL associated with a policy.
func (p Policy) Expire() time.Duration {
	switch p {
	case PolicyRegular:
		return 86400 * time.Second
	case PolicyExtended:
		return 259200 * time.Second
	case PolicyError:
		return 20 * time.Second
	default:
		return 20 * time.Second
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyRegular:
		return "regular"
	case PolicyExtended:
		return "extended"
	case PolicyError:
		return "error"
	default:
		return "unknown"
	}
}

// Header is one (name, value) pair carried alongside a cached tile's
// bytes.
type Header struct {
	Name  string
	Value string
}

// CachedTile is the unit the cacher stores and serves. Its bytes are
// shared read-only between cache-hit responders and in-flight waiters;
// never mutated after publishing (SPEC_FULL.md §3 ownership rules).
type CachedTile struct {
	Data    []byte
	Headers []Header
	Policy  Policy
}

// tmpCacheGrace is the short grace window tmp_cache entries survive
// after being retrieved or written, bridging backend replication lag
// (SPEC_FULL.md §4.7 "Rationale").
const tmpCacheGrace = 60 * time.Second
