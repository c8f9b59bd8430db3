package render

import "github.com/paulmach/orb/geojson"

// CachingFeatureset adapts an upstream vector-tile layer (decoded MVT
// features) into a datasource a map layer can iterate more than once.
// Map rendering engines typically iterate a layer's features exactly
// once per render pass, but the same decoded layer may be bound to more
// than one active style layer (e.g. a road layer used by both a
// "roads-casing" and a "roads-fill" style layer); the second consumer
// needs to replay what the first already drained from the upstream
// cursor (spec.md §4.6.1).
//
// Invariant: the first call sequence through Next exactly mirrors the
// upstream sequence, storing each feature as it is returned. Any
// subsequent pass (after Rewind) replays the stored buffer instead of
// touching upstream again.
type CachingFeatureset struct {
	upstream []*geojson.Feature
	pos      int

	buffered []*geojson.Feature
	primed   bool
}

// NewCachingFeatureset wraps the decoded feature slice for one MVT
// layer. upstream is consumed lazily and in order as Next is called.
func NewCachingFeatureset(upstream []*geojson.Feature) *CachingFeatureset {
	return &CachingFeatureset{upstream: upstream}
}

// Next returns the next feature, or nil when exhausted. On the first
// pass it pulls from upstream and appends to the internal buffer; on
// later passes (after Rewind) it replays the buffer.
func (c *CachingFeatureset) Next() *geojson.Feature {
	if !c.primed {
		if c.pos >= len(c.upstream) {
			c.primed = true
			c.pos = 0
			return nil
		}
		f := c.upstream[c.pos]
		// A Rewind before upstream is exhausted revisits features that
		// are already buffered; only new ones are appended.
		if c.pos == len(c.buffered) {
			c.buffered = append(c.buffered, f)
		}
		c.pos++
		return f
	}
	if c.pos >= len(c.buffered) {
		c.pos = 0
		return nil
	}
	f := c.buffered[c.pos]
	c.pos++
	return f
}

// Rewind resets the read cursor. After the first full pass (upstream
// exhausted), Rewind switches subsequent iteration to the buffered
// replay path permanently.
func (c *CachingFeatureset) Rewind() {
	c.pos = 0
}
