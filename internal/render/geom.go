package render

import "github.com/paulmach/orb"

// transformPoints returns a copy of g with every coordinate passed
// through f. Used to re-project MVT feature geometry from a source
// tile's local coordinate space into a target (sub)tile's local
// coordinate space during subtiling (§4.6 "MVT subtile"). orb does not
// expose a generic coordinate-mapping walk over orb.Geometry, so this
// is a small hand-rolled type switch over the orb geometry kinds
// actually produced by vector-tile decoding.
func transformPoints(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return f(v)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		for i, p := range v {
			out[i] = f(p)
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(v))
		for i, p := range v {
			out[i] = f(p)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = transformPoints(ls, f).(orb.LineString)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(v))
		for i, p := range v {
			out[i] = f(p)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, r := range v {
			out[i] = transformPoints(r, f).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = transformPoints(p, f).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, gg := range v {
			out[i] = transformPoints(gg, f)
		}
		return out
	default:
		return g
	}
}
