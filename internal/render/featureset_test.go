package render

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkFeature(id int) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{float64(id), float64(id)})
	f.Properties = map[string]interface{}{"id": id}
	return f
}

func TestCachingFeaturesetFirstPassIsPassThrough(t *testing.T) {
	upstream := []*geojson.Feature{mkFeature(1), mkFeature(2), mkFeature(3)}
	fs := NewCachingFeatureset(upstream)

	var got []*geojson.Feature
	for f := fs.Next(); f != nil; f = fs.Next() {
		got = append(got, f)
	}
	require.Len(t, got, 3)
	for i, f := range got {
		assert.Same(t, upstream[i], f)
	}
}

func TestCachingFeaturesetReplaysBufferAfterRewind(t *testing.T) {
	upstream := []*geojson.Feature{mkFeature(1), mkFeature(2)}
	fs := NewCachingFeatureset(upstream)

	for f := fs.Next(); f != nil; f = fs.Next() {
	}

	fs.Rewind()
	var replay []*geojson.Feature
	for f := fs.Next(); f != nil; f = fs.Next() {
		replay = append(replay, f)
	}
	require.Len(t, replay, 2)
	assert.Same(t, upstream[0], replay[0])
	assert.Same(t, upstream[1], replay[1])
}
