package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterTableNilPassesThrough(t *testing.T) {
	var ft *FilterTable
	name, ok := ft.outputName("roads")
	assert.True(t, ok)
	assert.Equal(t, "roads", name)
}

func TestFilterTableRename(t *testing.T) {
	ft := &FilterTable{Rename: map[string]string{"roads": "highways"}}
	name, ok := ft.outputName("roads")
	assert.True(t, ok)
	assert.Equal(t, "highways", name)

	name, ok = ft.outputName("water")
	assert.True(t, ok)
	assert.Equal(t, "water", name)
}

func TestFilterTableAllowList(t *testing.T) {
	ft := &FilterTable{Allow: map[string]bool{"roads": true}}
	_, ok := ft.outputName("water")
	assert.False(t, ok)

	name, ok := ft.outputName("roads")
	assert.True(t, ok)
	assert.Equal(t, "roads", name)
}

func TestLayerAllowedNilMeansAll(t *testing.T) {
	assert.True(t, layerAllowed("roads", nil))
}

func TestLayerAllowedFiltersByName(t *testing.T) {
	assert.True(t, layerAllowed("roads", []string{"roads", "water"}))
	assert.False(t, layerAllowed("buildings", []string{"roads", "water"}))
}
