package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTFGridEncodesKeysInInsertionOrder(t *testing.T) {
	g := NewUTFGrid(256, 256)
	g.AddFeature("1", map[string]interface{}{"name": "a"})
	g.AddFeature("2", map[string]interface{}{"name": "b"})
	g.AddFeature("1", map[string]interface{}{"name": "a-updated"})

	data, err := g.Encode()
	require.NoError(t, err)

	var decoded struct {
		Keys []string                          `json:"keys"`
		Data map[string]map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"1", "2"}, decoded.Keys)
	assert.Equal(t, "a-updated", decoded.Data["1"]["name"])
}
