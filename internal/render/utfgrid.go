package render

import "encoding/json"

// UTFGrid is a simplified UTF-grid interactivity payload (glossary:
// "a JSON payload mapping pixel regions to feature attributes"). This
// implementation tracks only the feature-id -> attribute mapping; the
// per-pixel key grid itself is the rendering engine's responsibility
// and is not reproduced by the placeholder renderer.
type UTFGrid struct {
	Width, Height int
	Data          map[string]map[string]interface{} `json:"data"`
	order         []string
}

// NewUTFGrid constructs an empty grid for the given pixel dimensions.
func NewUTFGrid(width, height int) *UTFGrid {
	return &UTFGrid{Width: width, Height: height, Data: make(map[string]map[string]interface{})}
}

// AddFeature records one feature's attributes under key (the
// configured utfgrid_key value, spec.md §3 EndpointParams.utfgrid_key).
func (g *UTFGrid) AddFeature(key string, props map[string]interface{}) {
	if _, ok := g.Data[key]; !ok {
		g.order = append(g.order, key)
	}
	g.Data[key] = props
}

// Encode serializes the grid to its JSON wire form.
func (g *UTFGrid) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Grid []string                          `json:"grid"`
		Keys []string                          `json:"keys"`
		Data map[string]map[string]interface{} `json:"data"`
	}{
		Grid: nil,
		Keys: g.order,
		Data: g.Data,
	})
}
