package render

// FilterTable maps a source MVT layer name to the single layer name it
// is re-emitted under when subtiling, and optionally restricts which of the source layers pass through at
// all. A nil *FilterTable applies no filtering.
type FilterTable struct {
	// Rename maps source layer name -> output layer name. A source
	// layer absent from this map is passed through under its own name,
	// unless Allow is non-nil and excludes it.
	Rename map[string]string

	// Allow, if non-nil, restricts emitted layers to this set (by
	// source layer name). A nil Allow permits all source layers.
	Allow map[string]bool
}

// outputName returns the layer name to use for a source layer, and
// whether the layer should be emitted at all.
func (ft *FilterTable) outputName(sourceLayer string) (string, bool) {
	if ft == nil {
		return sourceLayer, true
	}
	if ft.Allow != nil && !ft.Allow[sourceLayer] {
		return "", false
	}
	if renamed, ok := ft.Rename[sourceLayer]; ok {
		return renamed, true
	}
	return sourceLayer, true
}

// layerAllowed applies an additional query-string layer filter
// (spec.md §3 EndpointParams.allow_layers_query) on top of the
// FilterTable's own allow-list.
func layerAllowed(name string, queryFilter []string) bool {
	if queryFilter == nil {
		return true
	}
	for _, n := range queryFilter {
		if n == name {
			return true
		}
	}
	return false
}
