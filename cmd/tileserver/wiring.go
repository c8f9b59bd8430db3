// Wiring translates the config package's opaque sections (spec.md
// §4.12's recognised surface) into the concrete types internal/dispatch,
// internal/dataprovider, and internal/render need: loaders, providers,
// endpoints, and styles. Grounded on atlasdatatech-tiler/main.go's
// config-to-object wiring (initConf plus the per-layer setup that used
// to follow it), generalized from a single batch-download config into
// the full pipeline's component graph.
package main

import (
	"fmt"

	"github.com/atlasdatatech/tileserver/internal/config"
	"github.com/atlasdatatech/tileserver/internal/dataprovider"
	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/metatile"
	"github.com/atlasdatatech/tileserver/internal/render"
	"github.com/atlasdatatech/tileserver/internal/tileloader"
)

// loaderConfig describes one entry of the `data.loaders` section.
type loaderConfig struct {
	Kind     string   `yaml:"kind"`
	Path     string   `yaml:"path"`
	Versions []string `yaml:"versions"`
}

// providerConfig describes one entry of the `data.providers` section.
type providerConfig struct {
	Loader     string `yaml:"loader"`
	MinZoom    int    `yaml:"min_zoom"`
	MaxZoom    int    `yaml:"max_zoom"`
	ZoomGroups []int  `yaml:"zoom_groups"`
}

// endpointConfig describes one entry of the `server.endpoints` section.
type endpointConfig struct {
	Kind             string `yaml:"kind"`
	Style            string `yaml:"style"`
	Provider         string `yaml:"provider"`
	MinZoom          int    `yaml:"min_zoom"`
	MaxZoom          int    `yaml:"max_zoom"`
	ZoomOffset       int    `yaml:"zoom_offset"`
	MetatileWidth    uint32 `yaml:"metatile_width"`
	MetatileHeight   uint32 `yaml:"metatile_height"`
	AutoMetatileSize bool   `yaml:"auto_metatile_size"`
	AllowUTFGrid     bool   `yaml:"allow_utf_grid"`
	UTFGridKey       string `yaml:"utf_grid_key"`
	AllowLayersQuery bool   `yaml:"allow_layers_query"`
}

// styleConfig describes one entry of the `render.styles` section.
type styleConfig struct {
	Path            string `yaml:"path"`
	BasePath        string `yaml:"base_path"`
	Version         uint32 `yaml:"version"`
	Kind            string `yaml:"kind"`
	AllowGridRender bool   `yaml:"allow_grid_render"`
}

func endpointKind(s string) dispatch.EndpointKind {
	switch s {
	case "render":
		return dispatch.KindRender
	case "mvt":
		return dispatch.KindMVT
	default:
		return dispatch.KindStatic
	}
}

func styleKind(s string) render.StyleKind {
	if s == "mvt" {
		return render.StyleMVT
	}
	return render.StyleMapnik
}

// buildLoaders instantiates every configured loader (spec.md §4.4: fs or
// kv). Returned loaders must be closed by the caller on shutdown if they
// support it (KVLoader does; FSLoader doesn't hold a handle).
func buildLoaders(store *config.Store) (map[string]tileloader.Loader, []*tileloader.KVLoader, error) {
	raw, _ := store.Get("data")
	section, _ := raw.(map[string]any)
	rawLoaders, _ := section["loaders"].(map[string]any)

	var cfgs map[string]loaderConfig
	if err := config.DecodeInto(rawLoaders, &cfgs); err != nil {
		return nil, nil, fmt.Errorf("wiring: decode data.loaders: %w", err)
	}

	loaders := make(map[string]tileloader.Loader, len(cfgs))
	var kvLoaders []*tileloader.KVLoader
	for name, c := range cfgs {
		switch c.Kind {
		case "kv":
			l, err := tileloader.OpenKV(c.Path, c.Versions)
			if err != nil {
				return nil, nil, fmt.Errorf("wiring: loader %q: %w", name, err)
			}
			loaders[name] = l
			kvLoaders = append(kvLoaders, l)
		default:
			loaders[name] = tileloader.OpenFS(c.Path, c.Versions)
		}
	}
	return loaders, kvLoaders, nil
}

// buildProviders wraps each configured loader reference in a
// dataprovider.Provider under its zoom policy (spec.md §4.5).
func buildProviders(store *config.Store, loaders map[string]tileloader.Loader) (map[string]*dataprovider.Provider, error) {
	raw, _ := store.Get("data")
	section, _ := raw.(map[string]any)
	rawProviders, _ := section["providers"].(map[string]any)

	var cfgs map[string]providerConfig
	if err := config.DecodeInto(rawProviders, &cfgs); err != nil {
		return nil, fmt.Errorf("wiring: decode data.providers: %w", err)
	}

	providers := make(map[string]*dataprovider.Provider, len(cfgs))
	for name, c := range cfgs {
		loader, ok := loaders[c.Loader]
		if !ok {
			return nil, fmt.Errorf("wiring: provider %q references unknown loader %q", name, c.Loader)
		}
		groups := make(metatile.ZoomGroups, len(c.ZoomGroups))
		copy(groups, c.ZoomGroups)
		providers[name] = dataprovider.New(loader, c.MinZoom, c.MaxZoom, groups)
	}
	return providers, nil
}

// buildEndpoints resolves the `server.endpoints` section into a
// dispatch.EndpointMap, wiring each endpoint to its named provider and
// (for render/mvt endpoints) leaving FilterTable nil — layer filter
// tables are a per-style artifact compiled by the render manager, not a
// config value.
func buildEndpoints(store *config.Store, providers map[string]*dataprovider.Provider) (dispatch.EndpointMap, error) {
	raw, _ := store.Get("server")
	section, _ := raw.(map[string]any)
	rawEndpoints, _ := section["endpoints"].(map[string]any)

	var cfgs map[string]endpointConfig
	if err := config.DecodeInto(rawEndpoints, &cfgs); err != nil {
		return nil, fmt.Errorf("wiring: decode server.endpoints: %w", err)
	}

	endpoints := make(dispatch.EndpointMap, len(cfgs))
	for name, c := range cfgs {
		provider := providers[c.Provider]
		endpoints[name] = dispatch.EndpointParams{
			Kind:             endpointKind(c.Kind),
			StyleName:        c.Style,
			MinZoom:          c.MinZoom,
			MaxZoom:          c.MaxZoom,
			ZoomOffset:       c.ZoomOffset,
			MetatileWidth:    c.MetatileWidth,
			MetatileHeight:   c.MetatileHeight,
			AutoMetatileSize: c.AutoMetatileSize,
			DataProvider:     provider,
			AllowUTFGrid:     c.AllowUTFGrid,
			UTFGridKey:       c.UTFGridKey,
			AllowLayersQuery: c.AllowLayersQuery,
		}
	}
	return endpoints, nil
}

// decodeStyles turns the `render/styles` value into the []render.StyleInfo
// shape render.Manager.UpdateStyles expects.
func decodeStyles(value any) ([]render.StyleInfo, error) {
	var cfgs map[string]styleConfig
	if err := config.DecodeInto(value, &cfgs); err != nil {
		return nil, fmt.Errorf("wiring: decode render/styles: %w", err)
	}
	out := make([]render.StyleInfo, 0, len(cfgs))
	for name, c := range cfgs {
		out = append(out, render.StyleInfo{
			Name:            name,
			PathOrInline:    c.Path,
			BasePath:        c.BasePath,
			Version:         c.Version,
			AllowGridRender: c.AllowGridRender,
			Kind:            styleKind(c.Kind),
		})
	}
	return out, nil
}
