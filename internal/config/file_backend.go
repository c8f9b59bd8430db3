package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// rootKeys are config sections published as one opaque value each,
// mirroring original_source/src/etcd_config.cpp's kRootMapping (the
// whole subtree is one ValueHolder; consumers that need only part of it
// still attach at the section level).
var rootKeys = []string{"app", "server", "data", "cacher"}

// renderKeys are published individually, mirroring etcd_config.cpp's
// kRenderMapping: render/styles changes far more often than
// render/workers or render/queue_limit, so each gets its own key and its
// own observers.
var renderKeys = []string{"workers", "queue_limit", "styles"}

// LoadFile reads path once (format inferred from its extension — yaml,
// toml, or json all work via viper, widening json_config.cpp's
// JSON-only original) and publishes every recognised key present in it
// (spec.md §4.12). It validates the whole document against
// ValidateDocument before publishing anything, so a malformed file fails
// atomically rather than partially applying.
func LoadFile(store *Store, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := ValidateDocument(v.AllSettings()); err != nil {
		return err
	}

	for _, key := range rootKeys {
		if !v.IsSet(key) {
			continue
		}
		if err := store.SetValue(key, v.Get(key)); err != nil {
			return err
		}
	}
	for _, sub := range renderKeys {
		dotted := "render." + sub
		if !v.IsSet(dotted) {
			continue
		}
		if err := store.SetValue("render/"+sub, v.Get(dotted)); err != nil {
			return err
		}
	}
	return nil
}
