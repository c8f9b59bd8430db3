package config

import "gopkg.in/yaml.v3"

// DecodeInto re-marshals value (typically a map[string]interface{}
// produced by a backend's Get/SetValue) through YAML and decodes it into
// target. This is how a consumer turns an opaque config value into its
// own typed shape — e.g. render/styles into a []render.StyleInfo,
// server/endpoints into a typed endpoint map — without hand-walking the
// map itself.
func DecodeInto(value any, target any) error {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, target)
}
