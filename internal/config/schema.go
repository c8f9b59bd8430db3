package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// keySchema validates one key's value before it is published.
type keySchema struct {
	schema *jsonschema.Schema
}

// RegisterSchema compiles schemaJSON and attaches it to key: every
// subsequent SetValue(key, ...) is rejected (value left unchanged, no
// observers notified) if it fails validation. Call before any backend
// starts publishing.
func (s *Store) RegisterSchema(key string, schemaJSON []byte) error {
	compiled, err := compileSchema(key, schemaJSON)
	if err != nil {
		return fmt.Errorf("config: compile schema for %q: %w", key, err)
	}

	s.mu.Lock()
	s.schemas[key] = &keySchema{schema: compiled}
	s.mu.Unlock()
	return nil
}

func (s *Store) validate(key string, value any) error {
	s.mu.RLock()
	ks := s.schemas[key]
	s.mu.RUnlock()
	if ks == nil {
		return nil
	}

	normalized, err := normalizeForSchema(value)
	if err != nil {
		return fmt.Errorf("config: %q: %w", key, err)
	}
	if err := ks.schema.Validate(normalized); err != nil {
		return fmt.Errorf("config: %q failed validation: %w", key, err)
	}
	return nil
}

func compileSchema(resourceName string, schemaJSON []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "mem://" + resourceName
	if err := c.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// normalizeForSchema round-trips value through encoding/json so that Go
// native types produced by viper (int, int64, map[string]interface{} with
// nested structs) match the plain JSON types
// (jsonschema/v5's Validate expects) rather than failing spurious type
// checks.
func normalizeForSchema(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// documentSchemaJSON validates the shape of a freshly-loaded whole config
// document (spec.md §4.12's recognised surface) before any of it is
// pushed into a Store, surfacing the invalid-config exit code (spec.md
// §6). It is intentionally loose: unknown top-level sections are
// allowed (ignored elsewhere), only the recognised keys are typed.
const documentSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "app": {
      "type": "object",
      "properties": {
        "log_dir": {"type": "string"}
      }
    },
    "server": {
      "type": "object",
      "properties": {
        "endpoints": {"type": "object"}
      }
    },
    "data": {
      "type": "object",
      "properties": {
        "loaders": {"type": "object"},
        "providers": {"type": "object"}
      }
    },
    "cacher": {
      "type": "object",
      "properties": {
        "conn_str": {"type": "string"},
        "user": {"type": "string"},
        "password": {"type": "string"},
        "workers": {"type": "integer", "minimum": 0}
      }
    },
    "render": {
      "type": "object",
      "properties": {
        "workers": {"type": "integer", "minimum": 0},
        "queue_limit": {"type": "integer", "minimum": 0},
        "styles": {"type": "object"}
      }
    }
  }
}`

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

// ValidateDocument checks a parsed whole-config document (e.g. viper's
// AllSettings(), or an etcd snapshot assembled into the same shape)
// against the recognised configuration surface. Callers should reject
// the document (command-line exit code -1, per spec.md §6) rather than
// publish any of it if this returns an error.
func ValidateDocument(doc map[string]any) error {
	documentSchemaOnce.Do(func() {
		documentSchema, documentSchemaErr = compileSchema("document", []byte(documentSchemaJSON))
	})
	if documentSchemaErr != nil {
		return documentSchemaErr
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("config: normalize document: %w", err)
	}
	if err := documentSchema.Validate(normalized); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}
