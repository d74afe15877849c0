package statechart

import (
	"fmt"

	"github.com/oliveagle/jsonpath"
)

type ObjectType string

const (
	TypeString  ObjectType = "string"
	TypeObject  ObjectType = "object"
	TypeNumber  ObjectType = "number"
	TypeBoolean ObjectType = "boolean"
	TypeArray   ObjectType = "array"
)

// ObjectDefinition is a lightweight template for building a value out of
// literals and JSON-path lookups. Paths are evaluated against whatever root
// document the caller provides, typically {"context": ..., "event": ...}.
type ObjectDefinition struct {
	Type       ObjectType                  `json:"type"`
	Value      any                         `json:"value,omitempty"`
	JSONPath   string                      `json:"jsonPath,omitempty"`
	Properties map[string]ObjectDefinition `json:"properties,omitempty"`
}

// Evaluate resolves an object definition against the given root document.
// A missing JSON-path resolves to nil rather than failing the whole
// evaluation.
func Evaluate(def *ObjectDefinition, root map[string]any) any {
	if def == nil {
		return nil
	}
	if def.Type == TypeObject && len(def.Properties) > 0 {
		out := make(map[string]any, len(def.Properties))
		for name, prop := range def.Properties {
			prop := prop
			out[name] = Evaluate(&prop, root)
		}
		return out
	}
	if def.JSONPath != "" {
		value, err := jsonpath.JsonPathLookup(normalize(root), def.JSONPath)
		if err != nil {
			return nil
		}
		return value
	}
	return def.Value
}

// Lookup resolves a single JSON-path expression against the root document.
func Lookup(path string, root map[string]any) (any, error) {
	value, err := jsonpath.JsonPathLookup(normalize(root), path)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", path, err)
	}
	return value, nil
}

// normalize round-trips values through plain maps and slices so the path
// library only ever sees the generic JSON object model.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
