// Package bindings implements the binding generator (spec.md §4.E): for
// every backend, one typed Go stub per tool plus a per-backend index,
// then a top-level index listing every backend namespace by name (it
// does not import or re-export the backend packages). Grounded
// on spec.md §4.E directly (the teacher ships no code generator); the
// schema walk is built on google/jsonschema-go, the same schema package
// the Model Context Protocol go-sdk itself depends on for tool
// input/output schemas, rather than hand-rolling a walker over
// map[string]any.
package bindings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"
)

// parseSchema decodes a raw JSON-schema map (as carried on ToolRecord)
// into a typed *jsonschema.Schema. A nil/empty map yields a nil schema,
// meaning "opaque" to the caller.
func parseSchema(raw map[string]any) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("bindings: re-encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("bindings: decode schema: %w", err)
	}
	return &s, nil
}

// goType renders the Go type for a schema node. Unknown or absent
// schemas render as "any" (spec.md §4.E: "unknown/opaque when absent").
func goType(s *jsonschema.Schema) string {
	if s == nil {
		return "any"
	}
	switch s.Type {
	case "string":
		return "string"
	case "integer":
		return "int64"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "array":
		return "[]" + goType(s.Items)
	case "object":
		// Nested objects render as a map rather than a named struct; only
		// the top-level input/output schema (handled by structFields via
		// the generator) gets a generated struct type.
		return "map[string]any"
	default:
		return "any"
	}
}

// structField is one field of a generated struct type.
type structField struct {
	GoName   string
	JSONName string
	GoType   string
	Optional bool
}

// structFields renders an object schema's properties into a
// deterministically ordered field list (sorted by JSON name), so
// generator output is byte-identical across runs over the same schema.
func structFields(s *jsonschema.Schema) []structField {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]structField, 0, len(names))
	for _, name := range names {
		prop := s.Properties[name]
		typ := goType(prop)
		optional := !required[name]
		if optional && !strings.HasPrefix(typ, "[]") && !strings.HasPrefix(typ, "map[") && typ != "any" {
			typ = "*" + typ
		}
		fields = append(fields, structField{
			GoName:   exportedFieldName(name),
			JSONName: name,
			GoType:   typ,
			Optional: optional,
		})
	}
	return fields
}

// exportedFieldName converts a JSON schema property name (snake_case or
// arbitrary) into an exported Go identifier: every run of characters
// other than letters and digits is a word break, and each word is
// capitalized. A name that begins with a digit is not adjusted, so it
// does not yield a valid identifier.
func exportedFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var sb strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	if sb.Len() == 0 {
		return "Field"
	}
	return sb.String()
}
