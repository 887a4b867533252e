// Package engine implements the content-filtering engines: field
// projection, multi-mode search, structure summaries and the exploration
// hinter.
//
// DESIGN: Engines operate on []content.Item and are stateless; every
// call parses, filters and re-serialises without touching shared state,
// so repeated application of the same spec is idempotent and the CPU
// executor can run them concurrently.
//
// FILES:
//   - projection.go:    Include/exclude field-path projection
//   - search.go:        Search spec, dispatch, regex mode
//   - bm25.go:          Okapi BM25 chunk ranking
//   - fuzzy.go:         Levenshtein sliding-window matching
//   - contextsearch.go: Paragraph/section/sentence context extraction
//   - structure.go:     Structure summaries and field discovery
//   - hints.go:         rlm_hints exploration suggestions
package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/compresr/rlm-proxy/internal/content"
)

// Projection modes.
const (
	ModeInclude = "include"
	ModeExclude = "exclude"
)

// ProjectionSpec selects field paths to keep or drop. Paths are
// dot-separated; a segment applied to an array plucks the remainder from
// every element.
type ProjectionSpec struct {
	Mode   string
	Fields []string
}

// Validate rejects malformed specs. The legacy "view" mode is not
// specified and is rejected like any other unknown mode.
func (s ProjectionSpec) Validate() error {
	if s.Mode != ModeInclude && s.Mode != ModeExclude {
		return fmt.Errorf("invalid projection mode %q: must be 'include' or 'exclude'", s.Mode)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("projection requires at least one field")
	}
	return nil
}

// Project applies the spec to every parseable text item. Items that are
// not valid structured data, and image items, pass through unchanged.
func Project(items []content.Item, spec ProjectionSpec) ([]content.Item, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	out := make([]content.Item, 0, len(items))
	for _, it := range items {
		if it.Kind != content.KindText {
			out = append(out, it)
			continue
		}

		var data any
		if err := json.Unmarshal([]byte(it.Text), &data); err != nil {
			out = append(out, it)
			continue
		}
		switch data.(type) {
		case map[string]any, []any:
		default:
			out = append(out, it)
			continue
		}

		projected := projectValue(data, spec)
		text, err := json.MarshalIndent(projected, "", "  ")
		if err != nil {
			out = append(out, it)
			continue
		}
		out = append(out, content.Text(string(text)))
	}
	return out, nil
}

// projectValue dispatches on the tree shape. Arrays are projected
// element-wise; primitives pass through.
func projectValue(data any, spec ProjectionSpec) any {
	switch v := data.(type) {
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = projectValue(item, spec)
		}
		return result
	case map[string]any:
		if spec.Mode == ModeInclude {
			return includeFields(v, spec.Fields)
		}
		return excludeFields(v, spec.Fields)
	default:
		return data
	}
}

// includeFields builds a fresh object containing only the listed paths.
func includeFields(obj map[string]any, fields []string) map[string]any {
	// Dotted paths whose head names an array become per-element plucks:
	// "users.name" and "users.email" group into users -> [name, email].
	arrayFields := make(map[string][]string)
	var regular []string
	for _, field := range fields {
		head, rest, dotted := strings.Cut(field, ".")
		if dotted {
			if _, isArray := obj[head].([]any); isArray {
				arrayFields[head] = append(arrayFields[head], rest)
				continue
			}
		}
		regular = append(regular, field)
	}

	result := make(map[string]any)

	for head, nested := range arrayFields {
		result[head] = projectValue(obj[head], ProjectionSpec{Mode: ModeInclude, Fields: nested})
	}

	spec := ProjectionSpec{Mode: ModeInclude, Fields: fields}
	for _, field := range regular {
		if value, ok := obj[field]; ok {
			switch value.(type) {
			case map[string]any, []any:
				result[field] = projectValue(value, spec)
			default:
				result[field] = value
			}
			continue
		}
		if !strings.Contains(field, ".") {
			continue
		}
		// Nested object path: navigate down and rebuild the hierarchy in
		// the result.
		parts := strings.Split(field, ".")
		current := obj
		ok := true
		for _, part := range parts[:len(parts)-1] {
			next, isMap := current[part].(map[string]any)
			if !isMap {
				ok = false
				break
			}
			current = next
		}
		if !ok {
			continue
		}
		leaf := parts[len(parts)-1]
		value, present := current[leaf]
		if !present {
			continue
		}

		nested := result
		for _, part := range parts[:len(parts)-1] {
			child, isMap := nested[part].(map[string]any)
			if !isMap {
				child = make(map[string]any)
				nested[part] = child
			}
			nested = child
		}
		switch value.(type) {
		case map[string]any, []any:
			nested[leaf] = projectValue(value, spec)
		default:
			nested[leaf] = value
		}
	}
	return result
}

// excludeFields copies the object minus the listed paths. A dotted path
// "a.b.c" keeps "a" but recurses into it excluding "b.c".
func excludeFields(obj map[string]any, fields []string) map[string]any {
	result := make(map[string]any)
	for key, value := range obj {
		drop := false
		var nested []string
		for _, field := range fields {
			if field == key {
				drop = true
				break
			}
			if rest, ok := strings.CutPrefix(field, key+"."); ok {
				nested = append(nested, rest)
			}
		}
		if drop {
			continue
		}

		spec := ProjectionSpec{Mode: ModeExclude, Fields: fields}
		if len(nested) > 0 {
			spec.Fields = nested
		}
		switch value.(type) {
		case map[string]any, []any:
			result[key] = projectValue(value, spec)
		default:
			result[key] = value
		}
	}
	return result
}
