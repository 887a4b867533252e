package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compresr/rlm-proxy/internal/content"
)

const (
	defaultMaxDepth     = 3
	sampleMaxItems      = 3
	sampleStringLimit   = 100
	textPreviewLimit    = 200
	keysTreeBranchLimit = 10
)

// Summarize describes the shape of the first text item without returning
// its data: root type, size metrics, a truncated keys-tree, a small sample
// and statistics. Non-parseable text gets text-only stats.
func Summarize(items []content.Item, maxDepth int) []content.Item {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	text := content.FirstText(items)
	if text == "" {
		return []content.Item{content.Text(noMatches)}
	}

	var summary map[string]any
	if json.Valid([]byte(text)) {
		root := gjson.Parse(text)
		summary = map[string]any{
			"type":       typeName(root),
			"size":       sizeOf(root),
			"keys":       keysTree(root, maxDepth),
			"sample":     sampleOf(root, sampleMaxItems),
			"statistics": statisticsOf(root),
		}
	} else {
		summary = map[string]any{
			"type":    "text",
			"length":  len(text),
			"lines":   strings.Count(text, "\n") + 1,
			"words":   len(strings.Fields(text)),
			"preview": truncateString(text, textPreviewLimit),
		}
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return []content.Item{content.Text(fmt.Sprintf("Error: failed to summarize structure: %v", err))}
	}
	return []content.Item{
		content.Text("Structure summary:"),
		content.Text(string(out)),
	}
}

// DiscoverFields lists dot-separated field paths reachable within maxDepth,
// in document order. Array elements are represented by a "[]" segment.
func DiscoverFields(text string, maxDepth int) []string {
	if !json.Valid([]byte(text)) {
		return nil
	}
	return discoverFields(gjson.Parse(text), maxDepth, "")
}

func discoverFields(r gjson.Result, depth int, prefix string) []string {
	if depth <= 0 {
		return nil
	}

	var fields []string
	if r.IsObject() {
		r.ForEach(func(key, value gjson.Result) bool {
			path := key.String()
			if prefix != "" {
				path = prefix + "." + path
			}
			fields = append(fields, path)
			if value.IsObject() || value.IsArray() {
				fields = append(fields, discoverFields(value, depth-1, path)...)
			}
			return true
		})
		return fields
	}
	if r.IsArray() {
		elems := r.Array()
		if len(elems) == 0 {
			return nil
		}
		path := "[]"
		if prefix != "" {
			path = prefix + "[]"
		}
		if elems[0].IsObject() {
			return discoverFields(elems[0], depth-1, path)
		}
		return []string{path}
	}
	return nil
}

func typeName(r gjson.Result) string {
	switch {
	case r.IsObject():
		return "object"
	case r.IsArray():
		return "array"
	case r.Type == gjson.String:
		return "string"
	case r.Type == gjson.True, r.Type == gjson.False:
		return "boolean"
	case r.Type == gjson.Number:
		return "number"
	case r.Type == gjson.Null:
		return "null"
	}
	return "unknown"
}

func sizeOf(r gjson.Result) map[string]any {
	switch {
	case r.IsObject():
		total := 0
		r.ForEach(func(_, value gjson.Result) bool {
			total += countItems(value)
			return true
		})
		return map[string]any{"fields": len(r.Map()), "total_items": total}
	case r.IsArray():
		total := 0
		elems := r.Array()
		for _, e := range elems {
			total += countItems(e)
		}
		return map[string]any{"items": len(elems), "total_items": total}
	case r.Type == gjson.String:
		s := r.String()
		return map[string]any{"characters": len(s), "lines": strings.Count(s, "\n") + 1}
	}
	return map[string]any{}
}

func countItems(r gjson.Result) int {
	switch {
	case r.IsObject():
		n := 1
		r.ForEach(func(_, value gjson.Result) bool {
			n += countItems(value)
			return true
		})
		return n
	case r.IsArray():
		return len(r.Array())
	}
	return 1
}

// keysTree renders the shape of the tree, capped in depth ("...") and in
// breadth (first 10 keys, first array element).
func keysTree(r gjson.Result, depth int) any {
	if depth <= 0 {
		return "..."
	}
	if r.IsObject() {
		tree := make(map[string]any)
		i := 0
		r.ForEach(func(key, value gjson.Result) bool {
			tree[key.String()] = keysTree(value, depth-1)
			i++
			return i < keysTreeBranchLimit
		})
		return tree
	}
	if r.IsArray() {
		if elems := r.Array(); len(elems) > 0 {
			return []any{keysTree(elems[0], depth - 1)}
		}
	}
	return typeName(r)
}

func sampleOf(r gjson.Result, maxItems int) any {
	switch {
	case r.IsObject():
		sample := make(map[string]any)
		i := 0
		r.ForEach(func(key, value gjson.Result) bool {
			sample[key.String()] = sampleOf(value, 1)
			i++
			return i < maxItems
		})
		return sample
	case r.IsArray():
		var sample []any
		for _, e := range r.Array() {
			sample = append(sample, sampleOf(e, 1))
			if len(sample) >= maxItems {
				break
			}
		}
		return sample
	case r.Type == gjson.String:
		return truncateString(r.String(), sampleStringLimit)
	}
	return r.Value()
}

func statisticsOf(r gjson.Result) map[string]any {
	stats := make(map[string]any)
	switch {
	case r.IsArray():
		elems := r.Array()
		stats["count"] = len(elems)
		if len(elems) > 0 && elems[0].IsObject() {
			stats["fields"] = firstKeys(elems[0], keysTreeBranchLimit)
		}
	case r.IsObject():
		keys := firstKeys(r, 20)
		stats["field_count"] = len(r.Map())
		stats["field_names"] = keys
	case r.Type == gjson.String:
		s := r.String()
		stats["length"] = len(s)
		stats["lines"] = strings.Count(s, "\n") + 1
		stats["words"] = len(strings.Fields(s))
	}
	return stats
}

func firstKeys(r gjson.Result, limit int) []string {
	var keys []string
	r.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return len(keys) < limit
	})
	return keys
}

func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
