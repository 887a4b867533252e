package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/compresr/rlm-proxy/internal/content"
)

// Search modes.
const (
	SearchRegex     = "regex"
	SearchBM25      = "bm25"
	SearchFuzzy     = "fuzzy"
	SearchContext   = "context"
	SearchStructure = "structure"
)

// Search targets for regex mode.
const (
	TargetContent    = "content"
	TargetStructured = "structuredContent"
)

// noMatches is the canonical empty-result item.
const noMatches = "No matches found."

// SearchSpec selects a search mode and its parameters. Zero values mean
// "unset"; each mode applies its own defaults.
type SearchSpec struct {
	Mode    string
	Pattern string

	// Regex mode.
	CaseInsensitive bool
	Multiline       bool
	ContextBefore   int
	ContextAfter    int
	Target          string

	// Shared caps.
	MaxMatches int

	// BM25 mode.
	TopK      int
	ChunkSize int

	// Fuzzy mode.
	Threshold float64

	// Context mode.
	ContextType string

	// Structure mode.
	MaxDepth int
}

// Search runs the spec against the items. Errors (missing pattern, bad
// mode, malformed regex) come back as a single "Error:" text item, never
// as a Go error: the result must stay a well-formed content list.
//
// The first returned item is always a short header naming the mode and
// echoing the query; matches follow.
func Search(items []content.Item, spec SearchSpec) []content.Item {
	mode := spec.Mode
	if mode == "" {
		mode = SearchRegex
	}

	if spec.Pattern == "" && mode != SearchStructure {
		return []content.Item{content.Text("Error: Missing required parameter 'pattern'")}
	}

	var results []content.Item
	switch mode {
	case SearchRegex:
		results = searchRegex(items, spec)
	case SearchBM25:
		results = searchBM25(items, spec)
	case SearchFuzzy:
		results = searchFuzzy(items, spec)
	case SearchContext:
		results = searchContext(items, spec)
	case SearchStructure:
		return Summarize(items, spec.MaxDepth)
	default:
		return []content.Item{content.Text(fmt.Sprintf(
			"Error: Unknown search mode '%s'. Must be one of: regex, bm25, fuzzy, context, structure", mode))}
	}

	// A single error item replaces the whole result, header included.
	if len(results) == 1 && strings.HasPrefix(results[0].Text, "Error:") {
		return results
	}

	header := content.Text(fmt.Sprintf("Search results (mode=%s, pattern=%q):", mode, spec.Pattern))
	if len(results) == 0 {
		return []content.Item{header, content.Text(noMatches)}
	}
	return append([]content.Item{header}, results...)
}

// searchRegex implements line-oriented and multiline regex search.
func searchRegex(items []content.Item, spec SearchSpec) []content.Item {
	pattern := spec.Pattern
	if spec.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	if spec.Multiline {
		// Dot matches newline, anchors apply per line.
		pattern = "(?ms)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return []content.Item{content.Text(fmt.Sprintf(
			"Error: Invalid regex pattern '%s': %v", spec.Pattern, err))}
	}

	var results []content.Item
	matched := 0
	for _, it := range items {
		if it.Kind != content.KindText {
			continue
		}
		if spec.MaxMatches > 0 && matched >= spec.MaxMatches {
			break
		}

		var out string
		var n int
		switch {
		case spec.Target == TargetStructured:
			out, n = grepStructured(it.Text, re, spec.MaxMatches, matched)
		case spec.Multiline:
			out, n = grepMultiline(it.Text, re, spec.MaxMatches, matched)
		default:
			out, n = grepLines(it.Text, re, spec.MaxMatches, matched, spec.ContextBefore, spec.ContextAfter)
		}
		if out != "" {
			results = append(results, content.Text(out))
			matched += n
		}
	}
	return results
}

// grepLines scans text line by line and emits matching lines with optional
// context. Overlapping or adjacent context windows merge; disjoint windows
// are separated by a literal "---" line. Returns the emitted text and the
// number of matching lines.
func grepLines(text string, re *regexp.Regexp, maxMatches, already, before, after int) (string, int) {
	lines := strings.Split(text, "\n")

	var matchIdx []int
	for i, line := range lines {
		if re.MatchString(line) {
			matchIdx = append(matchIdx, i)
			if maxMatches > 0 && already+len(matchIdx) >= maxMatches {
				break
			}
		}
	}
	if len(matchIdx) == 0 {
		return "", 0
	}

	if before == 0 && after == 0 {
		out := make([]string, 0, len(matchIdx))
		for _, i := range matchIdx {
			out = append(out, lines[i])
		}
		return strings.Join(out, "\n"), len(matchIdx)
	}

	type window struct{ start, end int }
	var windows []window
	for _, i := range matchIdx {
		start := i - before
		if start < 0 {
			start = 0
		}
		end := i + after
		if end > len(lines)-1 {
			end = len(lines) - 1
		}
		if len(windows) > 0 && start <= windows[len(windows)-1].end+1 {
			if end > windows[len(windows)-1].end {
				windows[len(windows)-1].end = end
			}
			continue
		}
		windows = append(windows, window{start, end})
	}

	var parts []string
	for _, w := range windows {
		parts = append(parts, strings.Join(lines[w.start:w.end+1], "\n"))
	}
	return strings.Join(parts, "\n---\n"), len(matchIdx)
}

// grepMultiline emits each whole match of a (?ms) pattern, joined with a
// separator line.
func grepMultiline(text string, re *regexp.Regexp, maxMatches, already int) (string, int) {
	limit := -1
	if maxMatches > 0 {
		limit = maxMatches - already
		if limit <= 0 {
			return "", 0
		}
	}
	matches := re.FindAllString(text, limit)
	if len(matches) == 0 {
		return "", 0
	}
	return strings.Join(matches, "\n---\n"), len(matches)
}

// grepStructured searches parsed structured data, keeping key/value pairs
// whose key or string value matches. Non-JSON text falls back to a line
// scan.
func grepStructured(text string, re *regexp.Regexp, maxMatches, already int) (string, int) {
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return grepLines(text, re, maxMatches, already, 0, 0)
	}

	matched, n := structureMatches(data, re, maxMatches, already)
	if matched == nil {
		return "", 0
	}
	out, err := json.MarshalIndent(matched, "", "  ")
	if err != nil {
		return "", 0
	}
	return string(out), n
}

// structureMatches walks the tree collecting matching subtrees. Returns
// nil when nothing below this node matches.
func structureMatches(data any, re *regexp.Regexp, maxMatches, count int) (any, int) {
	if maxMatches > 0 && count >= maxMatches {
		return nil, 0
	}

	switch v := data.(type) {
	case map[string]any:
		matches := make(map[string]any)
		n := 0
		for key, value := range v {
			if maxMatches > 0 && count+n >= maxMatches {
				break
			}
			str, isStr := value.(string)
			if re.MatchString(key) || (isStr && re.MatchString(str)) {
				matches[key] = value
				n++
				continue
			}
			switch value.(type) {
			case map[string]any, []any:
				if nested, nn := structureMatches(value, re, maxMatches, count+n); nested != nil {
					matches[key] = nested
					n += nn
				}
			}
		}
		if len(matches) == 0 {
			return nil, 0
		}
		return matches, n
	case []any:
		var matches []any
		n := 0
		for _, item := range v {
			if maxMatches > 0 && count+n >= maxMatches {
				break
			}
			switch it := item.(type) {
			case map[string]any, []any:
				if nested, nn := structureMatches(it, re, maxMatches, count+n); nested != nil {
					matches = append(matches, nested)
					n += nn
				}
			case string:
				if re.MatchString(it) {
					matches = append(matches, it)
					n++
				}
			}
		}
		if len(matches) == 0 {
			return nil, 0
		}
		return matches, n
	default:
		if re.MatchString(fmt.Sprint(v)) {
			return v, 1
		}
		return nil, 0
	}
}
