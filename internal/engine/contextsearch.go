package engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/compresr/rlm-proxy/internal/content"
)

const defaultContextMaxMatches = 5

// Context unit types.
const (
	ContextParagraph = "paragraph"
	ContextSection   = "section"
	ContextSentence  = "sentence"
	ContextLines     = "lines"
)

// contextHit is one matched unit with its per-unit hit count.
type contextHit struct {
	Text    string
	ID      int
	Matches int
}

// searchContext splits the text into logical units and emits those
// containing at least one match, with per-unit hit counts.
func searchContext(items []content.Item, spec SearchSpec) []content.Item {
	re, err := regexp.Compile("(?i)" + spec.Pattern)
	if err != nil {
		return []content.Item{content.Text(fmt.Sprintf(
			"Error: Invalid regex pattern '%s': %v", spec.Pattern, err))}
	}

	contextType := spec.ContextType
	if contextType == "" {
		contextType = ContextParagraph
	}
	maxMatches := spec.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultContextMaxMatches
	}

	hits := extractWithContext(content.JoinText(items), re, contextType, maxMatches)
	results := make([]content.Item, 0, len(hits))
	for _, h := range hits {
		noun := "matches"
		if h.Matches == 1 {
			noun = "match"
		}
		results = append(results, content.Text(fmt.Sprintf(
			"[%s %d, %d %s]\n%s", contextType, h.ID, h.Matches, noun, h.Text)))
	}
	return results
}

func extractWithContext(text string, re *regexp.Regexp, contextType string, maxMatches int) []contextHit {
	var units []unit
	switch contextType {
	case ContextParagraph:
		units = splitParagraphs(text)
	case ContextSection:
		units = splitSections(text)
	case ContextSentence:
		units = splitSentences(text)
	default:
		units = splitLines(text)
	}

	var hits []contextHit
	for _, u := range units {
		n := len(re.FindAllStringIndex(u.text, -1))
		if n == 0 {
			continue
		}
		hits = append(hits, contextHit{Text: u.text, ID: u.id, Matches: n})
		if len(hits) >= maxMatches {
			break
		}
	}
	return hits
}

type unit struct {
	text string
	id   int
}

func splitParagraphs(text string) []unit {
	var units []unit
	for i, p := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			units = append(units, unit{trimmed, i})
		}
	}
	return units
}

// splitSections starts a new section on heading-like lines: a "#" prefix
// or a short line beginning with an uppercase letter.
func splitSections(text string) []unit {
	var units []unit
	var current []string
	id := 0

	flush := func() {
		if len(current) > 0 {
			units = append(units, unit{strings.Join(current, "\n"), id})
			id++
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		heading := strings.HasPrefix(line, "#")
		if !heading && line != "" && len(line) < 100 {
			r := []rune(line)
			heading = unicode.IsUpper(r[0])
		}
		if heading {
			flush()
			current = []string{line}
		} else {
			current = append(current, line)
		}
	}
	flush()
	return units
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

func splitSentences(text string) []unit {
	var units []unit
	for i, s := range sentenceBoundary.Split(text, -1) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			units = append(units, unit{trimmed, i})
		}
	}
	return units
}

func splitLines(text string) []unit {
	lines := strings.Split(text, "\n")
	units := make([]unit, 0, len(lines))
	for i, line := range lines {
		units = append(units, unit{line, i})
	}
	return units
}
