package engine_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/rlm-proxy/internal/content"
	"github.com/compresr/rlm-proxy/internal/engine"
)

// results returns the items after the header.
func results(t *testing.T, items []content.Item) []content.Item {
	t.Helper()
	require.NotEmpty(t, items)
	require.Contains(t, items[0].Text, "Search results")
	return items[1:]
}

// =============================================================================
// REGEX MODE TESTS
// =============================================================================

func TestSearch_RegexMatchingLines(t *testing.T) {
	text := "ok line\nERROR first\nok again\nERROR second\ndone"

	out := engine.Search(textItems(text), engine.SearchSpec{Pattern: "ERROR"})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "ERROR first\nERROR second", res[0].Text)
}

func TestSearch_RegexMaxMatches(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "AAAA"
	}
	out := engine.Search(textItems(strings.Join(lines, "\n")), engine.SearchSpec{
		Pattern:    "A",
		MaxMatches: 3,
	})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Len(t, strings.Split(res[0].Text, "\n"), 3, "match count is capped")
}

func TestSearch_RegexContextLines(t *testing.T) {
	text := "line1\nline2\nERROR here\nline4\nline5"

	out := engine.Search(textItems(text), engine.SearchSpec{
		Pattern:       "ERROR",
		ContextBefore: 1,
		ContextAfter:  1,
	})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "line2\nERROR here\nline4", res[0].Text, "context window without separator")
}

func TestSearch_RegexDisjointWindowsSeparated(t *testing.T) {
	text := "a\nMATCH\nb\nc\nd\ne\nMATCH\nf"

	out := engine.Search(textItems(text), engine.SearchSpec{
		Pattern:       "MATCH",
		ContextBefore: 1,
		ContextAfter:  1,
	})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "a\nMATCH\nb\n---\ne\nMATCH\nf", res[0].Text)
}

func TestSearch_RegexCaseInsensitive(t *testing.T) {
	out := engine.Search(textItems("Error: boom"), engine.SearchSpec{
		Pattern:         "error",
		CaseInsensitive: true,
	})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "Error: boom", res[0].Text)
}

func TestSearch_RegexMultiline(t *testing.T) {
	text := "BEGIN\nalpha\nEND\nnoise\nBEGIN\nbeta\nEND"

	out := engine.Search(textItems(text), engine.SearchSpec{
		Pattern:   "BEGIN.*?END",
		Multiline: true,
	})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "BEGIN\nalpha\nEND\n---\nBEGIN\nbeta\nEND", res[0].Text)
}

func TestSearch_InvalidPattern(t *testing.T) {
	out := engine.Search(textItems("anything"), engine.SearchSpec{Pattern: "[invalid"})
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].Text, "Error: Invalid regex pattern"), out[0].Text)
}

func TestSearch_NoMatches(t *testing.T) {
	out := engine.Search(textItems("nothing here"), engine.SearchSpec{Pattern: "zzz"})
	require.Len(t, out, 2)
	assert.Equal(t, "No matches found.", out[1].Text)
}

func TestSearch_MissingPattern(t *testing.T) {
	out := engine.Search(textItems("text"), engine.SearchSpec{})
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].Text, "Error:"))
	assert.Contains(t, out[0].Text, "pattern")
}

func TestSearch_UnknownMode(t *testing.T) {
	out := engine.Search(textItems("text"), engine.SearchSpec{Pattern: "x", Mode: "semantic"})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "Unknown search mode")
}

func TestSearch_ImagesSkipped(t *testing.T) {
	items := []content.Item{
		{Kind: content.KindImage, Data: "aGk=", MIMEType: "image/png"},
		content.Text("MATCH"),
	}
	out := engine.Search(items, engine.SearchSpec{Pattern: "MATCH"})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "MATCH", res[0].Text)
}

// =============================================================================
// STRUCTURED TARGET TESTS
// =============================================================================

func TestSearch_StructuredTarget(t *testing.T) {
	text := `{"status":"error","detail":{"code":"timeout"},"unrelated":42}`

	out := engine.Search(textItems(text), engine.SearchSpec{
		Pattern: "timeout",
		Target:  "structuredContent",
	})
	res := results(t, out)
	require.Len(t, res, 1)
	assert.JSONEq(t, `{"detail":{"code":"timeout"}}`, res[0].Text)
}
