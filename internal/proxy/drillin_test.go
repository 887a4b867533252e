package proxy

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/rlm-proxy/internal/cache"
	"github.com/compresr/rlm-proxy/internal/config"
	"github.com/compresr/rlm-proxy/internal/content"
	"github.com/compresr/rlm-proxy/internal/executor"
	"github.com/compresr/rlm-proxy/internal/monitoring"
	"github.com/compresr/rlm-proxy/internal/upstream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	settings := config.DefaultSettings()
	metrics := monitoring.NewMetrics()
	exec := executor.New(2)
	t.Cleanup(exec.Shutdown)
	return New(settings, upstream.NewManager(metrics), cache.NewAgentCache(settings), metrics, nil, exec)
}

// seed stores text in the default agent pool and returns its cache id.
func seed(t *testing.T, s *Server, text string) string {
	t.Helper()
	id := s.cache.Put([]content.Item{content.Text(text)}, "filesystem_read_file", nil, cache.DefaultAgent)
	require.NotEmpty(t, id)
	return id
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content item is text")
	return tc.Text
}

// =============================================================================
// PROXY_FILTER TESTS
// =============================================================================

func TestHandleFilter_IncludeFromCache(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, `{"users":[{"name":"a","email":"a@x","pw":"1"}],"total":1}`)

	res, err := s.handleFilter(context.Background(), callReq(ToolFilter, map[string]any{
		"cache_id": id,
		"fields":   []any{"users.name", "total"},
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":[{"name":"a"}],"total":1}`, resultText(t, res))
}

func TestHandleFilter_ExcludeImpliesExcludeMode(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, `{"keep":1,"secret":"x"}`)

	res, err := s.handleFilter(context.Background(), callReq(ToolFilter, map[string]any{
		"cache_id": id,
		"exclude":  []any{"secret"},
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"keep":1}`, resultText(t, res))
}

func TestHandleFilter_CacheMiss(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleFilter(context.Background(), callReq(ToolFilter, map[string]any{
		"cache_id": "default:ffffffffffff",
		"fields":   []any{"a"},
	}))
	require.NoError(t, err)
	assert.Equal(t,
		"Error: Cache entry 'default:ffffffffffff' not found or expired. "+
			"Re-call the original tool to get a new cache_id.",
		resultText(t, res))
}

func TestHandleFilter_MissingSource(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleFilter(context.Background(), callReq(ToolFilter, map[string]any{
		"fields": []any{"a"},
	}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Error:")
	assert.Contains(t, text, "cache_id")
}

func TestHandleFilter_InvalidMode(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, `{"a":1}`)

	res, err := s.handleFilter(context.Background(), callReq(ToolFilter, map[string]any{
		"cache_id": id,
		"mode":     "view",
		"fields":   []any{"a"},
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Error:")
}

func TestHandleFilter_RecordsProjectionMetrics(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, `{"a":1,"b":2}`)

	_, err := s.handleFilter(context.Background(), callReq(ToolFilter, map[string]any{
		"cache_id": id,
		"fields":   []any{"a"},
	}))
	require.NoError(t, err)

	stats := s.metrics.Stats()
	assert.EqualValues(t, 1, stats["projection_calls"])
	assert.EqualValues(t, 1, stats["total_calls"])
}

// =============================================================================
// PROXY_SEARCH TESTS
// =============================================================================

func TestHandleSearch_RegexFromCache(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, "ok line\nERROR boom\nok again")

	res, err := s.handleSearch(context.Background(), callReq(ToolSearch, map[string]any{
		"cache_id": id,
		"pattern":  "ERROR",
	}))
	require.NoError(t, err)
	require.Len(t, res.Content, 2)
	assert.Contains(t, resultText(t, res), "Search results")
	assert.Equal(t, "ERROR boom", res.Content[1].(mcp.TextContent).Text)
}

func TestHandleSearch_InvalidPattern(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, "anything")

	res, err := s.handleSearch(context.Background(), callReq(ToolSearch, map[string]any{
		"cache_id": id,
		"pattern":  "[broken",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Error: Invalid regex pattern")
}

func TestHandleSearch_ContextLinesApplyBothWays(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, "line1\nline2\nERROR here\nline4\nline5")

	res, err := s.handleSearch(context.Background(), callReq(ToolSearch, map[string]any{
		"cache_id":      id,
		"pattern":       "ERROR",
		"context_lines": float64(1),
	}))
	require.NoError(t, err)
	require.Len(t, res.Content, 2)
	assert.Equal(t, "line2\nERROR here\nline4", res.Content[1].(mcp.TextContent).Text)
}

func TestHandleSearch_RecordsSearchMetrics(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, "needle in text")

	_, err := s.handleSearch(context.Background(), callReq(ToolSearch, map[string]any{
		"cache_id": id,
		"pattern":  "needle",
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.metrics.Stats()["search_calls"])
}

// =============================================================================
// PROXY_EXPLORE TESTS
// =============================================================================

func TestHandleExplore_SummaryAndFieldPaths(t *testing.T) {
	s := newTestServer(t)
	id := seed(t, s, `{"users":[{"id":1,"name":"a"}],"total":1}`)

	res, err := s.handleExplore(context.Background(), callReq(ToolExplore, map[string]any{
		"cache_id": id,
	}))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Content), 3)
	assert.Equal(t, "Structure summary:", resultText(t, res))

	listing := res.Content[2].(mcp.TextContent).Text
	assert.Contains(t, listing, "Available field paths:")
	assert.Contains(t, listing, "users[].name")
}

func TestHandleExplore_CacheMiss(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleExplore(context.Background(), callReq(ToolExplore, map[string]any{
		"cache_id": "default:000000000000",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "not found or expired")
}

// =============================================================================
// FORWARD AND PIPELINE TESTS
// =============================================================================

func TestHandleForward_UnknownTool(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleForward(context.Background(), callReq("ghost_read", nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Error:")
	assert.Contains(t, text, "no matching upstream")
}

func TestPipeline_TruncatesAndCachesOversizedResponse(t *testing.T) {
	s := newTestServer(t)
	big := make([]byte, 9000)
	for i := range big {
		big[i] = 'x'
	}
	items := []content.Item{content.Text(string(big))}

	out := s.pipeline(context.Background(), items, "filesystem_read_file", nil, time.Now())
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "[Response truncated: 8000 of 9000 chars shown]")

	m := regexp.MustCompile(`cache_id="([^"]+)"`).FindStringSubmatch(out[0].Text)
	require.NotNil(t, m, "truncation hint names a cache id")

	cached := s.cache.Get(m[1])
	require.NotNil(t, cached, "full payload retrievable by the hinted id")
	assert.Len(t, content.JoinText(cached), 9000)

	assert.EqualValues(t, 1, s.metrics.Stats()["auto_truncations"])
}

func TestPipeline_BudgetCountsCharactersNotBytes(t *testing.T) {
	s := newTestServer(t)
	// 7000 characters but 21000 bytes: under the 8000-char budget.
	items := []content.Item{content.Text(strings.Repeat("日", 7000))}

	out := s.pipeline(context.Background(), items, "filesystem_read_file", nil, time.Now())
	assert.Equal(t, items, out, "multibyte response under the character budget stays intact")
	assert.EqualValues(t, 0, s.metrics.Stats()["auto_truncations"])
}

func TestPipeline_MultibytePreviewIsValidUTF8(t *testing.T) {
	s := newTestServer(t)
	items := []content.Item{content.Text(strings.Repeat("日", 9000))}

	out := s.pipeline(context.Background(), items, "filesystem_read_file", nil, time.Now())
	require.Len(t, out, 1)
	assert.True(t, utf8.ValidString(out[0].Text), "preview is cut on a rune boundary")
	assert.Contains(t, out[0].Text, "[Response truncated: 8000 of 9000 chars shown]")

	m := regexp.MustCompile(`cache_id="([^"]+)"`).FindStringSubmatch(out[0].Text)
	require.NotNil(t, m)
	cached := s.cache.Get(m[1])
	require.NotNil(t, cached)
	assert.Equal(t, 9000, content.TextChars(cached))
}

func TestPipeline_SmallResponseUntouched(t *testing.T) {
	s := newTestServer(t)
	items := []content.Item{content.Text("small response")}

	out := s.pipeline(context.Background(), items, "filesystem_read_file", nil, time.Now())
	assert.Equal(t, items, out)
	assert.EqualValues(t, 0, s.metrics.Stats()["auto_truncations"])
}

func TestTruncatePreviewBudget(t *testing.T) {
	items := []content.Item{content.Text("abcdefghij")}

	text := truncate(items, "default:abc123", 10, 4)
	assert.Contains(t, text, "abcd\n\n```")
	assert.Contains(t, text, "[Response truncated: 4 of 10 chars shown]")
	assert.Contains(t, text, `cache_id="default:abc123"`)
}
