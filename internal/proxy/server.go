package proxy

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/cache"
	"github.com/compresr/rlm-proxy/internal/config"
	"github.com/compresr/rlm-proxy/internal/content"
	"github.com/compresr/rlm-proxy/internal/engine"
	"github.com/compresr/rlm-proxy/internal/executor"
	"github.com/compresr/rlm-proxy/internal/monitoring"
	"github.com/compresr/rlm-proxy/internal/upstream"
)

const serverInstructions = "This proxy re-exports tools of its upstream MCP servers under " +
	"'{server}_{tool}' names. Responses larger than the configured budget are truncated; " +
	"the full payload is cached under a cache_id named in the truncation hint. " +
	"Use proxy_filter (field projection), proxy_search (regex/bm25/fuzzy/context) and " +
	"proxy_explore (structure summary) with that cache_id to inspect the full payload " +
	"without reloading it."

// Server is the agent-facing MCP server.
type Server struct {
	mcp      *server.MCPServer
	registry *Registry
	manager  *upstream.Manager
	cache    *cache.AgentCache
	metrics  *monitoring.Metrics
	callLog  *monitoring.CallLog
	hinter   *engine.Hinter
	exec     *executor.Pool
	settings config.ProxySettings

	mu         sync.Mutex
	registered map[string]bool
}

// New wires the proxy server. The hinter threshold is half the truncation
// budget so hints appear before truncation does.
func New(settings config.ProxySettings, manager *upstream.Manager, agentCache *cache.AgentCache,
	metrics *monitoring.Metrics, callLog *monitoring.CallLog, exec *executor.Pool) *Server {

	s := &Server{
		registry:   NewRegistry(manager),
		manager:    manager,
		cache:      agentCache,
		metrics:    metrics,
		callLog:    callLog,
		hinter:     engine.NewHinter(settings.MaxResponseSize / 2),
		exec:       exec,
		settings:   settings,
		registered: make(map[string]bool),
	}

	hooks := &server.Hooks{}
	hooks.AddBeforeListTools(func(ctx context.Context, id any, message *mcp.ListToolsRequest) {
		s.syncTools(ctx)
	})

	s.mcp = server.NewMCPServer(
		"rlm-proxy",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)

	s.mcp.AddTool(BuiltinTools()[0], s.handleFilter)
	s.mcp.AddTool(BuiltinTools()[1], s.handleSearch)
	s.mcp.AddTool(BuiltinTools()[2], s.handleExplore)

	return s
}

// Serve runs the stdio transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.syncTools(ctx)
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// syncTools reconciles the registered upstream tools with the current
// aggregate. Builtins are registered once in New and never touched here.
func (s *Server) syncTools(ctx context.Context) {
	aggregate := s.registry.AggregateTools(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]bool, len(aggregate))
	for _, t := range aggregate {
		switch t.Name {
		case ToolFilter, ToolSearch, ToolExplore:
			continue
		}
		fresh[t.Name] = true
		if !s.registered[t.Name] {
			s.mcp.AddTool(t, s.handleForward)
		}
	}

	var stale []string
	for name := range s.registered {
		if !fresh[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcp.DeleteTools(stale...)
	}
	s.registered = fresh
}

// agentID identifies the calling client for cache isolation. Sessions
// without an id share the default pool.
func (s *Server) agentID(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		if id := session.SessionID(); id != "" {
			return id
		}
	}
	return cache.DefaultAgent
}

// handleForward proxies a prefixed tool call through the response
// pipeline.
func (s *Server) handleForward(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.Params.Name
	args := req.GetArguments()
	started := time.Now()

	upstreamName, tool, err := s.registry.Resolve(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := s.manager.Call(ctx, upstreamName, tool, args)
	if err != nil {
		return errorResult(fmt.Sprintf("call to %s failed: %v", name, err)), nil
	}
	if result.IsError {
		// Upstream-reported errors pass through untouched; truncating an
		// error message would only hide its cause.
		return &mcp.CallToolResult{Content: content.ToMCP(result.Content), IsError: true}, nil
	}

	items := s.pipeline(ctx, result.Content, name, args, started)
	return &mcp.CallToolResult{Content: content.ToMCP(items)}, nil
}

// pipeline measures, optionally truncates and caches, attaches hints, and
// records metrics for one upstream response.
func (s *Server) pipeline(ctx context.Context, items []content.Item, tool string, args map[string]any, started time.Time) []content.Item {
	agent := s.agentID(ctx)
	originalSize := content.TextSize(items)
	originalChars := content.TextChars(items)

	out := items
	cacheID := ""
	truncated := false
	if s.settings.EnableAutoTruncation && originalChars > s.settings.MaxResponseSize {
		cacheID = s.cache.Put(items, tool, args, agent)
		out = []content.Item{content.Text(truncate(items, cacheID, originalChars, s.settings.MaxResponseSize))}
		truncated = true
		log.Debug().
			Str("tool", tool).
			Int("original_chars", originalChars).
			Str("cache_id", cacheID).
			Msg("response truncated and cached")
	}

	if hint := s.hinter.Hints(items, cacheID); hint != nil {
		out = append(out, *hint)
	}

	filteredSize := content.TextSize(out)
	s.metrics.RecordCall(originalSize, filteredSize, false, false, truncated)
	s.callLog.Record(tool, agent, originalSize, filteredSize, truncated, time.Since(started))
	return out
}

// truncate builds the preview-plus-hint text for an oversized response.
// The budget counts characters; the cut lands on a rune boundary so the
// preview stays valid UTF-8.
func truncate(items []content.Item, cacheID string, originalChars, budget int) string {
	preview := content.JoinText(items)
	shown := 0
	for i := range preview {
		if shown == budget {
			preview = preview[:i]
			break
		}
		shown++
	}
	return fmt.Sprintf("%s\n\n```\n[Response truncated: %d of %d chars shown]\ncache_id=\"%s\"\n"+
		"Use proxy_filter, proxy_search or proxy_explore with this cache_id to explore the full response.\n```",
		preview, shown, originalChars, cacheID)
}

// errorResult wraps a message as an in-band error item. The first word is
// always "Error:" so agents can pattern-match on it.
func errorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultText("Error: " + msg)
}
