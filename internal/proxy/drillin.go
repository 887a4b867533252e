package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/content"
	"github.com/compresr/rlm-proxy/internal/engine"
	"github.com/compresr/rlm-proxy/internal/executor"
)

// resolveSource finds the content a drill-in call operates on: either a
// cached entry by cache_id, or a fresh upstream call by prefixed tool
// name (whose result is cached as a side effect). Returns an error
// message for in-band reporting when neither works.
func (s *Server) resolveSource(ctx context.Context, args map[string]any) (items []content.Item, cacheID, errMsg string) {
	if id := argString(args, "cache_id"); id != "" {
		entry := s.cache.GetEntry(id)
		if entry == nil {
			return nil, "", fmt.Sprintf(
				"Cache entry '%s' not found or expired. Re-call the original tool to get a new cache_id.", id)
		}
		log.Debug().Str("cache_id", id).Str("origin_tool", entry.ToolName).Msg("drill-in source from cache")
		return entry.Content, id, ""
	}

	if tool := argString(args, "tool"); tool != "" {
		upstreamName, upstreamTool, err := s.registry.Resolve(tool)
		if err != nil {
			return nil, "", err.Error()
		}
		result, err := s.manager.Call(ctx, upstreamName, upstreamTool, argMap(args, "arguments"))
		if err != nil {
			return nil, "", fmt.Sprintf("call to %s failed: %v", tool, err)
		}
		if result.IsError {
			return nil, "", fmt.Sprintf("tool %s returned an error: %s", tool, content.FirstText(result.Content))
		}

		id := s.cache.Put(result.Content, tool, argMap(args, "arguments"), s.agentID(ctx))
		log.Debug().Str("tool", tool).Str("cache_id", id).Msg("cached fresh drill-in source")
		return result.Content, id, ""
	}

	return nil, "", "provide either 'cache_id' or 'tool' to select the content to operate on"
}

// handleFilter implements proxy_filter: field projection over the source.
func (s *Server) handleFilter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	started := time.Now()

	items, _, errMsg := s.resolveSource(ctx, args)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	spec := engine.ProjectionSpec{Mode: engine.ModeInclude}
	if exclude := argStrings(args, "exclude"); len(exclude) > 0 {
		spec.Mode = engine.ModeExclude
		spec.Fields = exclude
	} else {
		if mode := argString(args, "mode"); mode != "" {
			spec.Mode = mode
		}
		spec.Fields = argStrings(args, "fields")
	}

	projected, err := executor.Run(ctx, s.exec, func() ([]content.Item, error) {
		return engine.Project(items, spec)
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	originalSize := content.TextSize(items)
	filteredSize := content.TextSize(projected)
	s.metrics.RecordCall(originalSize, filteredSize, true, false, false)
	s.callLog.Record(ToolFilter, s.agentID(ctx), originalSize, filteredSize, false, time.Since(started))
	return &mcp.CallToolResult{Content: content.ToMCP(projected)}, nil
}

// handleSearch implements proxy_search: multi-mode search over the source.
func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	started := time.Now()

	items, _, errMsg := s.resolveSource(ctx, args)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	contextLines := argInt(args, "context_lines")
	spec := engine.SearchSpec{
		Mode:            argString(args, "mode"),
		Pattern:         argString(args, "pattern"),
		CaseInsensitive: argBool(args, "case_insensitive"),
		Multiline:       argBool(args, "multiline"),
		ContextBefore:   contextLines,
		ContextAfter:    contextLines,
		Target:          argString(args, "target"),
		MaxMatches:      argInt(args, "max_results"),
		TopK:            argInt(args, "top_k"),
		Threshold:       argFloat(args, "threshold"),
		ContextType:     argString(args, "context_type"),
	}

	results, err := executor.Run(ctx, s.exec, func() ([]content.Item, error) {
		return engine.Search(items, spec), nil
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	originalSize := content.TextSize(items)
	filteredSize := content.TextSize(results)
	s.metrics.RecordCall(originalSize, filteredSize, false, true, false)
	s.callLog.Record(ToolSearch, s.agentID(ctx), originalSize, filteredSize, false, time.Since(started))
	return &mcp.CallToolResult{Content: content.ToMCP(results)}, nil
}

// handleExplore implements proxy_explore: structure summary plus
// exploration hints.
func (s *Server) handleExplore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	started := time.Now()

	items, cacheID, errMsg := s.resolveSource(ctx, args)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	maxDepth := argInt(args, "max_depth")
	results, err := executor.Run(ctx, s.exec, func() ([]content.Item, error) {
		out := engine.Summarize(items, maxDepth)
		if paths := engine.DiscoverFields(content.FirstText(items), 3); len(paths) > 0 {
			if len(paths) > 50 {
				paths = paths[:50]
			}
			listing := "Available field paths:"
			for _, p := range paths {
				listing += "\n  " + p
			}
			out = append(out, content.Text(listing))
		}
		return out, nil
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	if hint := s.hinter.Hints(items, cacheID); hint != nil {
		results = append(results, *hint)
	}

	originalSize := content.TextSize(items)
	filteredSize := content.TextSize(results)
	s.metrics.RecordCall(originalSize, filteredSize, false, true, false)
	s.callLog.Record(ToolExplore, s.agentID(ctx), originalSize, filteredSize, false, time.Since(started))
	return &mcp.CallToolResult{Content: content.ToMCP(results)}, nil
}

// Argument extraction helpers. MCP arguments arrive as generic JSON, so
// numbers are float64 and arrays are []any.

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argMap(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}
