// Package proxy is the MCP-facing layer: it aggregates upstream tools
// under prefixed names, serves the three drill-in tools, and runs the
// truncate-and-cache response pipeline.
//
// DESIGN: The protocol server owns no business logic; it routes between
// the upstream manager, the cache, and the engines. Oversized responses
// are cached and replaced by a preview plus a cache-id hint; drill-in
// calls resolve content from the cache (or a fresh upstream call) and
// run projection or search on the CPU executor.
//
// FILES:
//   - registry.go: Tool aggregation, prefix routing, builtin schemas
//   - server.go:   MCP server wiring, forward pipeline
//   - drillin.go:  proxy_filter / proxy_search / proxy_explore handlers
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/compresr/rlm-proxy/internal/upstream"
)

// Drill-in tool names.
const (
	ToolFilter  = "proxy_filter"
	ToolSearch  = "proxy_search"
	ToolExplore = "proxy_explore"
)

const filterSchema = `{
  "type": "object",
  "properties": {
    "cache_id": {"type": "string", "description": "Cache ID of a previously truncated response. Mutually exclusive with 'tool'."},
    "tool": {"type": "string", "description": "Prefixed tool name to call fresh, e.g. 'filesystem_read_file'."},
    "arguments": {"type": "object", "description": "Arguments for the fresh tool call."},
    "fields": {"type": "array", "items": {"type": "string"}, "description": "Dot-separated field paths to include, e.g. 'users.name'."},
    "exclude": {"type": "array", "items": {"type": "string"}, "description": "Field paths to drop. Presence implies exclude mode."},
    "mode": {"type": "string", "enum": ["include", "exclude"], "description": "Projection mode. Defaults to 'include'."}
  }
}`

const searchSchema = `{
  "type": "object",
  "properties": {
    "cache_id": {"type": "string", "description": "Cache ID of a previously truncated response. Mutually exclusive with 'tool'."},
    "tool": {"type": "string", "description": "Prefixed tool name to call fresh."},
    "arguments": {"type": "object", "description": "Arguments for the fresh tool call."},
    "pattern": {"type": "string", "description": "Search pattern or query."},
    "mode": {"type": "string", "enum": ["regex", "bm25", "fuzzy", "context"], "description": "Search mode. Defaults to 'regex'."},
    "max_results": {"type": "integer", "description": "Cap on emitted matches."},
    "context_lines": {"type": "integer", "description": "Lines of context around each regex match."},
    "case_insensitive": {"type": "boolean"},
    "multiline": {"type": "boolean", "description": "Dot matches newlines; whole matches are emitted."},
    "threshold": {"type": "number", "description": "Fuzzy similarity threshold in (0, 1]."},
    "top_k": {"type": "integer", "description": "Number of BM25 chunks to return."},
    "context_type": {"type": "string", "enum": ["paragraph", "section", "sentence", "lines"]},
    "target": {"type": "string", "enum": ["content", "structuredContent"], "description": "Regex mode: grep plain text or parsed structured content."}
  },
  "required": ["pattern"]
}`

const exploreSchema = `{
  "type": "object",
  "properties": {
    "cache_id": {"type": "string", "description": "Cache ID of a previously truncated response. Mutually exclusive with 'tool'."},
    "tool": {"type": "string", "description": "Prefixed tool name to call fresh."},
    "arguments": {"type": "object", "description": "Arguments for the fresh tool call."},
    "max_depth": {"type": "integer", "description": "Keys-tree depth. Defaults to 3."}
  }
}`

// Registry aggregates upstream tool lists and routes prefixed names.
type Registry struct {
	manager *upstream.Manager
}

// NewRegistry wraps an upstream manager.
func NewRegistry(manager *upstream.Manager) *Registry {
	return &Registry{manager: manager}
}

// BuiltinTools returns the three drill-in tool descriptors.
func BuiltinTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewToolWithRawSchema(ToolFilter,
			"Project cached or fresh tool output down to selected field paths. "+
				"Use after a response was truncated and you only need some fields.",
			json.RawMessage(filterSchema)),
		mcp.NewToolWithRawSchema(ToolSearch,
			"Search cached or fresh tool output with regex, BM25 ranking, fuzzy matching or context extraction.",
			json.RawMessage(searchSchema)),
		mcp.NewToolWithRawSchema(ToolExplore,
			"Summarize the structure of cached or fresh tool output without loading it: types, sizes, keys, samples.",
			json.RawMessage(exploreSchema)),
	}
}

// AggregateTools lists the builtins followed by every upstream tool under
// its prefixed name. Upstreams with an empty cached list are re-fetched
// in parallel first.
func (r *Registry) AggregateTools(ctx context.Context) []mcp.Tool {
	names := r.manager.Names()

	var g errgroup.Group
	for _, name := range names {
		if len(r.manager.Tools(name)) > 0 {
			continue
		}
		g.Go(func() error {
			if err := r.manager.RefreshTools(ctx, name); err != nil {
				log.Warn().Err(err).Str("upstream", name).Msg("tool list refresh failed")
			}
			return nil
		})
	}
	g.Wait()

	tools := BuiltinTools()
	for _, name := range names {
		for _, t := range r.manager.Tools(name) {
			tools = append(tools, prefixTool(name, t))
		}
	}
	return tools
}

// prefixTool re-emits an upstream tool under "{upstream}_{tool}" with a
// deep-copied schema. The schema round-trips through JSON so the upstream
// document is never shared or mutated.
func prefixTool(upstreamName string, t mcp.Tool) mcp.Tool {
	desc := t.Description
	if desc == "" {
		desc = t.Name
	}
	desc = fmt.Sprintf("%s (via %s)", desc, upstreamName)

	schema, err := json.Marshal(t.InputSchema)
	if err != nil {
		schema = []byte(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(upstreamName+"_"+t.Name, desc, schema)
}

// Resolve maps a prefixed tool name to (upstream, tool). Upstream names
// may themselves contain underscores, so known names are tried as
// prefixes first, longest match wins; only then does it fall back to
// splitting on the last underscore.
func (r *Registry) Resolve(name string) (upstreamName, tool string, err error) {
	return resolveToolName(name, r.manager.Names())
}

func resolveToolName(name string, names []string) (upstreamName, tool string, err error) {
	best := ""
	for _, u := range names {
		if strings.HasPrefix(name, u+"_") && len(u) > len(best) {
			best = u
		}
	}
	if best != "" {
		return best, name[len(best)+1:], nil
	}

	if i := strings.LastIndex(name, "_"); i > 0 {
		head := name[:i]
		for _, u := range names {
			if u == head {
				return head, name[i+1:], nil
			}
		}
	}

	return "", "", fmt.Errorf("unknown tool %q: no matching upstream (available: %s)",
		name, strings.Join(names, ", "))
}
