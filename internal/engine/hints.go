package engine

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/rlm-proxy/internal/content"
)

const (
	// hintPlaceholder marks where a real cache id gets substituted.
	hintPlaceholder = "<cache_id>"

	// hintTextLineThreshold is the line count above which plain text gets
	// a search suggestion.
	hintTextLineThreshold = 100

	hintEncoding = "cl100k_base"
)

// Hinter inspects payloads and emits rlm_hints: structured suggestions
// for follow-up drill-in calls. It is best-effort throughout; any failure
// yields no hints, never an error.
type Hinter struct {
	threshold int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewHinter creates a hinter that stays quiet for payloads at or below
// threshold characters.
func NewHinter(threshold int) *Hinter {
	return &Hinter{threshold: threshold}
}

// Hints analyzes the first text item and returns a JSON text item under
// the rlm_hints key, or nil when the payload is small or shapeless.
// When cacheID is non-empty it replaces the placeholder in every
// suggested next step.
func (h *Hinter) Hints(items []content.Item, cacheID string) *content.Item {
	text := content.FirstText(items)
	if text == "" || len(text) <= h.threshold {
		return nil
	}

	strategies, nextSteps, savedChars := h.analyze(text)
	if len(strategies) == 0 {
		return nil
	}

	hints := map[string]any{
		"rlm_hints": map[string]any{
			"recursive_exploration_available": true,
			"strategies":                      strategies,
			"next_steps":                      nextSteps,
			"estimated_token_savings":         h.estimateTokens(text, savedChars),
			"hint": "This response is large. Use proxy_filter, proxy_search or proxy_explore " +
				"to drill into it without reloading the full payload.",
		},
	}

	raw, err := json.Marshal(hints)
	if err != nil {
		log.Debug().Err(err).Msg("hinter: marshal failed")
		return nil
	}
	out := string(raw)
	if cacheID != "" {
		out = substituteCacheID(out, cacheID)
	}
	item := content.Text(out)
	return &item
}

// analyze picks strategies by payload shape and estimates the characters
// a drill-in call would keep out of the context.
func (h *Hinter) analyze(text string) (strategies []map[string]any, nextSteps []map[string]any, savedChars int) {
	if json.Valid([]byte(text)) {
		root := gjson.Parse(text)
		switch {
		case root.IsObject():
			return h.analyzeObject(text, root)
		case root.IsArray():
			return h.analyzeArray(text, root)
		}
		return nil, nil, 0
	}

	lines := strings.Count(text, "\n") + 1
	if lines <= hintTextLineThreshold {
		return nil, nil, 0
	}
	strategies = append(strategies, map[string]any{
		"type":        "grep_search",
		"description": "Use proxy_search to extract matching lines from large text",
		"total_lines": lines,
	})
	nextSteps = append(nextSteps, map[string]any{
		"tool": "proxy_search",
		"when": "looking for errors or specific markers",
		"arguments": map[string]any{
			"cache_id":      hintPlaceholder,
			"pattern":       "ERROR|WARN",
			"max_results":   20,
			"context_lines": 2,
		},
	})
	savedChars = len(text) - 20*100
	if savedChars < 0 {
		savedChars = 0
	}
	return strategies, nextSteps, savedChars
}

func (h *Hinter) analyzeObject(text string, root gjson.Result) (strategies []map[string]any, nextSteps []map[string]any, savedChars int) {
	keys := firstKeys(root, keysTreeBranchLimit)
	totalFields := len(root.Map())
	if totalFields == 0 {
		return nil, nil, 0
	}

	strategies = append(strategies, map[string]any{
		"type":             "field_projection",
		"description":      "Use proxy_filter to access specific fields",
		"available_fields": keys,
		"total_fields":     totalFields,
	})
	sampleFields := keys
	if len(sampleFields) > 3 {
		sampleFields = sampleFields[:3]
	}
	nextSteps = append(nextSteps, map[string]any{
		"tool": "proxy_filter",
		"when": "only some top-level fields are needed",
		"arguments": map[string]any{
			"cache_id": hintPlaceholder,
			"mode":     ModeInclude,
			"fields":   sampleFields,
		},
	})

	// Arrays under the root invite element-wise plucks.
	var arrayFields []string
	root.ForEach(func(key, value gjson.Result) bool {
		if value.IsArray() {
			arrayFields = append(arrayFields, key.String())
		}
		return true
	})
	if len(arrayFields) > 0 {
		strategies = append(strategies, map[string]any{
			"type":         "array_exploration",
			"description":  "Project nested paths to pluck fields from array elements",
			"array_fields": arrayFields,
		})
		nextSteps = append(nextSteps, map[string]any{
			"tool": "proxy_filter",
			"when": "array elements carry more fields than needed",
			"arguments": map[string]any{
				"cache_id": hintPlaceholder,
				"mode":     ModeInclude,
				"fields":   []string{arrayFields[0] + ".id", arrayFields[0] + ".name"},
			},
		})
	}

	savedChars = len(text) - len(text)/totalFields*3
	if savedChars < 0 {
		savedChars = 0
	}
	return strategies, nextSteps, savedChars
}

func (h *Hinter) analyzeArray(text string, root gjson.Result) (strategies []map[string]any, nextSteps []map[string]any, savedChars int) {
	length := len(root.Array())
	strategies = append(strategies, map[string]any{
		"type":        "list_pagination",
		"description": "Explore the structure first, then project the fields you need",
		"list_length": length,
	})
	nextSteps = append(nextSteps, map[string]any{
		"tool": "proxy_explore",
		"when": "element shape is unknown",
		"arguments": map[string]any{
			"cache_id": hintPlaceholder,
		},
	})
	savedChars = len(text) / 2
	return strategies, nextSteps, savedChars
}

// substituteCacheID rewrites every next_steps arguments.cache_id in the
// marshalled hints document.
func substituteCacheID(doc, cacheID string) string {
	steps := gjson.Get(doc, "rlm_hints.next_steps")
	out := doc
	steps.ForEach(func(key, _ gjson.Result) bool {
		path := "rlm_hints.next_steps." + key.String() + ".arguments.cache_id"
		if updated, err := sjson.Set(out, path, cacheID); err == nil {
			out = updated
		}
		return true
	})
	return out
}

// estimateTokens converts a character-savings estimate to tokens. The
// tokenizer loads lazily; when its data files are unavailable the
// conservative chars/4 heuristic applies.
func (h *Hinter) estimateTokens(text string, savedChars int) int {
	if savedChars <= 0 {
		return 0
	}

	h.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(hintEncoding)
		if err != nil {
			log.Debug().Err(err).Msg("hinter: tokenizer unavailable, using character heuristic")
			return
		}
		h.enc = enc
	})

	if h.enc == nil || len(text) == 0 {
		return savedChars / 4
	}
	totalTokens := len(h.enc.Encode(text, nil, nil))
	return totalTokens * savedChars / len(text)
}
