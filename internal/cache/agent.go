package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/config"
	"github.com/compresr/rlm-proxy/internal/content"
)

// agentPool pairs a pool with the bookkeeping needed for LRU agent
// eviction.
type agentPool struct {
	agentID      string
	pool         *Pool
	lastAccessed time.Time
}

// AgentCache partitions the response cache by agent. When isolation is
// disabled every caller shares one pool and ids stay unprefixed.
type AgentCache struct {
	mu    sync.Mutex
	pools map[string]*agentPool

	maxEntriesPerAgent int
	maxBytesPerAgent   int64
	maxAgents          int
	ttl                time.Duration
	isolation          bool

	shared *Pool

	now func() time.Time
}

// NewAgentCache builds the cache from proxy settings.
func NewAgentCache(s config.ProxySettings) *AgentCache {
	ttl := time.Duration(s.CacheTTLSeconds) * time.Second
	c := &AgentCache{
		pools:              make(map[string]*agentPool),
		maxEntriesPerAgent: s.MaxEntriesPerAgent,
		maxBytesPerAgent:   s.MaxBytesPerAgent,
		maxAgents:          s.MaxAgents,
		ttl:                ttl,
		isolation:          s.EnableAgentIsolation,
		now:                time.Now,
	}
	if !c.isolation {
		c.shared = NewPool(s.CacheMaxEntries, 0, ttl)
	}
	return c
}

// Put stores items under the agent's pool and returns the external cache
// id. Content larger than the per-agent byte quota is not stored, but a
// fresh id is still returned so the truncation hint stays well-formed.
func (c *AgentCache) Put(items []content.Item, toolName string, arguments map[string]any, agentID string) string {
	if !c.isolation {
		return c.shared.Put(items, toolName, arguments)
	}
	if agentID == "" {
		agentID = DefaultAgent
	}

	if size := content.TextSize(items); c.maxBytesPerAgent > 0 && int64(size) > c.maxBytesPerAgent {
		log.Warn().
			Str("agent", agentID).
			Int("size_bytes", size).
			Int64("limit_bytes", c.maxBytesPerAgent).
			Msg("cache entry exceeds per-agent quota, not stored")
		return agentID + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	pool := c.fetchPool(agentID, true)
	return agentID + ":" + pool.Put(items, toolName, arguments)
}

// Get resolves an external cache id to its content, or nil.
func (c *AgentCache) Get(cacheID string) []content.Item {
	if !c.isolation {
		return c.shared.Get(cacheID)
	}
	agentID, localID := splitID(cacheID)
	pool := c.fetchPool(agentID, false)
	if pool == nil {
		return nil
	}
	return pool.Get(localID)
}

// GetEntry resolves an external cache id to its full entry, or nil.
func (c *AgentCache) GetEntry(cacheID string) *Entry {
	if !c.isolation {
		return c.shared.GetEntry(cacheID)
	}
	agentID, localID := splitID(cacheID)
	pool := c.fetchPool(agentID, false)
	if pool == nil {
		return nil
	}
	return pool.GetEntry(localID)
}

// Remove deletes one entry. Returns true if it existed.
func (c *AgentCache) Remove(cacheID string) bool {
	if !c.isolation {
		return c.shared.Remove(cacheID)
	}
	agentID, localID := splitID(cacheID)
	pool := c.fetchPool(agentID, false)
	if pool == nil {
		return false
	}
	return pool.Remove(localID)
}

// Clear drops one agent's pool, or every pool when agentID is empty.
func (c *AgentCache) Clear(agentID string) {
	if !c.isolation {
		c.shared.Clear()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if agentID != "" {
		delete(c.pools, agentID)
		return
	}
	c.pools = make(map[string]*agentPool)
}

// Size returns entry counts for one agent or across all agents.
func (c *AgentCache) Size(agentID string) int {
	if !c.isolation {
		return c.shared.Size()
	}
	if agentID != "" {
		pool := c.fetchPool(agentID, false)
		if pool == nil {
			return 0
		}
		return pool.Size()
	}

	c.mu.Lock()
	pools := make([]*Pool, 0, len(c.pools))
	for _, ap := range c.pools {
		pools = append(pools, ap.pool)
	}
	c.mu.Unlock()

	total := 0
	for _, p := range pools {
		total += p.Size()
	}
	return total
}

// Stats returns per-agent or aggregate cache statistics.
func (c *AgentCache) Stats(agentID string) map[string]any {
	if !c.isolation {
		return c.shared.Stats()
	}
	if agentID != "" {
		pool := c.fetchPool(agentID, false)
		if pool == nil {
			return map[string]any{"agent_id": agentID, "entries": 0}
		}
		stats := pool.Stats()
		stats["agent_id"] = agentID
		return stats
	}

	c.mu.Lock()
	agents := make([]*agentPool, 0, len(c.pools))
	for _, ap := range c.pools {
		agents = append(agents, ap)
	}
	c.mu.Unlock()

	var totalEntries int
	var totalBytes int64
	perAgent := make([]map[string]any, 0, len(agents))
	for _, ap := range agents {
		stats := ap.pool.Stats()
		entries := stats["entries"].(int)
		bytes := stats["total_cached_bytes"].(int64)
		totalEntries += entries
		totalBytes += bytes
		perAgent = append(perAgent, map[string]any{
			"agent_id":     ap.agentID,
			"entries":      entries,
			"memory_bytes": bytes,
		})
	}
	return map[string]any{
		"total_agents":          len(agents),
		"total_entries":         totalEntries,
		"total_cached_bytes":    totalBytes,
		"max_agents":            c.maxAgents,
		"max_entries_per_agent": c.maxEntriesPerAgent,
		"max_bytes_per_agent":   c.maxBytesPerAgent,
		"agents":                perAgent,
	}
}

// fetchPool looks up an agent's pool, creating it when create is set.
// Pool last-access is refreshed even on lookups so active agents are not
// the ones evicted.
func (c *AgentCache) fetchPool(agentID string, create bool) *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ap, ok := c.pools[agentID]
	if !ok {
		if !create {
			return nil
		}
		if len(c.pools) >= c.maxAgents {
			c.evictOldestAgent()
		}
		ap = &agentPool{
			agentID: agentID,
			pool:    NewPool(c.maxEntriesPerAgent, c.maxBytesPerAgent, c.ttl),
		}
		c.pools[agentID] = ap
		log.Debug().Str("agent", agentID).Msg("created agent cache pool")
	}
	ap.lastAccessed = c.now()
	return ap.pool
}

// evictOldestAgent drops the least recently used pool. Caller holds the
// lock.
func (c *AgentCache) evictOldestAgent() {
	var oldest *agentPool
	for _, ap := range c.pools {
		if oldest == nil || ap.lastAccessed.Before(oldest.lastAccessed) {
			oldest = ap
		}
	}
	if oldest == nil {
		return
	}
	log.Info().
		Str("agent", oldest.agentID).
		Int("entries", oldest.pool.Size()).
		Msg("evicting least recently used agent cache")
	delete(c.pools, oldest.agentID)
}

// splitID parses "agent:local" external ids. Unprefixed ids belong to the
// default agent.
func splitID(cacheID string) (agentID, localID string) {
	if i := strings.Index(cacheID, ":"); i >= 0 {
		return cacheID[:i], cacheID[i+1:]
	}
	return DefaultAgent, cacheID
}
