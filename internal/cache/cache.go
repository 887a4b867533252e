// Package cache stores large tool responses for incremental exploration.
//
// DESIGN: Two-level structure:
//   - Pool:       One agent's entries. TTL-expired on read, evicted by a
//     score of idle_seconds x size_bytes / access_count so big, idle,
//     rarely-read payloads go first.
//   - AgentCache: Pools keyed by agent id with per-agent entry and byte
//     quotas. External cache ids carry the agent prefix ("agent:abc123...")
//     so one agent's ids never resolve inside another agent's pool.
//
// Locking is strictly two-level: the AgentCache lock guards the pool map
// only, each Pool has its own lock, and neither is held while taking the
// other.
//
// FILES:
//   - cache.go: Entry, Pool, AgentCache
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/content"
)

// DefaultAgent is the pool used for callers that present no agent id and
// for legacy unprefixed cache ids.
const DefaultAgent = "default"

// Entry is a single cached tool response with eviction metadata.
type Entry struct {
	ID             string
	Content        []content.Item
	ToolName       string
	Arguments      map[string]any
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
	SizeBytes      int
}

// Pool holds one agent's cache entries.
type Pool struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewPool creates a pool with the given limits. A non-positive maxBytes
// means unlimited bytes.
func NewPool(maxEntries int, maxBytes int64, ttl time.Duration) *Pool {
	return &Pool{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Put stores items and returns a fresh cache id (local to this pool).
func (p *Pool) Put(items []content.Item, toolName string, arguments map[string]any) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweepExpired()

	size := content.TextSize(items)
	for len(p.entries) > 0 &&
		(len(p.entries) >= p.maxEntries ||
			(p.maxBytes > 0 && p.totalBytes()+int64(size) > p.maxBytes)) {
		p.evictOne()
	}

	id := p.newID()
	now := p.now()
	p.entries[id] = &Entry{
		ID:             id,
		Content:        items,
		ToolName:       toolName,
		Arguments:      arguments,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      size,
	}

	log.Debug().
		Str("tool", toolName).
		Int("size_bytes", size).
		Str("cache_id", id).
		Msg("cached tool result")
	return id
}

// Get returns the cached content, or nil if the id is unknown or expired.
func (p *Pool) Get(id string) []content.Item {
	e := p.touch(id)
	if e == nil {
		return nil
	}
	return e.Content
}

// GetEntry returns the full entry with metadata, or nil.
func (p *Pool) GetEntry(id string) *Entry {
	return p.touch(id)
}

// touch looks up id, expires it if stale, and bumps access stats.
func (p *Pool) touch(id string) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return nil
	}
	if p.now().Sub(e.CreatedAt) > p.ttl {
		delete(p.entries, id)
		log.Debug().Str("cache_id", id).Msg("cache entry expired")
		return nil
	}
	e.AccessCount++
	e.LastAccessedAt = p.now()
	return e
}

// Remove deletes a specific entry. Returns true if it existed.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	delete(p.entries, id)
	return ok
}

// Clear drops all entries.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*Entry)
}

// Size returns the number of live entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stats returns entry count, byte total and limits.
func (p *Pool) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"entries":            len(p.entries),
		"max_entries":        p.maxEntries,
		"ttl_seconds":        int(p.ttl / time.Second),
		"total_cached_bytes": p.totalBytes(),
	}
}

// totalBytes sums entry sizes. Caller holds the lock.
func (p *Pool) totalBytes() int64 {
	var total int64
	for _, e := range p.entries {
		total += int64(e.SizeBytes)
	}
	return total
}

// sweepExpired drops all TTL-expired entries. Caller holds the lock.
func (p *Pool) sweepExpired() {
	now := p.now()
	for id, e := range p.entries {
		if now.Sub(e.CreatedAt) > p.ttl {
			delete(p.entries, id)
		}
	}
}

// evictOne removes the worst-scoring entry. Caller holds the lock.
func (p *Pool) evictOne() {
	now := p.now()
	var worstID string
	worstScore := -1.0
	for id, e := range p.entries {
		idle := now.Sub(e.LastAccessedAt).Seconds()
		accesses := e.AccessCount
		if accesses < 1 {
			accesses = 1
		}
		score := idle * float64(e.SizeBytes) / float64(accesses)
		if score > worstScore {
			worstScore = score
			worstID = id
		}
	}
	if worstID != "" {
		log.Debug().
			Str("cache_id", worstID).
			Int("size_bytes", p.entries[worstID].SizeBytes).
			Msg("evicting cache entry")
		delete(p.entries, worstID)
	}
}

// newID generates a 12-hex-char id unique within this pool. Caller holds
// the lock.
func (p *Pool) newID() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if _, taken := p.entries[id]; !taken {
			return id
		}
	}
}
