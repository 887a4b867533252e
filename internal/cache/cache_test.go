package cache

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/rlm-proxy/internal/config"
	"github.com/compresr/rlm-proxy/internal/content"
)

var cacheIDPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

func testItems(text string) []content.Item {
	return []content.Item{content.Text(text)}
}

// fakeClock drives a pool's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func withClock(p *Pool, c *fakeClock) *Pool {
	p.now = c.now
	return p
}

// =============================================================================
// POOL TESTS
// =============================================================================

func TestPool_PutGet(t *testing.T) {
	p := NewPool(10, 0, time.Minute)

	id := p.Put(testItems("hello"), "fs_read", map[string]any{"path": "/tmp"})
	assert.Regexp(t, cacheIDPattern, id)

	got := p.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, "hello", content.JoinText(got))

	entry := p.GetEntry(id)
	require.NotNil(t, entry)
	assert.Equal(t, "fs_read", entry.ToolName)
	assert.Equal(t, 5, entry.SizeBytes)
	assert.Equal(t, 2, entry.AccessCount)
}

func TestPool_GetUnknown(t *testing.T) {
	p := NewPool(10, 0, time.Minute)
	assert.Nil(t, p.Get("000000000000"))
}

func TestPool_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	p := withClock(NewPool(10, 0, 30*time.Second), clock)

	id := p.Put(testItems("data"), "t", nil)
	require.NotNil(t, p.Get(id))

	clock.advance(31 * time.Second)
	assert.Nil(t, p.Get(id), "expired entry must read as nil")
	assert.Equal(t, 0, p.Size(), "expired entry must be removed on read")
}

func TestPool_ZeroTTL(t *testing.T) {
	clock := newFakeClock()
	p := withClock(NewPool(10, 0, 0), clock)

	id := p.Put(testItems("data"), "t", nil)
	clock.advance(time.Nanosecond)
	assert.Nil(t, p.Get(id), "any positive age exceeds a zero TTL")
}

func TestPool_SingleEntryEviction(t *testing.T) {
	clock := newFakeClock()
	p := withClock(NewPool(1, 0, time.Minute), clock)

	first := p.Put(testItems("first"), "t", nil)
	clock.advance(time.Second)
	second := p.Put(testItems("second"), "t", nil)

	assert.Nil(t, p.Get(first), "second put must evict the first entry")
	assert.NotNil(t, p.Get(second))
}

func TestPool_EntryBudgetInvariant(t *testing.T) {
	clock := newFakeClock()
	p := withClock(NewPool(3, 0, time.Minute), clock)

	for i := 0; i < 10; i++ {
		p.Put(testItems(fmt.Sprintf("payload-%d", i)), "t", nil)
		clock.advance(time.Second)
		assert.LessOrEqual(t, p.Size(), 3)
	}
}

func TestPool_ByteBudgetInvariant(t *testing.T) {
	clock := newFakeClock()
	p := withClock(NewPool(100, 25, time.Minute), clock)

	for i := 0; i < 10; i++ {
		p.Put(testItems("aaaaaaaaaa"), "t", nil) // 10 bytes each
		clock.advance(time.Second)
		stats := p.Stats()
		assert.LessOrEqual(t, stats["total_cached_bytes"].(int64), int64(25))
	}
}

func TestPool_EvictionPrefersColdLargeEntries(t *testing.T) {
	clock := newFakeClock()
	p := withClock(NewPool(2, 0, time.Minute), clock)

	big := p.Put(testItems("xxxxxxxxxxxxxxxxxxxx"), "t", nil)
	small := p.Put(testItems("x"), "t", nil)
	clock.advance(10 * time.Second)

	// Keep the small entry hot.
	for i := 0; i < 5; i++ {
		require.NotNil(t, p.Get(small))
	}

	p.Put(testItems("new"), "t", nil)
	assert.Nil(t, p.Get(big), "cold large entry goes first")
	assert.NotNil(t, p.Get(small))
}

func TestPool_RemoveAndClear(t *testing.T) {
	p := NewPool(10, 0, time.Minute)

	id := p.Put(testItems("x"), "t", nil)
	assert.True(t, p.Remove(id))
	assert.False(t, p.Remove(id))

	p.Put(testItems("y"), "t", nil)
	p.Clear()
	assert.Equal(t, 0, p.Size())
}

// =============================================================================
// AGENT CACHE TESTS
// =============================================================================

func agentSettings() config.ProxySettings {
	s := config.DefaultSettings()
	s.MaxEntriesPerAgent = 5
	s.MaxBytesPerAgent = 1000
	s.MaxAgents = 2
	return s
}

func TestAgentCache_PrefixedIDs(t *testing.T) {
	c := NewAgentCache(agentSettings())

	id := c.Put(testItems("data"), "t", nil, "agent-7")
	assert.Regexp(t, `^agent-7:[0-9a-f]{12}$`, id)

	got := c.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, "data", content.JoinText(got))
}

func TestAgentCache_EmptyAgentUsesDefaultPool(t *testing.T) {
	c := NewAgentCache(agentSettings())

	id := c.Put(testItems("data"), "t", nil, "")
	assert.Regexp(t, `^default:[0-9a-f]{12}$`, id)

	// Legacy unprefixed ids resolve in the default pool.
	_, local := splitID(id)
	assert.NotNil(t, c.Get(local))
}

func TestAgentCache_MissOnWrongPool(t *testing.T) {
	c := NewAgentCache(agentSettings())

	id := c.Put(testItems("data"), "t", nil, "alice")
	_, local := splitID(id)
	assert.Nil(t, c.Get("bob:"+local))
}

func TestAgentCache_OversizedEntryNotStored(t *testing.T) {
	s := agentSettings()
	s.MaxBytesPerAgent = 10
	c := NewAgentCache(s)

	id := c.Put(testItems("this payload is way beyond ten bytes"), "t", nil, "a")
	assert.Regexp(t, `^a:[0-9a-f]{12}$`, id, "a fresh id is returned even when not stored")
	assert.Nil(t, c.Get(id))
}

func TestAgentCache_LRUAgentEviction(t *testing.T) {
	c := NewAgentCache(agentSettings()) // max 2 agents

	idA := c.Put(testItems("a"), "t", nil, "a")
	time.Sleep(2 * time.Millisecond)
	c.Put(testItems("b"), "t", nil, "b")
	time.Sleep(2 * time.Millisecond)

	// Touch a so b becomes the LRU pool.
	require.NotNil(t, c.Get(idA))
	time.Sleep(2 * time.Millisecond)

	c.Put(testItems("c"), "t", nil, "c")
	assert.NotNil(t, c.Get(idA), "recently used agent survives")
	assert.Equal(t, 0, c.Size("b"), "least recently used agent pool is dropped")
}

func TestAgentCache_SharedModeUnprefixed(t *testing.T) {
	s := agentSettings()
	s.EnableAgentIsolation = false
	c := NewAgentCache(s)

	id := c.Put(testItems("data"), "t", nil, "whoever")
	assert.Regexp(t, cacheIDPattern, id)
	assert.NotNil(t, c.Get(id))
}

func TestAgentCache_Stats(t *testing.T) {
	c := NewAgentCache(agentSettings())
	c.Put(testItems("abc"), "t", nil, "a")
	c.Put(testItems("defg"), "t", nil, "a")

	stats := c.Stats("a")
	assert.Equal(t, 2, stats["entries"])
	assert.Equal(t, int64(7), stats["total_cached_bytes"])

	aggregate := c.Stats("")
	assert.Equal(t, 1, aggregate["total_agents"])
	assert.Equal(t, 2, aggregate["total_entries"])
}

func TestSplitID(t *testing.T) {
	agent, local := splitID("alice:abc123def456")
	assert.Equal(t, "alice", agent)
	assert.Equal(t, "abc123def456", local)

	agent, local = splitID("abc123def456")
	assert.Equal(t, DefaultAgent, agent)
	assert.Equal(t, "abc123def456", local)
}
