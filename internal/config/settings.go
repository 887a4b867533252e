package config

import "fmt"

// Default tunables. These match the behaviour agents have come to expect:
// responses above ~8k chars get truncated and cached for drill-in.
const (
	DefaultMaxResponseSize    = 8000
	DefaultCacheMaxEntries    = 50
	DefaultCacheTTLSeconds    = 300
	DefaultMaxEntriesPerAgent = 20
	DefaultMaxBytesPerAgent   = 100 * 1024 * 1024
	DefaultMaxAgents          = 1000
)

// ProxySettings are the proxy's own runtime tunables, loaded from the
// optional proxySettings key. Immutable after load.
type ProxySettings struct {
	// MaxResponseSize is the character threshold above which a response
	// is auto-truncated and cached.
	MaxResponseSize int

	// EnableAutoTruncation toggles the truncate-and-cache pipeline.
	EnableAutoTruncation bool

	// CacheMaxEntries and CacheTTLSeconds size the shared response cache.
	CacheMaxEntries int
	CacheTTLSeconds int

	// Per-agent cache quotas (used when agent isolation is on).
	MaxEntriesPerAgent int
	MaxBytesPerAgent   int64
	MaxAgents          int

	// EnableAgentIsolation keys cache entries by agent so one client's
	// payloads cannot be referenced by another.
	EnableAgentIsolation bool

	// CallLogPath, when set, enables the SQLite call log.
	CallLogPath string
}

// DefaultSettings returns the settings used when proxySettings is absent.
func DefaultSettings() ProxySettings {
	return ProxySettings{
		MaxResponseSize:      DefaultMaxResponseSize,
		EnableAutoTruncation: true,
		CacheMaxEntries:      DefaultCacheMaxEntries,
		CacheTTLSeconds:      DefaultCacheTTLSeconds,
		MaxEntriesPerAgent:   DefaultMaxEntriesPerAgent,
		MaxBytesPerAgent:     DefaultMaxBytesPerAgent,
		MaxAgents:            DefaultMaxAgents,
		EnableAgentIsolation: true,
	}
}

// Validate rejects nonsensical tunables.
func (s ProxySettings) Validate() error {
	if s.MaxResponseSize < 0 {
		return fmt.Errorf("maxResponseSize cannot be negative: %d", s.MaxResponseSize)
	}
	if s.CacheMaxEntries < 0 || s.MaxEntriesPerAgent < 0 {
		return fmt.Errorf("cache entry limits cannot be negative")
	}
	if s.CacheTTLSeconds < 0 {
		return fmt.Errorf("cacheTTLSeconds cannot be negative: %d", s.CacheTTLSeconds)
	}
	if s.MaxAgents < 1 {
		return fmt.Errorf("maxAgents must be at least 1: %d", s.MaxAgents)
	}
	return nil
}

// rawSettings mirrors the proxySettings JSON keys; pointer fields
// distinguish "absent" from zero.
type rawSettings struct {
	MaxResponseSize      *int    `json:"maxResponseSize,omitempty" yaml:"maxResponseSize,omitempty"`
	EnableAutoTruncation *bool   `json:"enableAutoTruncation,omitempty" yaml:"enableAutoTruncation,omitempty"`
	CacheMaxEntries      *int    `json:"cacheMaxEntries,omitempty" yaml:"cacheMaxEntries,omitempty"`
	CacheTTLSeconds      *int    `json:"cacheTTLSeconds,omitempty" yaml:"cacheTTLSeconds,omitempty"`
	MaxEntriesPerAgent   *int    `json:"maxEntriesPerAgent,omitempty" yaml:"maxEntriesPerAgent,omitempty"`
	MaxBytesPerAgent     *int64  `json:"maxBytesPerAgent,omitempty" yaml:"maxBytesPerAgent,omitempty"`
	MaxAgents            *int    `json:"maxAgents,omitempty" yaml:"maxAgents,omitempty"`
	EnableAgentIsolation *bool   `json:"enableAgentIsolation,omitempty" yaml:"enableAgentIsolation,omitempty"`
	CallLogPath          *string `json:"callLogPath,omitempty" yaml:"callLogPath,omitempty"`
}

func (r *rawSettings) apply(s *ProxySettings) {
	if r.MaxResponseSize != nil {
		s.MaxResponseSize = *r.MaxResponseSize
	}
	if r.EnableAutoTruncation != nil {
		s.EnableAutoTruncation = *r.EnableAutoTruncation
	}
	if r.CacheMaxEntries != nil {
		s.CacheMaxEntries = *r.CacheMaxEntries
	}
	if r.CacheTTLSeconds != nil {
		s.CacheTTLSeconds = *r.CacheTTLSeconds
	}
	if r.MaxEntriesPerAgent != nil {
		s.MaxEntriesPerAgent = *r.MaxEntriesPerAgent
	}
	if r.MaxBytesPerAgent != nil {
		s.MaxBytesPerAgent = *r.MaxBytesPerAgent
	}
	if r.MaxAgents != nil {
		s.MaxAgents = *r.MaxAgents
	}
	if r.EnableAgentIsolation != nil {
		s.EnableAgentIsolation = *r.EnableAgentIsolation
	}
	if r.CallLogPath != nil {
		s.CallLogPath = *r.CallLogPath
	}
}
