// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - calls/projections/searches: Per-mode call tallies
//   - truncations:                Auto-truncation count
//   - original/filtered bytes:    Context-budget savings
//   - connections:                Upstream health
//
// For production, export these to Prometheus or similar.
package monitoring

import "sync/atomic"

// Metrics collects per-call and connection counters.
type Metrics struct {
	totalCalls      atomic.Int64
	projectionCalls atomic.Int64
	searchCalls     atomic.Int64
	autoTruncations atomic.Int64
	originalBytes   atomic.Int64
	filteredBytes   atomic.Int64

	activeConnections atomic.Int64
	failedConnections atomic.Int64
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCall records one proxied or drill-in call.
func (m *Metrics) RecordCall(originalSize, filteredSize int, usedProjection, usedGrep, autoTruncated bool) {
	m.totalCalls.Add(1)
	if usedProjection {
		m.projectionCalls.Add(1)
	}
	if usedGrep {
		m.searchCalls.Add(1)
	}
	if autoTruncated {
		m.autoTruncations.Add(1)
	}
	m.originalBytes.Add(int64(originalSize))
	m.filteredBytes.Add(int64(filteredSize))
}

// ConnectionUp records a successfully initialised upstream session.
func (m *Metrics) ConnectionUp() { m.activeConnections.Add(1) }

// ConnectionDown records an upstream session teardown.
func (m *Metrics) ConnectionDown() { m.activeConnections.Add(-1) }

// ConnectionFailed records an upstream that never initialised.
func (m *Metrics) ConnectionFailed() { m.failedConnections.Add(1) }

// Stats returns a snapshot of all counters.
func (m *Metrics) Stats() map[string]int64 {
	return map[string]int64{
		"total_calls":        m.totalCalls.Load(),
		"projection_calls":   m.projectionCalls.Load(),
		"search_calls":       m.searchCalls.Load(),
		"auto_truncations":   m.autoTruncations.Load(),
		"original_bytes":     m.originalBytes.Load(),
		"filtered_bytes":     m.filteredBytes.Load(),
		"active_connections": m.activeConnections.Load(),
		"failed_connections": m.failedConnections.Load(),
	}
}

// BytesSaved returns total characters kept out of the agent's context.
func (m *Metrics) BytesSaved() int64 {
	saved := m.originalBytes.Load() - m.filteredBytes.Load()
	if saved < 0 {
		return 0
	}
	return saved
}
