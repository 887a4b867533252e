package upstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/config"
	"github.com/compresr/rlm-proxy/internal/content"
	"github.com/compresr/rlm-proxy/internal/monitoring"
)

// ErrUnknownUpstream marks calls routed to an unregistered server name.
var ErrUnknownUpstream = errors.New("unknown upstream")

// Result is one upstream tool response converted to internal content.
type Result struct {
	Content []content.Item
	IsError bool
}

// Manager owns all upstream sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	metrics *monitoring.Metrics
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates an empty manager.
func NewManager(metrics *monitoring.Metrics) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Start spawns one supervised session per configured server and blocks
// until every supervisor reports ready or failed, bounded per server by
// the startup ceiling. Individual failures are logged and skipped; the
// proxy runs with whatever subset came up.
func (m *Manager) Start(ctx context.Context, servers []config.ServerConfig) {
	superCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, cfg := range servers {
		s := newSession(cfg)
		sessCtx, sessCancel := context.WithCancel(superCtx)
		s.cancel = sessCancel

		m.mu.Lock()
		m.sessions[s.Name] = s
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.supervise(sessCtx, m.deregister)
		}()
	}

	m.mu.RLock()
	pending := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		pending = append(pending, s)
	}
	m.mu.RUnlock()

	for _, s := range pending {
		// readyErr is read only after the ready close; the timeout error
		// stays local because the supervisor may still be writing its own.
		var startupErr error
		select {
		case <-s.ready:
			startupErr = s.readyErr
		case <-time.After(StartupTimeout):
			startupErr = fmt.Errorf("upstream %q did not become ready within %s", s.Name, StartupTimeout)
			s.cancel()
		case <-ctx.Done():
			return
		}

		if startupErr != nil {
			log.Error().Err(startupErr).Str("upstream", s.Name).Msg("upstream failed to start")
			m.metrics.ConnectionFailed()
			m.deregister(s)
			continue
		}
		m.metrics.ConnectionUp()
	}
}

// deregister removes a session from the routing table. Used both on
// startup failure and on supervisor exit.
func (m *Manager) deregister(s *Session) {
	m.mu.Lock()
	if m.sessions[s.Name] == s {
		delete(m.sessions, s.Name)
		if s.Alive() {
			m.metrics.ConnectionDown()
		}
	}
	m.mu.Unlock()
}

// Names returns the registered upstream names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up a session by name.
func (m *Manager) Get(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Tools returns the cached tool list of one upstream.
func (m *Manager) Tools(name string) []mcp.Tool {
	if s, ok := m.Get(name); ok {
		return s.Tools()
	}
	return nil
}

// RefreshTools re-fetches one upstream's tool list.
func (m *Manager) RefreshTools(ctx context.Context, name string) error {
	s, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUpstream, name)
	}
	return s.refreshTools(ctx)
}

// Call routes one tool call to the named upstream and converts the
// response to internal content.
func (m *Manager) Call(ctx context.Context, upstream, tool string, arguments map[string]any) (*Result, error) {
	s, ok := m.Get(upstream)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownUpstream, upstream, m.Names())
	}

	resp, err := s.call(ctx, tool, arguments)
	if err != nil {
		return nil, err
	}
	return &Result{
		Content: content.FromMCP(resp.Content),
		IsError: resp.IsError,
	}, nil
}

// Shutdown cancels every supervisor and waits for orderly teardown.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	log.Info().Msg("all upstream sessions shut down")
}
