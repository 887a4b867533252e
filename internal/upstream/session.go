// Package upstream manages the child-process MCP servers the proxy
// multiplexes over.
//
// DESIGN: Each configured server gets a Session owned by a dedicated
// supervisor goroutine: spawn the child, handshake, prefetch the tool
// list, then park until cancellation. The Manager fans startup out,
// waits for every supervisor to report ready or failed, and routes calls
// with per-call deadlines. A supervisor that dies deregisters its
// session; the proxy keeps serving the remaining upstreams.
//
// FILES:
//   - session.go: Session and its supervisor loop
//   - manager.go: Manager startup, routing, shutdown
package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/config"
)

// Deadlines per session operation.
const (
	HandshakeTimeout = 30 * time.Second
	PrefetchTimeout  = 10 * time.Second
	CallTimeout      = 60 * time.Second
	StartupTimeout   = 35 * time.Second
)

// Session is one supervised upstream server connection.
type Session struct {
	Name string

	cfg    config.ServerConfig
	client *client.Client

	mu    sync.RWMutex
	tools []mcp.Tool
	alive bool

	// ready closes once the supervisor has either initialized the
	// session or given up; readyErr carries the failure. readyErr is
	// written only before the close, so readers must wait on ready.
	ready    chan struct{}
	readyErr error

	// cancel tears down this session's supervisor alone.
	cancel context.CancelFunc
}

func newSession(cfg config.ServerConfig) *Session {
	return &Session{
		Name:  cfg.Name,
		cfg:   cfg,
		ready: make(chan struct{}),
	}
}

// Alive reports whether the session is initialized and routable.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// Tools returns the cached upstream tool list.
func (s *Session) Tools() []mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools
}

// supervise runs the session lifecycle: connect, serve until ctx is
// cancelled, tear down. onExit always fires so the manager can
// deregister.
func (s *Session) supervise(ctx context.Context, onExit func(*Session)) {
	defer onExit(s)

	if err := s.connect(ctx); err != nil {
		s.readyErr = err
		close(s.ready)
		return
	}
	close(s.ready)

	// Park. The session object keeps the child alive; the only job left
	// is reacting to cancellation.
	<-ctx.Done()

	s.mu.Lock()
	s.alive = false
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("upstream", s.Name).Msg("error closing upstream client")
		}
	}
	log.Info().Str("upstream", s.Name).Msg("upstream session closed")
}

// connect spawns the child and performs the handshake and tool prefetch.
func (s *Session) connect(ctx context.Context) error {
	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to spawn upstream %q: %w", s.Name, err)
	}

	if err := c.Start(ctx); err != nil {
		c.Close()
		return fmt.Errorf("failed to start upstream %q: %w", s.Name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "rlm-proxy",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION

	if _, err := c.Initialize(initCtx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("handshake with upstream %q failed: %w", s.Name, err)
	}

	s.mu.Lock()
	s.client = c
	s.alive = true
	s.mu.Unlock()

	// Prefetch failure is non-fatal: the registry retries lazily.
	if err := s.refreshTools(ctx); err != nil {
		log.Warn().Err(err).Str("upstream", s.Name).Msg("tool prefetch failed, will retry on listing")
	}

	log.Info().
		Str("upstream", s.Name).
		Str("command", s.cfg.Command).
		Int("tools", len(s.Tools())).
		Msg("upstream session established")
	return nil
}

// refreshTools re-fetches and caches the upstream's tool list.
func (s *Session) refreshTools(ctx context.Context) error {
	s.mu.RLock()
	c := s.client
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("upstream %q is not connected", s.Name)
	}

	listCtx, cancel := context.WithTimeout(ctx, PrefetchTimeout)
	defer cancel()

	resp, err := c.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools of upstream %q: %w", s.Name, err)
	}

	s.mu.Lock()
	s.tools = resp.Tools
	s.mu.Unlock()
	return nil
}

// call forwards one tool call with the per-call deadline.
func (s *Session) call(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	c := s.client
	alive := s.alive
	s.mu.RUnlock()
	if c == nil || !alive {
		return nil, fmt.Errorf("upstream %q is not connected", s.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments

	resp, err := c.CallTool(callCtx, req)
	if err != nil {
		// A dead child surfaces here as timeouts or pipe errors; flag it
		// so the operator can correlate with child exit.
		log.Warn().Err(err).Str("upstream", s.Name).Str("tool", tool).Msg("upstream call failed")
		return nil, err
	}
	return resp, nil
}
