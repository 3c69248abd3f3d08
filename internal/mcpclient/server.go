package mcpclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/registry"
	"github.com/mcpfed/mcpfed/internal/retry"
)

// State is the lifecycle state of one external MCP server connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Server manages one configured back-end MCP server: connect, discover
// tools, heartbeat, and reconnect with backoff on failure, per the External
// MCP Server Descriptor (last_seen, reconnect_count, status).
type Server struct {
	entry   config.ExternalMCPEntry
	onTools func(serverID string, tools []registry.ToolDefinition)
	logger  logging.Logger

	mu             sync.RWMutex
	upstream       upstreamClient
	state          State
	lastSeen       time.Time
	reconnectCount int
	lastErr        error
}

// NewServer builds a Server for one configured external MCP entry. onTools
// is invoked with every successfully (re)discovered tool set, namespaced,
// and is expected to forward into registry.Registry.ApplyExternalTools.
func NewServer(entry config.ExternalMCPEntry, onTools func(serverID string, tools []registry.ToolDefinition), logger logging.Logger) *Server {
	return &Server{
		entry:   entry,
		onTools: onTools,
		logger:  logger.With().Str("external_mcp_server", entry.ID).Logger(),
		state:   StateConnecting,
	}
}

// Run connects, discovers tools, and then loops heartbeating and
// reconnecting until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	if err := s.connectAndDiscover(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial connect failed, entering reconnect loop")
		if !s.reconnectLoop(ctx) {
			return
		}
	}

	interval := time.Duration(s.entry.HeartbeatIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	pongTimeout := time.Duration(s.entry.PongTimeoutSec) * time.Second
	if pongTimeout <= 0 {
		pongTimeout = interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeUpstream()
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pongTimeout)
			err := s.Upstream().Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Warn().Err(err).Msg("heartbeat failed, reconnecting")
				s.setState(StateReconnecting)
				if !s.reconnectLoop(ctx) {
					return
				}
				continue
			}
			s.mu.Lock()
			s.lastSeen = time.Now()
			s.mu.Unlock()
		}
	}
}

// connectAndDiscover dials the upstream, runs initialize, lists tools, and
// publishes the namespaced tool set.
func (s *Server) connectAndDiscover(ctx context.Context) error {
	s.setState(StateConnecting)

	upstream, err := newUpstreamClient(s.entry)
	if err != nil {
		return err
	}
	if err := upstream.Initialize(ctx); err != nil {
		_ = upstream.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	tools, err := upstream.ListTools(ctx)
	if err != nil {
		_ = upstream.Close()
		return fmt.Errorf("tools/list: %w", err)
	}

	s.mu.Lock()
	s.upstream = upstream
	s.state = StateConnected
	s.lastSeen = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	defs := make([]registry.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, s.toDefinition(t))
	}
	if s.onTools != nil {
		s.onTools(s.entry.ID, defs)
	}

	s.logger.Info().Int("tools", len(defs)).Msg("external mcp server connected")
	return nil
}

// reconnectLoop retries connectAndDiscover with exponential backoff bounded
// by the entry's reconnect_delay_ms..max_reconnect_delay_ms up to
// max_reconnect_attempts, per §4.5. Returns false if ctx was cancelled or
// retries were exhausted (server declared failed).
func (s *Server) reconnectLoop(ctx context.Context) bool {
	s.closeUpstream()
	s.setState(StateReconnecting)

	initial := time.Duration(s.entry.ReconnectDelayMillis) * time.Millisecond
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxDelay := time.Duration(s.entry.MaxReconnectDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	maxAttempts := s.entry.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	cfg := retry.Config{
		MaxRetries:     maxAttempts,
		InitialBackoff: initial,
		MaxBackoff:     maxDelay,
		Jitter:         0.2,
	}

	err := retry.Do(ctx, cfg, func() error {
		s.mu.Lock()
		s.reconnectCount++
		s.mu.Unlock()
		return s.connectAndDiscover(ctx)
	}, func(error) bool { return true })

	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error().Err(err).Int("max_attempts", maxAttempts).Msg("external mcp server reconnect exhausted, declaring failed")
		return false
	}
	return true
}

func (s *Server) closeUpstream() {
	s.mu.Lock()
	upstream := s.upstream
	s.upstream = nil
	s.mu.Unlock()
	if upstream != nil {
		_ = upstream.Close()
	}
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Upstream returns the current upstream client, or a stub that always
// errors if not yet connected.
func (s *Server) Upstream() upstreamClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.upstream == nil {
		return disconnectedUpstream{}
	}
	return s.upstream
}

// Descriptor is the queryable projection of this connection's health.
type Descriptor struct {
	ServerID       string
	State          State
	LastSeen       time.Time
	ReconnectCount int
	LastError      string
}

func (s *Server) Descriptor() Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Descriptor{
		ServerID:       s.entry.ID,
		State:          s.state,
		LastSeen:       s.lastSeen,
		ReconnectCount: s.reconnectCount,
	}
	if s.lastErr != nil {
		d.LastError = s.lastErr.Error()
	}
	return d
}

// CallTool forwards a de-namespaced tool call to this server's upstream.
func (s *Server) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	return s.Upstream().CallTool(ctx, toolName, args)
}

func (s *Server) toDefinition(t mcp.Tool) registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:                   namespacedName(s.entry, t.Name),
		Description:            t.Description,
		InputSchema:            inputSchemaToMap(t),
		Enabled:                true,
		SecurityClassification: registry.SecuritySafe,
		Routing: registry.Routing{
			Type: registry.RoutingRemoteMCPForward,
			Remote: &registry.RemoteMCPRouting{
				ServerID: s.entry.ID,
				ToolName: t.Name,
			},
		},
		SourceServerID: s.entry.ID,
	}
}

// namespacedName applies the entry's namespace_pattern (default
// "{server_id}_{tool_name}") to an upstream tool name.
func namespacedName(entry config.ExternalMCPEntry, toolName string) string {
	pattern := entry.NamespacePattern
	if pattern == "" {
		pattern = "{server_id}_{tool_name}"
	}
	r := strings.NewReplacer("{server_id}", entry.ID, "{tool_name}", toolName)
	return r.Replace(pattern)
}

type disconnectedUpstream struct{}

func (disconnectedUpstream) Initialize(context.Context) error { return fmt.Errorf("not connected") }
func (disconnectedUpstream) ListTools(context.Context) ([]mcp.Tool, error) {
	return nil, fmt.Errorf("not connected")
}
func (disconnectedUpstream) CallTool(context.Context, string, map[string]any) (string, error) {
	return "", fmt.Errorf("not connected")
}
func (disconnectedUpstream) Ping(context.Context) error { return fmt.Errorf("not connected") }
func (disconnectedUpstream) Close() error               { return nil }
