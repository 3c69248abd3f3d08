package mcpcore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcpfed/mcpfed/internal/auth"
	"github.com/mcpfed/mcpfed/internal/discovery"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// Dispatcher executes one routed tool call and returns its textual result.
// internal/dispatch provides the concrete implementation; mcpcore only
// depends on this narrow interface to stay decoupled from routing details.
// token tracks the call's cancellation state so the Dispatch Router and its
// executors can honor a client's cancellation notification mid-flight.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool registry.ToolDefinition, args map[string]any, token *CancellationToken) (string, error)
}

// Config mirrors the proxy's server identity and audit settings.
type Config struct {
	Name           string
	Version        string
	AuditEnabled   bool
	DefaultTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Name: "mcpfed", Version: "0.1.0", AuditEnabled: true, DefaultTimeout: 30 * time.Second}
}

// Server wraps mark3labs/mcp-go's wire-level server, rebuilding its tool
// set from the Capability Registry's snapshot and routing every call
// through the Dispatch Router, Smart Discovery Engine, and Permission Gate.
type Server struct {
	mcpServer *server.MCPServer
	reg       *registry.Registry
	dispatch  Dispatcher
	discovery *discovery.Engine
	gate      auth.Gate
	cfg       Config
	logger    logging.Logger
	upgrader  websocket.Upgrader

	mu         sync.Mutex
	registered map[string]bool
	tokens     map[string]*CancellationToken
	progresses map[string]*ProgressSession
}

// New builds a Server and performs the initial tool sync from the
// registry's current snapshot.
func New(reg *registry.Registry, dispatcher Dispatcher, discoveryEngine *discovery.Engine, gate auth.Gate, cfg Config, logger logging.Logger) *Server {
	mcpServer := server.NewMCPServer(cfg.Name, cfg.Version, server.WithToolCapabilities(true))

	s := &Server{
		mcpServer:  mcpServer,
		reg:        reg,
		dispatch:   dispatcher,
		discovery:  discoveryEngine,
		gate:       gate,
		cfg:        cfg,
		logger:     logger,
		registered: make(map[string]bool),
		tokens:     make(map[string]*CancellationToken),
		progresses: make(map[string]*ProgressSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	// A client cancels an in-flight tools/call by sending this notification
	// with the progress token it attached to the original request as
	// requestId: mcp-go's CallToolRequest handler never sees the raw
	// JSON-RPC request id, so the progress token doubles as the
	// cancellation handle here (see progressTokenFrom).
	s.mcpServer.AddNotificationHandler("notifications/cancelled", s.handleCancelNotification)

	s.syncTools()
	return s
}

// SyncTools re-registers every visible tool from the registry's current
// snapshot. Call this after a hot reload or external discovery update;
// mark3labs/mcp-go's AddTool is additive and idempotent per tool name, so
// already-registered tools are simply overwritten with their latest schema.
func (s *Server) SyncTools() {
	s.syncTools()
}

func (s *Server) syncTools() {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.reg.Snapshot()
	if snap == nil {
		return
	}

	for _, t := range snap.ListVisible(s.discovery != nil) {
		s.registerTool(t)
		s.registered[t.Name] = true
	}

	if s.discovery != nil && !s.registered[registry.SmartDiscoveryToolName] {
		s.registerSmartDiscoveryTool()
		s.registered[registry.SmartDiscoveryToolName] = true
	}
}

func (s *Server) registerTool(t registry.ToolDefinition) {
	schemaBytes, err := json.Marshal(t.InputSchema)
	if err != nil {
		s.logger.Warn().Err(err).Str("tool", t.Name).Msg("failed to marshal input schema, skipping registration")
		return
	}

	tool := mcp.NewToolWithRawSchema(t.Name, t.Description, schemaBytes)
	name := t.Name

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handleToolCall(ctx, name, request)
	})
}

func (s *Server) registerSmartDiscoveryTool() {
	schema, _ := json.Marshal(map[string]any{
		"type":     "object",
		"required": []string{"request"},
		"properties": map[string]any{
			"request": map[string]any{"type": "string", "description": "natural language description of the desired action"},
			"context": map[string]any{"type": "object", "description": "optional extra arguments already known"},
		},
	})
	tool := mcp.NewToolWithRawSchema(registry.SmartDiscoveryToolName, "Finds and invokes the best matching tool for a natural language request.", schema)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handleSmartDiscovery(ctx, request)
	})
}

func (s *Server) handleSmartDiscovery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decodeArguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reqText, _ := args["request"].(string)
	if reqText == "" {
		return mcp.NewToolResultError("missing required field: request"), nil
	}
	reqCtx, _ := args["context"].(map[string]any)

	result, err := s.discovery.Discover(ctx, reqText, reqCtx)
	if err != nil {
		code, msg, _ := RenderError(err)
		return mcp.NewToolResultError(fmt.Sprintf("discovery failed (%d): %s", code, msg)), nil
	}
	if result.Refused {
		return mcp.NewToolResultText(fmt.Sprintf("No tool matched with sufficient confidence. Reasoning: %s", result.Reasoning)), nil
	}

	snap := s.reg.Snapshot()
	tool, ok := snap.Get(result.SelectedTool)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("selected tool %q no longer exists", result.SelectedTool)), nil
	}

	return s.executeRouted(ctx, tool, result.Arguments, progressTokenFrom(request))
}

func (s *Server) handleToolCall(ctx context.Context, name string, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.reg.Snapshot()
	tool, ok := snap.Get(name)
	if !ok || !tool.Enabled {
		return mcp.NewToolResultError(fmt.Sprintf("tool not found or disabled: %s", name)), nil
	}

	args, err := decodeArguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.reg.ValidateArgs(tool, args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("validation failed: %v", err)), nil
	}

	return s.executeRouted(ctx, tool, args, progressTokenFrom(request))
}

func (s *Server) executeRouted(ctx context.Context, tool registry.ToolDefinition, args map[string]any, progressToken string) (*mcp.CallToolResult, error) {
	if s.gate != nil {
		decision, err := s.gate.Authorize(ctx, auth.Request{
			ToolName:               tool.Name,
			SecurityClassification: string(tool.SecurityClassification),
		})
		if err != nil || !decision.Allowed {
			reason := "authorization denied"
			if decision.Reason != "" {
				reason = decision.Reason
			}
			s.auditToolCall(tool.Name, args, false)
			return mcp.NewToolResultError(reason), nil
		}
	}

	tokenID := progressToken
	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	ttl := s.cfg.DefaultTimeout
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := s.NewCancellationToken(tokenID, tool.Name, ttl+5*time.Second)
	defer s.retireToken(tokenID)

	session := s.ProgressSession(tokenID, tool.Name)
	session.UpdateSubOperation("dispatch", 1, 0, "accepted")
	s.sendProgress(ctx, progressToken, session)

	if s.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}

	out, err := s.dispatch.Dispatch(ctx, tool, args, token)
	token.Complete()
	s.auditToolCall(tool.Name, args, err == nil)

	if err != nil {
		session.Finish(ProgressFailed)
		s.sendProgress(ctx, progressToken, session)
		code, msg, _ := RenderError(err)
		return mcp.NewToolResultError(fmt.Sprintf("dispatch failed (%d): %s", code, msg)), nil
	}

	session.Finish(ProgressCompleted)
	s.sendProgress(ctx, progressToken, session)
	return mcp.NewToolResultText(out), nil
}

// InvokeForTest exposes executeRouted to tests outside this package without
// going through mark3labs/mcp-go's request/response framing.
func (s *Server) InvokeForTest(ctx context.Context, tool registry.ToolDefinition, args map[string]any) (*mcp.CallToolResult, error) {
	return s.executeRouted(ctx, tool, args, "")
}

// progressTokenFrom extracts the caller's opaque `_meta.progressToken`, if
// any, by round-tripping the request through JSON rather than depending on
// mcp-go's internal Meta field layout directly.
func progressTokenFrom(request mcp.CallToolRequest) string {
	raw, err := json.Marshal(request)
	if err != nil {
		return ""
	}
	var envelope struct {
		Params struct {
			Meta struct {
				ProgressToken any `json:"progressToken"`
			} `json:"_meta"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Params.Meta.ProgressToken == nil {
		return ""
	}
	return fmt.Sprintf("%v", envelope.Params.Meta.ProgressToken)
}

// sendProgress emits a notifications/progress message for calls the caller
// opted into by attaching a progress token; callers that didn't attach one
// receive no notifications, per the protocol's opt-in semantics.
func (s *Server) sendProgress(ctx context.Context, progressToken string, session *ProgressSession) {
	if progressToken == "" {
		return
	}
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return
	}
	state, pct, step := session.Snapshot()
	if err := srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
		"progressToken": progressToken,
		"progress":      pct,
		"total":         100,
		"message":       fmt.Sprintf("%s: %s", state, step),
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send progress notification")
	}
}

// handleCancelNotification looks up the token named by the notification's
// requestId (the progress token the client attached to the original call,
// per progressTokenFrom) and requests graceful cancellation.
func (s *Server) handleCancelNotification(_ context.Context, notification mcp.JSONRPCNotification) {
	raw, err := json.Marshal(notification.Params)
	if err != nil {
		return
	}
	var params struct {
		RequestID any    `json:"requestId"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.RequestID == nil {
		return
	}
	tokenID := fmt.Sprintf("%v", params.RequestID)
	if s.Cancel(tokenID, false) {
		s.logger.Info().Str("token", tokenID).Str("reason", params.Reason).Msg("cancellation requested by client")
	}
}

func decodeArguments(request mcp.CallToolRequest) (map[string]any, error) {
	if request.Params.Arguments == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInvalidParams, "failed to marshal arguments", err)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, mcperr.Wrap(mcperr.KindInvalidParams, "failed to parse arguments", err)
	}
	return args, nil
}

func (s *Server) auditToolCall(toolName string, args map[string]any, success bool) {
	if !s.cfg.AuditEnabled {
		return
	}
	argsJSON, _ := json.Marshal(args)
	s.logger.Info().
		Str("tool", toolName).
		Bool("success", success).
		RawJSON("args", argsJSON).
		Msg("tool invoked")
}

// NewCancellationToken registers and returns a fresh token for operationID.
func (s *Server) NewCancellationToken(tokenID, operationID string, ttl time.Duration) *CancellationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := NewCancellationToken(tokenID, operationID, ttl)
	s.tokens[tokenID] = tok
	return tok
}

// retireToken drops a completed call's token and progress session so the
// maps don't grow unboundedly across the server's lifetime.
func (s *Server) retireToken(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenID)
	delete(s.progresses, tokenID)
}

// Cancel requests graceful cancellation, or force cancellation when force is
// set, of the token with the given id. Returns false if the token is unknown
// or refuses the transition.
func (s *Server) Cancel(tokenID string, force bool) bool {
	s.mu.Lock()
	tok, ok := s.tokens[tokenID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if force {
		return tok.RequestForce()
	}
	return tok.RequestGraceful()
}

// ProgressSession returns (creating if necessary) the progress session for
// a given session/operation pair.
func (s *Server) ProgressSession(sessionID, operationID string) *ProgressSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.progresses[sessionID]; ok {
		return p
	}
	p := NewProgressSession(sessionID, operationID)
	s.progresses[sessionID] = p
	return p
}

// ServeStdio serves the proxy over stdio, blocking until the transport's
// own context is cancelled or it errors out.
func (s *Server) ServeStdio(_ context.Context) error {
	s.logger.Info().Msg("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP serves the proxy over the streamable HTTP transport at addr,
// blocking until it errors out.
func (s *Server) ServeHTTP(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting MCP server on streamable http")
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(addr)
}

// ServeSSE serves the proxy over Server-Sent Events at addr, blocking until
// it errors out.
func (s *Server) ServeSSE(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting MCP server on sse")
	sseServer := server.NewSSEServer(s.mcpServer)
	return sseServer.Start(addr)
}

// ServeWS serves the proxy over a hand-rolled WebSocket JSON-RPC transport
// at addr. mark3labs/mcp-go ships stdio, SSE, and streamable-HTTP front
// ends but no WebSocket one (the same gap documented on the client side in
// internal/mcpclient/websocket.go), so this listener upgrades each
// connection directly with gorilla/websocket and feeds every frame through
// the same MCPServer.HandleMessage entrypoint the bundled transports use
// internally.
func (s *Server) ServeWS(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting MCP server on websocket")
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		resp := s.mcpServer.HandleMessage(ctx, raw)
		if resp == nil {
			continue // a notification produces no response
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to marshal websocket response")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
