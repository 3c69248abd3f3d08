package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpfed/mcpfed/internal/config"
)

// websocketUpstream is a minimal JSON-RPC 2.0 client over a WebSocket text
// connection. mcp-go's client package ships stdio, sse, and streamable-http
// constructors but no websocket one (confirmed absent from every pack
// example using mcp-go/client), so the websocket transport variant is
// hand-rolled directly against gorilla/websocket's client Dialer, the same
// dependency vellankikoti-kubilitics-os-emergent wires in on the server
// side.
type websocketUpstream struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse

	readErr chan error
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Message) }

func newWebsocketUpstream(entry config.ExternalMCPEntry) (upstreamClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(entry.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("external mcp server %q: dialing websocket: %w", entry.ID, err)
	}

	u := &websocketUpstream{
		conn:    conn,
		pending: make(map[int64]chan rpcResponse),
		readErr: make(chan error, 1),
	}
	go u.readLoop()
	return u, nil
}

func (u *websocketUpstream) readLoop() {
	for {
		_, raw, err := u.conn.ReadMessage()
		if err != nil {
			u.readErr <- err
			u.failPending(err)
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}

		u.mu.Lock()
		ch, ok := u.pending[resp.ID]
		if ok {
			delete(u.pending, resp.ID)
		}
		u.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (u *websocketUpstream) failPending(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, ch := range u.pending {
		ch <- rpcResponse{ID: id, Error: &rpcError{Code: -32000, Message: err.Error()}}
		delete(u.pending, id)
	}
}

func (u *websocketUpstream) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := u.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	u.mu.Lock()
	u.pending[id] = ch
	u.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
		return nil, fmt.Errorf("marshaling %s request: %w", method, err)
	}

	if err := u.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (u *websocketUpstream) Initialize(ctx context.Context) error {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      mcp.Implementation{Name: "mcpfed-proxy", Version: "0.1.0"},
		Capabilities:    mcp.ClientCapabilities{},
	}
	_, err := u.call(ctx, "initialize", params)
	return err
}

func (u *websocketUpstream) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := u.call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}
	return result.Tools, nil
}

func (u *websocketUpstream) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	params := struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments,omitempty"`
	}{Name: name, Arguments: args}

	raw, err := u.call(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decoding tools/call result: %w", err)
	}
	if err := toolResultError(&result); err != nil {
		return "", err
	}
	return textFromResult(&result), nil
}

func (u *websocketUpstream) Ping(ctx context.Context) error {
	_, err := u.call(ctx, "ping", struct{}{})
	return err
}

func (u *websocketUpstream) Close() error {
	_ = u.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return u.conn.Close()
}
