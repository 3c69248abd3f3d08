package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"os"

	gomcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpfed/mcpfed/internal/config"
)

// headerRoundTripper injects static headers (credentials, API keys) on every
// request, the technique toolhive's vmcp session connector uses to attach a
// custom http.Client to the SSE transport, which otherwise has no headers
// option of its own.
type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := h.base
	if base == nil {
		base = http.DefaultTransport
	}
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return base.RoundTrip(cloned)
}

// mcpgoUpstream adapts mark3labs/mcp-go's *client.Client to upstreamClient,
// grounded on coral's own connectToColonyMCP (internal/agent/ask/agent.go)
// for the stdio variant and on kagenti-mcp-gateway's broker for the
// streamable-http and sse variants.
type mcpgoUpstream struct {
	client     *gomcpclient.Client
	clientName string
}

func newStdioUpstream(entry config.ExternalMCPEntry) (upstreamClient, error) {
	env := os.Environ()
	for k, v := range entry.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	c, err := gomcpclient.NewStdioMCPClient(entry.Command, env, entry.Args...)
	if err != nil {
		return nil, fmt.Errorf("external mcp server %q: creating stdio client: %w", entry.ID, err)
	}
	return &mcpgoUpstream{client: c, clientName: "mcpfed-proxy"}, nil
}

func newSSEUpstream(entry config.ExternalMCPEntry) (upstreamClient, error) {
	url := entry.BaseURL + entry.SSEEndpoint

	var c *gomcpclient.Client
	var err error
	if len(entry.Headers) > 0 {
		httpClient := &http.Client{Transport: headerRoundTripper{headers: entry.Headers}}
		c, err = gomcpclient.NewSSEMCPClient(url, transport.WithHTTPClient(httpClient))
	} else {
		c, err = gomcpclient.NewSSEMCPClient(url)
	}
	if err != nil {
		return nil, fmt.Errorf("external mcp server %q: creating sse client: %w", entry.ID, err)
	}
	if err := c.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("external mcp server %q: starting sse client: %w", entry.ID, err)
	}
	return &mcpgoUpstream{client: c, clientName: "mcpfed-proxy"}, nil
}

func newStreamableHTTPUpstream(entry config.ExternalMCPEntry) (upstreamClient, error) {
	url := entry.BaseURL + entry.Path
	var opts []transport.StreamableHTTPCOption
	if len(entry.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(entry.Headers))
	}
	c, err := gomcpclient.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("external mcp server %q: creating streamable http client: %w", entry.ID, err)
	}
	if err := c.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("external mcp server %q: starting streamable http client: %w", entry.ID, err)
	}
	return &mcpgoUpstream{client: c, clientName: "mcpfed-proxy"}, nil
}

func (u *mcpgoUpstream) Initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: u.clientName, Version: "0.1.0"}
	req.Params.Capabilities = mcp.ClientCapabilities{}
	_, err := u.client.Initialize(ctx, req)
	return err
}

func (u *mcpgoUpstream) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := u.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (u *mcpgoUpstream) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := u.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	if err := toolResultError(result); err != nil {
		return "", err
	}
	return textFromResult(result), nil
}

func (u *mcpgoUpstream) Ping(ctx context.Context) error {
	return u.client.Ping(ctx)
}

func (u *mcpgoUpstream) Close() error {
	return u.client.Close()
}
