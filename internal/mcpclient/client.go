// Package mcpclient implements the External MCP Client fleet: one client per
// configured back-end server, discovering tools into the Capability Registry
// and forwarding remote_mcp_forward routed calls back out to them.
package mcpclient

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpfed/mcpfed/internal/config"
)

// upstreamClient is the narrow surface every transport variant implements,
// letting Client stay transport-agnostic the way mcp-go's own *client.Client
// is agnostic across its stdio/sse/streamable-http constructors.
type upstreamClient interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

func newUpstreamClient(entry config.ExternalMCPEntry) (upstreamClient, error) {
	switch entry.Transport {
	case "stdio", "subprocess-stdio":
		return newStdioUpstream(entry)
	case "sse":
		return newSSEUpstream(entry)
	case "streamable_http", "streamable-http":
		return newStreamableHTTPUpstream(entry)
	case "websocket":
		return newWebsocketUpstream(entry)
	default:
		return nil, fmt.Errorf("external mcp server %q: unsupported transport %q", entry.ID, entry.Transport)
	}
}

// textFromResult concatenates the text content blocks of a CallToolResult,
// mirroring coral's agent.go extraction via mcp.AsTextContent.
func textFromResult(result *mcp.CallToolResult) string {
	var out string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			out += textContent.Text
		}
	}
	return out
}

func toolResultError(result *mcp.CallToolResult) error {
	if result == nil || !result.IsError {
		return nil
	}
	return fmt.Errorf("tool call returned an error result: %s", textFromResult(result))
}
