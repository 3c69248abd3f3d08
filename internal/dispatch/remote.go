package dispatch

import (
	"context"
	"fmt"

	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// remoteExecutor forwards a remote_mcp_forward routed call to the external
// MCP client owning the tool's server_id.
type remoteExecutor struct {
	forwarder RemoteForwarder
}

func (e *remoteExecutor) execute(ctx context.Context, tool registry.ToolDefinition, args map[string]any, _ *mcpcore.CancellationToken) (string, error) {
	routing := tool.Routing.Remote
	if routing == nil {
		return "", mcperr.New(mcperr.KindInternal, fmt.Sprintf("tool %q: remote_mcp_forward routing missing", tool.Name))
	}
	if e.forwarder == nil {
		return "", mcperr.New(mcperr.KindUpstreamUnavailable, "no external MCP client fleet configured")
	}

	out, err := e.forwarder.CallTool(ctx, routing.ServerID, routing.ToolName, args)
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindUpstreamUnavailable, fmt.Sprintf("forwarding to %s/%s", routing.ServerID, routing.ToolName), err)
	}
	return out, nil
}
