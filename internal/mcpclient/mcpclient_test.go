package mcpclient

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/registry"
)

func TestNamespacedNameDefaultsToServerIDUnderscoreToolName(t *testing.T) {
	entry := config.ExternalMCPEntry{ID: "weather"}
	assert.Equal(t, "weather_get_forecast", namespacedName(entry, "get_forecast"))
}

func TestNamespacedNameHonorsConfiguredPattern(t *testing.T) {
	entry := config.ExternalMCPEntry{ID: "weather", NamespacePattern: "ext.{server_id}.{tool_name}"}
	assert.Equal(t, "ext.weather.get_forecast", namespacedName(entry, "get_forecast"))
}

func TestInputSchemaToMapRoundTrips(t *testing.T) {
	tool := mcp.Tool{
		Name: "get_forecast",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"city": map[string]any{"type": "string"},
			},
		},
	}
	schema := inputSchemaToMap(tool)
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema, "properties")
}

// fakeUpstream is a stand-in upstreamClient used to test Server/Fleet
// wiring without dialing a real transport.
type fakeUpstream struct {
	calls   int
	pingErr error
}

func (f *fakeUpstream) Initialize(context.Context) error { return nil }
func (f *fakeUpstream) ListTools(context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{{Name: "ping", InputSchema: mcp.ToolInputSchema{Type: "object"}}}, nil
}
func (f *fakeUpstream) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	f.calls++
	return "called:" + name, nil
}
func (f *fakeUpstream) Ping(context.Context) error { return f.pingErr }
func (f *fakeUpstream) Close() error               { return nil }

func newTestServerWithUpstream(t *testing.T, id string, upstream upstreamClient, onTools func(string, []registry.ToolDefinition)) *Server {
	t.Helper()
	entry := config.ExternalMCPEntry{ID: id}
	s := NewServer(entry, onTools, logging.New(logging.DefaultConfig()))
	s.mu.Lock()
	s.upstream = upstream
	s.state = StateConnected
	s.mu.Unlock()
	return s
}

func TestServerCallToolForwardsToUpstream(t *testing.T) {
	fake := &fakeUpstream{}
	s := newTestServerWithUpstream(t, "weather", fake, nil)

	out, err := s.CallTool(context.Background(), "get_forecast", nil)
	require.NoError(t, err)
	assert.Equal(t, "called:get_forecast", out)
	assert.Equal(t, 1, fake.calls)
}

func TestServerDescriptorReflectsState(t *testing.T) {
	s := newTestServerWithUpstream(t, "weather", &fakeUpstream{}, nil)
	d := s.Descriptor()
	assert.Equal(t, "weather", d.ServerID)
	assert.Equal(t, StateConnected, d.State)
}

func TestFleetCallToolRoutesByServerID(t *testing.T) {
	fake := &fakeUpstream{}
	logger := logging.New(logging.DefaultConfig())
	reg := registry.NewRegistry(logger)
	fleet := NewFleet(reg, logger)

	s := newTestServerWithUpstream(t, "weather", fake, reg.ApplyExternalTools)
	fleet.mu.Lock()
	fleet.servers["weather"] = s
	fleet.mu.Unlock()

	out, err := fleet.CallTool(context.Background(), "weather", "get_forecast", nil)
	require.NoError(t, err)
	assert.Equal(t, "called:get_forecast", out)
}

func TestFleetCallToolUnknownServerFails(t *testing.T) {
	logger := logging.New(logging.DefaultConfig())
	reg := registry.NewRegistry(logger)
	fleet := NewFleet(reg, logger)

	_, err := fleet.CallTool(context.Background(), "does-not-exist", "x", nil)
	require.Error(t, err)
}

func TestServerToDefinitionProducesRemoteForwardRouting(t *testing.T) {
	s := newTestServerWithUpstream(t, "weather", &fakeUpstream{}, nil)
	def := s.toDefinition(mcp.Tool{Name: "get_forecast", InputSchema: mcp.ToolInputSchema{Type: "object"}})

	assert.Equal(t, "weather_get_forecast", def.Name)
	assert.Equal(t, registry.RoutingRemoteMCPForward, def.Routing.Type)
	require.NotNil(t, def.Routing.Remote)
	assert.Equal(t, "weather", def.Routing.Remote.ServerID)
	assert.Equal(t, "get_forecast", def.Routing.Remote.ToolName)
}
