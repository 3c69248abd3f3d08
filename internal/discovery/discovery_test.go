package discovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/discovery"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/registry"
	"github.com/mcpfed/mcpfed/internal/storage"
	"github.com/mcpfed/mcpfed/pkg/embedding"
)

func weatherTool() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        "get_weather",
		Description: "fetches the current weather for a named city",
		Keywords:    []string{"weather", "forecast", "temperature"},
		Enabled:     true,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"city"},
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
		},
		Routing: registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "get_weather"}},
	}
}

func calcTool() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        "calculate_sum",
		Description: "adds two numbers together",
		Keywords:    []string{"math", "addition", "sum"},
		Enabled:     true,
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Routing:     registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "calculate_sum"}},
	}
}

func newEngine(t *testing.T, cfg discovery.Config) (*discovery.Engine, *registry.Registry) {
	t.Helper()
	logger := logging.New(logging.DefaultConfig())
	reg := registry.NewRegistry(logger)
	reg.ReloadLocal([]registry.ToolDefinition{weatherTool(), calcTool()})

	records := map[string]storage.EmbeddingRecord{
		"get_weather":   {ToolName: "get_weather", Vector: embedding.Generate("get_weather\nfetches the current weather for a named city\nweather,forecast,temperature")},
		"calculate_sum": {ToolName: "calculate_sum", Vector: embedding.Generate("calculate_sum\nadds two numbers together\nmath,addition,sum")},
	}

	engine := discovery.New(reg, func() map[string]storage.EmbeddingRecord { return records }, nil, cfg)
	return engine, reg
}

func TestDiscoverSelectsBestMatchingTool(t *testing.T) {
	cfg := discovery.DefaultConfig()
	cfg.LLMEnabled = false // no provider configured in this test
	cfg.DefaultConfidenceThreshold = 0.05
	engine, _ := newEngine(t, cfg)

	result, err := engine.Discover(context.Background(), `what's the weather in "Paris" right now`, nil)
	require.NoError(t, err)
	require.False(t, result.Refused)
	require.Equal(t, "get_weather", result.SelectedTool)
}

func TestDiscoverExtractsArgumentsRuleBased(t *testing.T) {
	cfg := discovery.DefaultConfig()
	cfg.LLMEnabled = false
	cfg.DefaultConfidenceThreshold = 0.05
	engine, _ := newEngine(t, cfg)

	result, err := engine.Discover(context.Background(), `get weather for "Paris"`, nil)
	require.NoError(t, err)
	require.Equal(t, "get_weather", result.SelectedTool)
	require.Equal(t, "Paris", result.Arguments["city"])
}

func TestDiscoverRefusesBelowConfidenceThreshold(t *testing.T) {
	cfg := discovery.DefaultConfig()
	cfg.LLMEnabled = false
	cfg.DefaultConfidenceThreshold = 0.99
	engine, _ := newEngine(t, cfg)

	result, err := engine.Discover(context.Background(), "do something vague", nil)
	require.NoError(t, err)
	require.True(t, result.Refused)
}

func TestDiscoverNeverSelectsSmartDiscoveryTool(t *testing.T) {
	cfg := discovery.DefaultConfig()
	cfg.LLMEnabled = false
	logger := logging.New(logging.DefaultConfig())
	reg := registry.NewRegistry(logger)
	sd := weatherTool()
	sd.Name = registry.SmartDiscoveryToolName
	reg.ReloadLocal([]registry.ToolDefinition{sd})

	engine := discovery.New(reg, func() map[string]storage.EmbeddingRecord { return nil }, nil, cfg)
	result, err := engine.Discover(context.Background(), "anything", nil)
	require.NoError(t, err)
	require.True(t, result.Refused)
}
