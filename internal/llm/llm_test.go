package llm_test

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/llm"
)

func TestRegistryGetProviderReturnsMock(t *testing.T) {
	p, err := llm.Get().GetProvider(context.Background(), "mock", config.LLMConfig{})
	require.NoError(t, err)
	require.Equal(t, "mock", p.Name())
}

func TestRegistryGetProviderUnknownNameErrors(t *testing.T) {
	_, err := llm.Get().GetProvider(context.Background(), "nonexistent", config.LLMConfig{})
	require.Error(t, err)
}

func TestMockProviderGenerateDelegatesToFirstTool(t *testing.T) {
	p := llm.NewMockProvider()
	resp, err := p.Generate(context.Background(), llm.GenerateRequest{
		Tools: []mcp.Tool{{Name: "echo"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "echo", resp.ToolCalls[0].Name)
}

func TestMockProviderGenerateWithoutToolsReturnsText(t *testing.T) {
	p := llm.NewMockProvider()
	resp, err := p.Generate(context.Background(), llm.GenerateRequest{})
	require.NoError(t, err)
	require.Equal(t, "stop", resp.FinishReason)
}

func TestMockProviderEmbedIsDeterministic(t *testing.T) {
	p := llm.NewMockProvider()
	a, err := p.Embed(context.Background(), "search for documents")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "search for documents")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestListProvidersIncludesAllRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, meta := range llm.Get().ListProviders() {
		names[meta.Name] = true
	}
	require.True(t, names["mock"])
	require.True(t, names["openai"])
	require.True(t, names["google"])
}
