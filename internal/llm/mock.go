package llm

import (
	"context"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/pkg/embedding"
)

// MockProvider is a deterministic provider used as the configuration
// default and in tests; it never makes a network call. Generate picks the
// first tool offered (if any) and calls it with an empty argument object,
// simulating a model that always delegates; Embed defers to the local
// SimHash generator.
type MockProvider struct{}

// NewMockProvider constructs a MockProvider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Name returns "mock".
func (MockProvider) Name() string { return "mock" }

// EmbeddingModelIdentifier reports the local SimHash model, since Embed
// delegates to it.
func (MockProvider) EmbeddingModelIdentifier() string { return embedding.LocalModelIdentifier }

// Generate returns a canned response: a tool call against the first
// available tool, or a plain acknowledgement if none were offered.
func (MockProvider) Generate(_ context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if len(req.Tools) > 0 {
		t := req.Tools[0]
		return &GenerateResponse{
			ToolCalls:    []ToolCall{{ID: "mock-1", Name: t.Name, Arguments: "{}"}},
			FinishReason: "tool_calls",
		}, nil
	}
	return &GenerateResponse{Content: "mock response", FinishReason: "stop"}, nil
}

// Embed returns the local SimHash embedding for text.
func (MockProvider) Embed(_ context.Context, text string) ([]float64, error) {
	return embedding.Generate(text), nil
}

func init() {
	Register(ProviderMetadata{
		Name:           "mock",
		DisplayName:    "Mock (offline, deterministic)",
		RequiresAPIKey: false,
	}, func(_ context.Context, _ config.LLMConfig) (Provider, error) {
		return NewMockProvider(), nil
	})
}

var _ Embedder = MockProvider{}
