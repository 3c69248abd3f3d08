// Package llm provides the LLM provider abstraction used by the smart
// discovery engine's LLM matcher and parameter extractor, and by the
// embedding manager's primary (non-fallback) embedding path.
package llm

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpfed/mcpfed/internal/config"
)

// Message represents a chat message exchanged with a provider.
type Message struct {
	Role          string
	Content       string
	ToolCalls     []ToolCall
	ToolResponses []ToolResponse
}

// ToolResponse is the result of a tool call fed back to the model.
type ToolResponse struct {
	CallID  string
	Name    string
	Content string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// GenerateRequest parameterizes a single completion call.
type GenerateRequest struct {
	Messages     []Message
	Tools        []mcp.Tool
	SystemPrompt string
}

// GenerateResponse is a provider's completion result.
type GenerateResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Provider is the interface every LLM backend implements for completion.
type Provider interface {
	// Name returns the provider identifier ("openai", "google", "mock").
	Name() string

	// Generate sends req to the model and returns its response.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Embedder is implemented by providers that can also produce embedding
// vectors. Not every Provider supports it; the embedding manager falls back
// to the local SimHash embedder (pkg/embedding) when it does not.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbeddingModelIdentifier() string
}

// ProviderFactory constructs a Provider from resolved configuration.
type ProviderFactory func(ctx context.Context, cfg config.LLMConfig) (Provider, error)

// ProviderMetadata describes a registered provider, as returned by
// Registry.ListProviders.
type ProviderMetadata struct {
	Name           string
	DisplayName    string
	DefaultEnvVar  string
	RequiresAPIKey bool
}

type registeredProvider struct {
	metadata ProviderMetadata
	factory  ProviderFactory
}

// Registry is the set of known provider factories, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
}

var globalRegistry = NewRegistry()

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*registeredProvider)}
}

// Register adds a provider factory to the global registry. Called from each
// provider implementation's init().
func Register(metadata ProviderMetadata, factory ProviderFactory) {
	globalRegistry.RegisterProvider(metadata, factory)
}

// RegisterProvider adds metadata+factory under metadata.Name.
func (r *Registry) RegisterProvider(metadata ProviderMetadata, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[metadata.Name] = &registeredProvider{metadata: metadata, factory: factory}
}

// Get returns the global provider registry.
func Get() *Registry { return globalRegistry }

// GetProvider constructs a Provider instance by name.
func (r *Registry) GetProvider(ctx context.Context, name string, cfg config.LLMConfig) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	return p.factory(ctx, cfg)
}

// ListProviders returns registered provider metadata, sorted by name.
func (r *Registry) ListProviders() []ProviderMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderMetadata, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// resolveAPIKey resolves a provider's API key from config.APIKeys[name],
// falling back to defaultEnvVar. An api_keys entry of the form "env://X" is
// resolved via internal/config during Load, so by the time this runs it is
// either a literal key or empty.
func resolveAPIKey(cfg config.LLMConfig, name, defaultEnvVar string) (string, error) {
	if key := cfg.APIKeys[name]; key != "" && !strings.HasPrefix(key, "env://") {
		return key, nil
	}
	if key := os.Getenv(defaultEnvVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%s api key not configured (set %s or config llm.api_keys.%s)", name, defaultEnvVar, name)
}
