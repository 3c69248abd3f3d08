package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/api/option"

	"github.com/mcpfed/mcpfed/internal/config"
)

// GoogleProvider implements Provider and Embedder against Google AI
// (Gemini) chat and embedding models.
type GoogleProvider struct {
	client     *genai.Client
	model      string
	embedModel string
}

// NewGoogleProvider constructs a GoogleProvider for model using apiKey.
func NewGoogleProvider(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google ai api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating google ai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GoogleProvider{client: client, model: model, embedModel: "text-embedding-004"}, nil
}

// Name returns "google".
func (p *GoogleProvider) Name() string { return "google" }

// EmbeddingModelIdentifier returns the embeddings model in use.
func (p *GoogleProvider) EmbeddingModelIdentifier() string { return "google:" + p.embedModel }

// Generate sends req to the Gemini generateContent endpoint.
func (p *GoogleProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := p.client.GenerativeModel(p.model)

	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertMCPToolsToGemini(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("converting tools: %w", err)
		}
		model.Tools = tools
	}

	chat := model.StartChat()

	for _, msg := range req.Messages[:max(0, len(req.Messages)-1)] {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		var parts []genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
		if len(parts) > 0 {
			chat.History = append(chat.History, &genai.Content{Role: role, Parts: parts})
		}
	}

	var lastParts []genai.Part
	if len(req.Messages) > 0 {
		last := req.Messages[len(req.Messages)-1]
		if last.Content != "" {
			lastParts = append(lastParts, genai.Text(last.Content))
		}
	}
	if len(lastParts) == 0 {
		lastParts = []genai.Part{genai.Text("")}
	}

	resp, err := chat.SendMessage(ctx, lastParts...)
	if err != nil {
		return nil, fmt.Errorf("google generate: %w", err)
	}

	return geminiResponseToGenerateResponse(resp), nil
}

// Embed returns an embedding vector for text via the Gemini embeddings API.
func (p *GoogleProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	em := p.client.EmbeddingModel(p.embedModel)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("google embed: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("google embed: empty response")
	}
	vec := make([]float64, len(resp.Embedding.Values))
	for i, v := range resp.Embedding.Values {
		vec[i] = float64(v)
	}
	return vec, nil
}

func geminiResponseToGenerateResponse(resp *genai.GenerateContentResponse) *GenerateResponse {
	if len(resp.Candidates) == 0 {
		return &GenerateResponse{FinishReason: "stop"}
	}
	cand := resp.Candidates[0]

	var text string
	var toolCalls []ToolCall
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text += string(p)
			case genai.FunctionCall:
				args, _ := json.Marshal(p.Args)
				toolCalls = append(toolCalls, ToolCall{Name: p.Name, Arguments: string(args)})
			}
		}
	}

	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}

	return &GenerateResponse{Content: text, ToolCalls: toolCalls, FinishReason: finish}
}

func convertMCPToolsToGemini(tools []mcp.Tool) ([]*genai.Tool, error) {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		var schemaJSON []byte
		var err error
		if len(t.RawInputSchema) > 0 {
			schemaJSON = t.RawInputSchema
		} else {
			schemaJSON, err = json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshaling schema for %s: %w", t.Name, err)
			}
		}

		var schema genai.Schema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return nil, fmt.Errorf("unmarshaling schema for %s: %w", t.Name, err)
		}

		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func init() {
	Register(ProviderMetadata{
		Name:           "google",
		DisplayName:    "Google AI",
		DefaultEnvVar:  "GOOGLE_API_KEY",
		RequiresAPIKey: true,
	}, func(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
		apiKey, err := resolveAPIKey(cfg, "google", "GOOGLE_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewGoogleProvider(ctx, apiKey, cfg.Model)
	})
}
