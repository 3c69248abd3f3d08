package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/mcpfed/mcpfed/internal/config"
)

// OpenAIProvider implements Provider and Embedder against the OpenAI chat
// completions and embeddings APIs (or any OpenAI-compatible endpoint).
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	embedModel string
}

// NewOpenAIProvider constructs an OpenAIProvider for model using apiKey.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{client: &client, model: model, embedModel: "text-embedding-3-small"}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// EmbeddingModelIdentifier returns the embeddings model in use.
func (p *OpenAIProvider) EmbeddingModelIdentifier() string { return "openai:" + p.embedModel }

// Generate sends req to the chat completions endpoint.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				asst := openai.ChatCompletionAssistantMessageParam{}
				if msg.Content != "" {
					asst.Content.OfString = openai.String(msg.Content)
				}
				for _, tc := range msg.ToolCalls {
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					})
				}
				messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
			} else {
				messages = append(messages, openai.ChatCompletionMessageParamOfAssistant[string](msg.Content))
			}
		case "tool":
			for _, tr := range msg.ToolResponses {
				messages = append(messages, openai.ToolMessage(tr.Content, tr.CallID))
			}
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		}
	}

	var tools []openai.ChatCompletionToolParam
	for _, t := range req.Tools {
		params, err := mcpToolToFunctionParameters(t)
		if err != nil {
			return nil, fmt.Errorf("converting tool %s: %w", t.Name, err)
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(completion.Choices) == 0 {
		return &GenerateResponse{FinishReason: "stop"}, nil
	}

	choice := completion.Choices[0]
	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}

	return &GenerateResponse{Content: choice.Message.Content, ToolCalls: toolCalls, FinishReason: finish}, nil
}

// Embed returns an embedding vector for text via the OpenAI embeddings API.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// mcpToolToFunctionParameters converts an MCP tool's JSON schema into the
// shape the OpenAI function-calling API expects.
func mcpToolToFunctionParameters(tool mcp.Tool) (openai.FunctionParameters, error) {
	var schemaJSON []byte
	var err error
	if len(tool.RawInputSchema) > 0 {
		schemaJSON = tool.RawInputSchema
	} else {
		schemaJSON, err = json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshaling schema: %w", err)
		}
	}

	var params openai.FunctionParameters
	if err := json.Unmarshal(schemaJSON, &params); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	return params, nil
}

func init() {
	Register(ProviderMetadata{
		Name:           "openai",
		DisplayName:    "OpenAI",
		DefaultEnvVar:  "OPENAI_API_KEY",
		RequiresAPIKey: true,
	}, func(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
		apiKey, err := resolveAPIKey(cfg, "openai", "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(apiKey, cfg.Model)
	})
}
