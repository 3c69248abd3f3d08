package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcpfed/mcpfed/internal/llm"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// extractArguments produces a concrete argument object for tool from
// request, preferring LLM extraction guided by the tool's input schema and
// falling back to a rule-based regex/keyword extractor. Extracted arguments
// are validated against the schema before being returned.
func (e *Engine) extractArguments(ctx context.Context, request string, requestContext map[string]any, tool registry.ToolDefinition) (map[string]any, error) {
	var args map[string]any
	var err error

	if e.provider != nil {
		args, err = e.llmExtract(ctx, request, tool)
	}
	if args == nil {
		args = ruleExtract(request, tool)
	}
	if requestContext != nil {
		for k, v := range requestContext {
			if _, exists := args[k]; !exists {
				args[k] = v
			}
		}
	}

	if verr := validateAgainstSchema(args, tool.InputSchema); verr != nil {
		return nil, verr
	}
	_ = err // LLM extraction errors are non-fatal: the rule extractor covers the gap.
	return args, nil
}

// llmExtractResponse is the structured shape the extraction prompt asks the
// model to answer with.
type llmExtractResponse struct {
	Arguments map[string]any `json:"arguments"`
}

func (e *Engine) llmExtract(ctx context.Context, request string, tool registry.ToolDefinition) (map[string]any, error) {
	schemaJSON, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	prompt := fmt.Sprintf(
		"A user asked: %q\n\nExtract arguments for the tool %q given its JSON Schema:\n%s\n\n"+
			"Respond with a JSON object: {\"arguments\": {...}} containing only fields present in the schema.",
		request, tool.Name, string(schemaJSON))

	resp, err := e.provider.Generate(ctx, llm.GenerateRequest{
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		SystemPrompt: "You extract structured tool call arguments from natural language.",
	})
	if err != nil {
		return nil, err
	}

	var parsed llmExtractResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable extraction response: %w", err)
	}
	return parsed.Arguments, nil
}

var quotedValue = regexp.MustCompile(`"([^"]*)"`)
var numberValue = regexp.MustCompile(`-?\d+(\.\d+)?`)

// ruleExtract matches each schema property's name (and type) against
// request using simple regex/keyword heuristics: quoted strings for string
// parameters, the first number found for numeric parameters, and
// true/false keyword presence for booleans.
func ruleExtract(request string, tool registry.ToolDefinition) map[string]any {
	args := make(map[string]any)

	props, _ := tool.InputSchema["properties"].(map[string]any)
	for name, rawSpec := range props {
		spec, _ := rawSpec.(map[string]any)
		propType, _ := spec["type"].(string)

		switch propType {
		case "string":
			if m := quotedValue.FindStringSubmatch(request); m != nil {
				args[name] = m[1]
			} else if v := keywordAfter(request, name); v != "" {
				args[name] = v
			}
		case "number", "integer":
			if m := numberValue.FindString(request); m != "" {
				if propType == "integer" {
					if n, err := strconv.Atoi(strings.TrimSuffix(m, ".0")); err == nil {
						args[name] = n
						continue
					}
				}
				if f, err := strconv.ParseFloat(m, 64); err == nil {
					args[name] = f
				}
			}
		case "boolean":
			lower := strings.ToLower(request)
			if strings.Contains(lower, "true") || strings.Contains(lower, "enable") {
				args[name] = true
			} else if strings.Contains(lower, "false") || strings.Contains(lower, "disable") {
				args[name] = false
			}
		}
	}

	return args
}

// keywordAfter finds "<name> <value>" or "<name>: <value>" style mentions
// and returns value.
func keywordAfter(request, name string) string {
	lower := strings.ToLower(request)
	idx := strings.Index(lower, strings.ToLower(name))
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(request[idx+len(name):], " :=")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// validateAgainstSchema performs a minimal structural check: every field
// named in the schema's "required" list must be present in args. Per-field
// type checks are best-effort since the schema is an arbitrary JSON Schema
// object, not a compiled validator.
func validateAgainstSchema(args map[string]any, schema map[string]any) error {
	required, _ := schema["required"].([]any)
	if len(required) == 0 {
		return nil
	}

	fieldErrors := make(map[string]string)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			fieldErrors[name] = "required field missing"
		}
	}

	if len(fieldErrors) > 0 {
		return &ValidationError{FieldErrors: fieldErrors}
	}
	return nil
}
