package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// FunctionHandler is an in-process tool implementation registered under a
// function-routing tool's name.
type FunctionHandler func(ctx context.Context, args map[string]any) (string, error)

// functionExecutor dispatches to handlers registered in-process, the only
// routing variant that never leaves the proxy's own address space.
type functionExecutor struct {
	mu       sync.RWMutex
	handlers map[string]FunctionHandler
}

func newFunctionExecutor() *functionExecutor {
	return &functionExecutor{handlers: make(map[string]FunctionHandler)}
}

func (f *functionExecutor) register(name string, h FunctionHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

func (f *functionExecutor) execute(ctx context.Context, tool registry.ToolDefinition, args map[string]any, _ *mcpcore.CancellationToken) (string, error) {
	routing := tool.Routing.Func
	if routing == nil {
		return "", mcperr.New(mcperr.KindInternal, fmt.Sprintf("tool %q: function routing missing", tool.Name))
	}

	f.mu.RLock()
	h, ok := f.handlers[routing.Name]
	f.mu.RUnlock()
	if !ok {
		return "", mcperr.New(mcperr.KindInternal, fmt.Sprintf("tool %q: no function handler registered for %q", tool.Name, routing.Name))
	}

	out, err := h(ctx, args)
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindInternal, fmt.Sprintf("function handler %q failed", routing.Name), err)
	}
	return out, nil
}

// typedHandler adapts a typed function to FunctionHandler by round-tripping
// the generic map[string]any arguments through JSON into In, mirroring the
// marshal/unmarshal pattern coral's MCP tool handlers use for
// request.Params.Arguments.
func typedHandler[In any](fn func(ctx context.Context, in In) (string, error)) FunctionHandler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return "", mcperr.Wrap(mcperr.KindInvalidParams, "marshaling arguments", err)
		}
		var in In
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", mcperr.Wrap(mcperr.KindInvalidParams, "parsing arguments", err)
		}
		return fn(ctx, in)
	}
}

// schemaFor reflects In's JSON Schema, matching coral's generateInputSchema
// helper: reflect, marshal, unmarshal into a plain map so it can be stored
// on a ToolDefinition.
func schemaFor[In any]() (map[string]any, error) {
	var zero In
	reflector := jsonschema.Reflector{}
	schema := reflector.Reflect(zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	return out, nil
}
