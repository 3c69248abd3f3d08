package mcpclient

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// inputSchemaToMap converts a discovered tool's typed InputSchema back into
// the plain map[string]any the Capability Registry stores, the inverse of
// the generateInputSchema-style marshal/unmarshal round trip used elsewhere
// in this proxy (internal/dispatch/function.go's schemaFor).
func inputSchemaToMap(t mcp.Tool) map[string]any {
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
