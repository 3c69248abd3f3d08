package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcpfed/mcpfed/internal/llm"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// llmRankingResponse is the structured shape the ranking prompt asks the
// model to answer with.
type llmRankingResponse struct {
	Rankings []llmRanking `json:"rankings"`
}

type llmRanking struct {
	ToolName   string  `json:"tool_name"`
	Confidence float64 `json:"confidence"`
}

// llmMatch asks the configured provider to rank candidateNames for request,
// returning a name -> confidence map. Only the given candidates are shown
// to the model, bounding cost.
func (e *Engine) llmMatch(ctx context.Context, request string, snap *registry.Snapshot, candidateNames []string) (map[string]float64, error) {
	var listing strings.Builder
	for _, name := range candidateNames {
		t, ok := snap.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&listing, "- %s: %s\n", t.Name, t.Description)
	}

	prompt := fmt.Sprintf(
		"A user asked: %q\n\nRank the following candidate tools by how well they satisfy the request. "+
			"Respond with a JSON object: {\"rankings\": [{\"tool_name\": str, \"confidence\": float 0-1}, ...]}, "+
			"most confident first.\n\nCandidates:\n%s", request, listing.String())

	resp, err := e.provider.Generate(ctx, llm.GenerateRequest{
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		SystemPrompt: "You select the single best matching tool for a user's request.",
	})
	if err != nil {
		return nil, fmt.Errorf("llm match: %w", err)
	}

	var parsed llmRankingResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		// Some providers wrap JSON in tool_calls instead of content; try that.
		if len(resp.ToolCalls) > 0 {
			if err2 := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &parsed); err2 != nil {
				return nil, fmt.Errorf("llm match: unparseable ranking response: %w", err)
			}
		} else {
			return nil, fmt.Errorf("llm match: unparseable ranking response: %w", err)
		}
	}

	allowed := make(map[string]bool, len(candidateNames))
	for _, n := range candidateNames {
		allowed[n] = true
	}

	out := make(map[string]float64)
	for _, r := range parsed.Rankings {
		if allowed[r.ToolName] {
			out[r.ToolName] = clamp01(r.Confidence)
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
