// Package discovery implements the Smart Discovery Engine: given a
// natural-language request, it selects one tool from the registry and
// produces a concrete argument object, fusing semantic, rule-based, and
// LLM matchers.
package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/mcpfed/mcpfed/internal/llm"
	"github.com/mcpfed/mcpfed/internal/registry"
	"github.com/mcpfed/mcpfed/internal/storage"
	"github.com/mcpfed/mcpfed/pkg/embedding"
)

// Weights configures the relative contribution of each matcher. They are
// normalised over the enabled subset at fusion time.
type Weights struct {
	Semantic float64
	Rule     float64
	LLM      float64
}

// DefaultWeights mirrors the spec's stated defaults.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.30, Rule: 0.15, LLM: 0.55}
}

// Config controls the engine's matching behavior.
type Config struct {
	Weights                   Weights
	SemanticTopK              int
	RuleFloor                 float64
	LLMCandidateCap           int
	DefaultConfidenceThreshold float64
	SemanticEnabled           bool
	RuleEnabled               bool
	LLMEnabled                bool
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		Weights:                   DefaultWeights(),
		SemanticTopK:              30,
		RuleFloor:                 0.05,
		LLMCandidateCap:           30,
		DefaultConfidenceThreshold: 0.5,
		SemanticEnabled:           true,
		RuleEnabled:               true,
		LLMEnabled:                true,
	}
}

// Alternative is a runner-up candidate returned alongside the selection, or
// in place of one when confidence gating refuses to select.
type Alternative struct {
	ToolName string  `json:"tool_name"`
	Score    float64 `json:"score"`
}

// Result is the engine's output for one request.
type Result struct {
	SelectedTool string         `json:"selected_tool,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Confidence   float64        `json:"confidence"`
	Alternatives []Alternative  `json:"alternatives"`
	Reasoning    string         `json:"reasoning"`
	UsedMethods  []string       `json:"used_methods"`
	Refused      bool           `json:"refused"`
}

// ValidationError is returned by parameter extraction when extracted
// arguments fail schema validation, carrying one message per offending
// field.
type ValidationError struct {
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter validation failed for %d field(s)", len(e.FieldErrors))
}

// Engine ties the registry, embedding records, and an LLM provider together
// to answer discovery requests.
type Engine struct {
	reg        *registry.Registry
	embeddings func() map[string]storage.EmbeddingRecord
	provider   llm.Provider
	cfg        Config
}

// New constructs an Engine. embeddings is called on every request so the
// engine always sees the embedding manager's latest records.
func New(reg *registry.Registry, embeddings func() map[string]storage.EmbeddingRecord, provider llm.Provider, cfg Config) *Engine {
	return &Engine{reg: reg, embeddings: embeddings, provider: provider, cfg: cfg}
}

// Discover selects a tool and extracts arguments for request.
func (e *Engine) Discover(ctx context.Context, request string, requestContext map[string]any) (*Result, error) {
	snap := e.reg.Snapshot()
	candidates := snap.All()

	var semanticScores, ruleScores map[string]float64
	var usedMethods []string

	if e.cfg.SemanticEnabled {
		semanticScores = e.semanticMatch(request, candidates)
		if len(semanticScores) > 0 {
			usedMethods = append(usedMethods, "semantic")
		}
	}
	if e.cfg.RuleEnabled {
		ruleScores = ruleMatch(request, candidates, e.cfg.RuleFloor)
		if len(ruleScores) > 0 {
			usedMethods = append(usedMethods, "rule")
		}
	}

	llmScores := map[string]float64{}
	if e.cfg.LLMEnabled && e.provider != nil {
		llmCandidateNames := unionTopCandidates(semanticScores, ruleScores, e.cfg.LLMCandidateCap)
		if len(llmCandidateNames) > 0 {
			scores, err := e.llmMatch(ctx, request, snap, llmCandidateNames)
			if err == nil && len(scores) > 0 {
				llmScores = scores
				usedMethods = append(usedMethods, "llm")
			}
		}
	}

	fused := fuse(e.cfg.Weights, e.cfg.SemanticEnabled, e.cfg.RuleEnabled, e.cfg.LLMEnabled, semanticScores, ruleScores, llmScores)

	ranked := rankFused(fused, snap)
	if len(ranked) == 0 {
		return &Result{Refused: true, Reasoning: "no candidate tools matched the request", UsedMethods: usedMethods}, nil
	}

	best := ranked[0]
	alternatives := make([]Alternative, 0, len(ranked)-1)
	for _, r := range ranked[1:] {
		alternatives = append(alternatives, Alternative{ToolName: r.name, Score: r.score})
	}

	if best.score < e.cfg.DefaultConfidenceThreshold {
		return &Result{
			Confidence:   best.score,
			Alternatives: append([]Alternative{{ToolName: best.name, Score: best.score}}, alternatives...),
			Reasoning:    "best match score fell below the confidence threshold",
			UsedMethods:  usedMethods,
			Refused:      true,
		}, nil
	}

	tool, ok := snap.Get(best.name)
	if !ok {
		return &Result{Refused: true, Reasoning: "selected tool disappeared from registry"}, nil
	}

	args, err := e.extractArguments(ctx, request, requestContext, tool)
	if err != nil {
		return nil, err
	}

	return &Result{
		SelectedTool: best.name,
		Arguments:    args,
		Confidence:   best.score,
		Alternatives: alternatives,
		Reasoning:    fmt.Sprintf("selected via %v with fused score %.3f", usedMethods, best.score),
		UsedMethods:  usedMethods,
	}, nil
}

// semanticMatch embeds request with the provider's Embed when the provider is
// an llm.Embedder and the call succeeds, otherwise with the local
// pkg/embedding generator, then ranks the stored tool embeddings by cosine
// similarity, keeping the top SemanticTopK.
func (e *Engine) semanticMatch(request string, candidates []registry.ToolDefinition) map[string]float64 {
	records := e.embeddings()
	if len(records) == 0 {
		return nil
	}

	requestVector := embedding.Generate(request)
	if embedder, ok := e.provider.(llm.Embedder); ok {
		if v, err := embedder.Embed(context.Background(), request); err == nil {
			requestVector = v
		}
	}

	type scored struct {
		name  string
		score float64
	}
	var all []scored
	for _, t := range candidates {
		if t.Name == registry.SmartDiscoveryToolName {
			continue
		}
		rec, ok := records[t.Name]
		if !ok {
			continue
		}
		all = append(all, scored{name: t.Name, score: embedding.CosineSimilarity(requestVector, rec.Vector)})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	topK := e.cfg.SemanticTopK
	if topK <= 0 || topK > len(all) {
		topK = len(all)
	}

	out := make(map[string]float64, topK)
	for _, s := range all[:topK] {
		out[s.name] = s.score
	}
	return out
}

// unionTopCandidates merges the semantic and rule matchers' candidate names
// up to cap: the semantic candidates first, by descending score, then the
// rule candidates not already taken, by descending score, giving the LLM
// matcher a bounded set to control cost.
func unionTopCandidates(semantic, rule map[string]float64, maxCandidates int) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(scores map[string]float64) {
		type kv struct {
			name  string
			score float64
		}
		var sorted []kv
		for k, v := range scores {
			sorted = append(sorted, kv{k, v})
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })
		for _, e := range sorted {
			if len(out) >= maxCandidates {
				return
			}
			if !seen[e.name] {
				seen[e.name] = true
				out = append(out, e.name)
			}
		}
	}

	add(semantic)
	add(rule)
	return out
}
