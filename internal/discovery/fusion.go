package discovery

import (
	"sort"

	"github.com/mcpfed/mcpfed/internal/registry"
)

// fuse combines per-matcher score maps into one weighted score per tool
// name, normalising the configured weights over the subset of matchers
// that are enabled and actually produced a score for this request.
func fuse(w Weights, semanticEnabled, ruleEnabled, llmEnabled bool, semantic, rule, llmScores map[string]float64) map[string]float64 {
	var totalWeight float64
	if semanticEnabled && len(semantic) > 0 {
		totalWeight += w.Semantic
	}
	if ruleEnabled && len(rule) > 0 {
		totalWeight += w.Rule
	}
	if llmEnabled && len(llmScores) > 0 {
		totalWeight += w.LLM
	}
	if totalWeight == 0 {
		return nil
	}

	out := make(map[string]float64)
	accumulate := func(scores map[string]float64, weight float64) {
		if weight == 0 {
			return
		}
		normalized := weight / totalWeight
		for name, score := range scores {
			out[name] += score * normalized
		}
	}

	if semanticEnabled {
		accumulate(semantic, w.Semantic)
	}
	if ruleEnabled {
		accumulate(rule, w.Rule)
	}
	if llmEnabled {
		accumulate(llmScores, w.LLM)
	}

	return out
}

type rankedCandidate struct {
	name  string
	score float64
}

// rankFused sorts fused scores descending, breaking ties by (1) lower
// complexity_score, (2) higher confidence_boost, (3) lexicographic name.
func rankFused(fused map[string]float64, snap *registry.Snapshot) []rankedCandidate {
	out := make([]rankedCandidate, 0, len(fused))
	for name, score := range fused {
		out = append(out, rankedCandidate{name: name, score: score})
	}

	tool := func(name string) registry.ToolDefinition {
		t, _ := snap.Get(name)
		return t
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		ti, tj := tool(out[i].name), tool(out[j].name)
		if ti.ComplexityScore != tj.ComplexityScore {
			return ti.ComplexityScore < tj.ComplexityScore
		}
		if ti.ConfidenceBoost != tj.ConfidenceBoost {
			return ti.ConfidenceBoost > tj.ConfidenceBoost
		}
		return out[i].name < out[j].name
	})
	return out
}
