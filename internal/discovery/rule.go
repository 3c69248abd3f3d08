package discovery

import (
	"strings"

	"github.com/mcpfed/mcpfed/internal/registry"
)

// ruleMatch scores every tool by a weighted mixture of keyword overlap,
// category matches, and substring matches on name/description, returning
// only tools whose score clears floor.
func ruleMatch(request string, candidates []registry.ToolDefinition, floor float64) map[string]float64 {
	requestLower := strings.ToLower(request)
	requestWords := tokenizeWords(requestLower)

	out := make(map[string]float64)
	for _, t := range candidates {
		if t.Name == registry.SmartDiscoveryToolName {
			continue
		}

		var score float64

		score += 0.5 * overlapRatio(requestWords, lowerAll(t.Keywords))
		score += 0.3 * overlapRatio(requestWords, lowerAll(t.SemanticTags))
		score += 0.1 * overlapRatio(requestWords, lowerAll(t.Categories))

		if strings.Contains(requestLower, strings.ToLower(t.Name)) {
			score += 0.3
		}
		if substringOverlap(requestLower, strings.ToLower(t.Description)) {
			score += 0.1
		}

		if score > 1.0 {
			score = 1.0
		}

		if score >= floor {
			out[t.Name] = score
		}
	}
	return out
}

func tokenizeWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if w != "" {
			out[w] = true
		}
	}
	return out
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

// overlapRatio returns the fraction of terms that are a substring of, or
// contain as a substring, any word in words.
func overlapRatio(words map[string]bool, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	var hits int
	for _, term := range terms {
		for w := range words {
			if strings.Contains(w, term) || strings.Contains(term, w) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(terms))
}

func substringOverlap(request, description string) bool {
	words := tokenizeWords(description)
	var hits int
	for w := range words {
		if len(w) > 3 && strings.Contains(request, w) {
			hits++
		}
	}
	return hits >= 2
}
