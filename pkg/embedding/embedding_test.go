package embedding_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/pkg/embedding"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a := embedding.Generate("ping\nSend ICMP echo requests\nnetwork,diagnostics")
	b := embedding.Generate("ping\nSend ICMP echo requests\nnetwork,diagnostics")
	require.Equal(t, a, b)
	require.Len(t, a, embedding.Dimensions)
}

func TestCosineSimilaritySelfIsOne(t *testing.T) {
	v := embedding.Generate("coral_query_metrics")
	require.InDelta(t, 1.0, embedding.CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityDifferentTextsDiffer(t *testing.T) {
	a := embedding.Generate("ping a host")
	b := embedding.Generate("list kubernetes pods")
	require.Less(t, embedding.CosineSimilarity(a, b), 1.0)
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	require.Equal(t, 0.0, embedding.CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
}
