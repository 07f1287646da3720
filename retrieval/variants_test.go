package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementForm(t *testing.T) {
	tests := map[string]string{
		"What was revenue growth?":           "revenue growth",
		"How many employees are there?":      "employees are there",
		"Can you tell me about the outlook?": "the outlook",
		"Describe the risk factors.":         "the risk factors",
		"Revenue by region":                  "Revenue by region",
	}
	for in, want := range tests {
		assert.Equal(t, want, statementForm(in), in)
	}
}

func TestHeuristicRewriter(t *testing.T) {
	out, err := HeuristicRewriter{}.Rewrite(context.Background(), "How did revenue grow in Q3?", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue grow in Q3", "revenue grow q3"}, out)

	out, err = HeuristicRewriter{}.Rewrite(context.Background(), "How did revenue grow in Q3?", 1)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = HeuristicRewriter{}.Rewrite(context.Background(), "?", 2)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDedupeVariants(t *testing.T) {
	out := dedupeVariants([]string{"Revenue  growth?", "revenue growth", " ", "margins", "outlook"}, 3)
	assert.Equal(t, []string{"Revenue growth?", "margins", "outlook"}, out)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"what", "revenue", "growth", "q3"}, terms("What was the revenue growth in Q3? Revenue!"))
	assert.Equal(t, []string{"revenue", "growth", "q3"}, keywords("What was the revenue growth in Q3?"))
	assert.Equal(t, 2, lexicalOverlap([]string{"revenue", "growth", "margin"}, "Revenue Growth was flat"))
	assert.Equal(t, "héll", firstRunes("héllo", 4))
}
