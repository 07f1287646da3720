package retrieval

import (
	"context"
	"regexp"
	"strings"

	"github.com/poiesic/folio/ai"
)

var leadingQuestion = regexp.MustCompile(`(?i)^\s*(what|which|who|when|where|why|how)(\s+(is|are|was|were|does|do|did|has|have|had|many|much))?\s+|^\s*(can|could|would)\s+you\s+(tell\s+me|explain|describe)(\s+about)?\s+|^\s*(tell\s+me\s+about|explain|describe)\s+`)

// HeuristicRewriter produces query variants without calling a model:
// the question restated without its interrogative opening, and its keywords.
type HeuristicRewriter struct{}

var _ ai.QueryRewriter = HeuristicRewriter{}

// Rewrite returns up to n rewrites of question. It never fails.
func (HeuristicRewriter) Rewrite(_ context.Context, question string, n int) ([]string, error) {
	var out []string
	if statement := statementForm(question); statement != "" {
		out = append(out, statement)
	}
	if kw := keywords(question); len(kw) > 0 {
		out = append(out, strings.Join(kw, " "))
	}
	if len(out) > n {
		out = out[:max(n, 0)]
	}
	return out, nil
}

// statementForm strips the interrogative opening and trailing punctuation.
func statementForm(question string) string {
	s := strings.TrimSpace(question)
	s = strings.TrimRight(s, "?!. ")
	s = leadingQuestion.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// dedupeVariants drops blank and case-insensitive duplicate variants and caps the list.
func dedupeVariants(variants []string, limit int) []string {
	seen := make(map[string]bool, len(variants))
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		v = strings.Join(strings.Fields(v), " ")
		key := strings.ToLower(strings.TrimRight(v, "?!. "))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
