package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/poiesic/folio/ai"
	"github.com/tmc/langchaingo/llms"
)

// Rewriter implements ai.QueryRewriter by asking the completion model for paraphrases.
type Rewriter struct {
	completer *Completer
	logger    *slog.Logger
}

// rewrites is the wrapper structure for the LLM's JSON response.
type rewrites struct {
	Paraphrases []string `json:"paraphrases"`
}

func newRewriter(config *ai.Config) (*Rewriter, error) {
	completer, err := newCompleter(config)
	if err != nil {
		return nil, err
	}
	return &Rewriter{
		completer: completer,
		logger:    slog.Default().With("component", "openai-rewriter"),
	}, nil
}

// NewRewriter creates a query rewriter backed by the completion model.
func NewRewriter(config *ai.Config) (ai.QueryRewriter, error) {
	return newRewriter(config)
}

// Rewrite returns up to n paraphrases of question.
func (r *Rewriter) Rewrite(ctx context.Context, question string, n int) ([]string, error) {
	if n < 1 {
		return nil, nil
	}
	messages := []ai.ChatMessage{
		{Role: ai.ChatRoleSystem, Content: buildRewritePrompt(n)},
		{Role: ai.ChatRoleUser, Content: scrubString(question)},
	}

	// Try up to 3 times in case of malformed JSON
	var result rewrites
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		responseText, err := r.completer.generate(ctx, messages, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			return nil, err
		}

		responseText = cleanJSON(responseText)

		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			r.logger.Warn("error parsing rewrite response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		r.logger.Error("failed to parse rewrite response after retries", "err", lastErr)
		return nil, lastErr
	}

	out := make([]string, 0, n)
	for _, p := range result.Paraphrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	r.logger.Debug("rewrote question", "paraphrases", len(out))
	return out, nil
}
