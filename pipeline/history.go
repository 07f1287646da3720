package pipeline

import (
	"slices"

	"github.com/poiesic/folio/answer"
	"github.com/poiesic/folio/core"
)

const (
	DefaultHistoryTokenBudget = 4000
	DefaultHistoryMaxMessages = 10
)

// HistoryBudget bounds the prior exchanges sent with a question.
type HistoryBudget struct {
	Tokens   int
	Messages int
}

// estimateTokens approximates one token per four characters.
func estimateTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}

// BuildHistory returns completed exchanges of a conversation, oldest first,
// taking whole pairs newest-first until the token or message budget is hit.
// The newest exchange is always kept. messages must be in creation order;
// the exchange answering excludeID is skipped.
func BuildHistory(messages []*core.Message, excludeID string, budget HistoryBudget) []answer.Exchange {
	questions := make(map[string]*core.Message)
	var pairs []answer.Exchange
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleUser:
			if msg.Status == core.MessageCompleted && msg.ID != excludeID {
				questions[msg.ID] = msg
			}
		case core.RoleAssistant:
			q, ok := questions[msg.ParentMessageID]
			if !ok || msg.Status != core.MessageCompleted {
				continue
			}
			delete(questions, msg.ParentMessageID)
			pairs = append(pairs, answer.Exchange{Question: q.Text, Answer: msg.Text})
		}
	}

	var (
		selected []answer.Exchange
		tokens   int
	)
	for i := len(pairs) - 1; i >= 0; i-- {
		cost := estimateTokens(pairs[i].Question) + estimateTokens(pairs[i].Answer)
		if len(selected) > 0 && (tokens+cost > budget.Tokens || 2*(len(selected)+1) > budget.Messages) {
			break
		}
		selected = append(selected, pairs[i])
		tokens += cost
	}
	slices.Reverse(selected)
	return selected
}
