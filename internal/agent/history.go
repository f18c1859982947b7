package agent

import (
	"unicode/utf8"

	"github.com/haasonsaas/sous/pkg/models"
)

// DefaultHistoryTokenBudget bounds the estimated tokens of replayed history.
const DefaultHistoryTokenBudget = 100000

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// windowStart returns the index of the first message of the longest trailing
// run of projectable messages whose summed TokenCount fits budget. The last
// projectable message is always included. Messages that cannot be projected
// are skipped and consume no budget.
func windowStart(history []*models.Message, budget int) int {
	start := len(history)
	used := 0
	included := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if !projectable(msg) {
			continue
		}
		if included > 0 && used+msg.TokenCount > budget {
			break
		}
		used += msg.TokenCount
		included++
		start = i
	}
	return start
}

// WindowHistory projects the trailing window of history into model messages.
// Cuts happen only on message boundaries. Assistant messages are replayed as
// text only; their tool calls are not.
func WindowHistory(history []*models.Message, budget int) []Message {
	if budget <= 0 {
		budget = DefaultHistoryTokenBudget
	}
	start := windowStart(history, budget)
	out := make([]Message, 0, len(history)-start)
	for _, msg := range history[start:] {
		if !projectable(msg) {
			continue
		}
		out = append(out, Message{
			Role:    msg.Role,
			Content: []ContentBlock{TextBlock(msg.Content)},
		})
	}
	return out
}

// projectable reports whether msg can be replayed to the model. Empty
// messages, such as an assistant turn cancelled before any text, are dropped
// because the API rejects empty text blocks.
func projectable(msg *models.Message) bool {
	return msg != nil && msg.Role.Valid() && msg.Content != ""
}
