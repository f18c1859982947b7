package agent

import (
	"strings"
	"unicode/utf8"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are Sous, a friendly kitchen assistant. You help the user decide what to cook, use up what they have, plan meals and shop.

You can look up the user's own data with tools: pantry items, items about to expire, saved recipes, the current meal plan and its shopping list, and their dietary profile. Look things up instead of guessing, and respect allergies and dietary preferences from the profile.

When a structured card would help, add a fenced block whose info string is one of recipe, meal_plan, shopping_list, pantry, nutrition or timer, containing a single JSON object. For example:

` + "```timer\n{\"label\":\"Rest the dough\",\"minutes\":30}\n```" + `

Keep answers short and practical.`

const titleSystemPrompt = `Write a title of at most six words for the conversation below. Reply with the title only, no quotes or punctuation at the end.`

const maxTitleChars = 80

// titleInput builds the single user message sent for title generation.
func titleInput(userText, assistantText string) string {
	var sb strings.Builder
	sb.WriteString("User: ")
	sb.WriteString(truncateRunes(userText, 1000))
	if assistantText != "" {
		sb.WriteString("\n\nAssistant: ")
		sb.WriteString(truncateRunes(assistantText, 1000))
	}
	return sb.String()
}

// cleanTitle normalizes a generated title. It returns "" when nothing usable
// remains.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimPrefix(title, "Title: ")
	title = strings.Trim(title, "\"'` ")
	title = strings.TrimRight(title, ".!")
	return strings.TrimSpace(truncateRunes(title, maxTitleChars))
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
