// Package richblocks extracts structured display blocks that the assistant
// embeds in its replies as fenced code blocks, for example:
//
//	```recipe
//	{"title": "Chicken Saag", "servings": 4}
//	```
package richblocks

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/sous/pkg/models"
)

// Block types recognized in fence info strings.
const (
	TypeRecipe       = "recipe"
	TypeMealPlan     = "meal_plan"
	TypeShoppingList = "shopping_list"
	TypePantry       = "pantry"
	TypeNutrition    = "nutrition"
	TypeTimer        = "timer"
)

var knownTypes = map[string]bool{
	TypeRecipe:       true,
	TypeMealPlan:     true,
	TypeShoppingList: true,
	TypePantry:       true,
	TypeNutrition:    true,
	TypeTimer:        true,
}

// IsKnownType reports whether t is a rich block type.
func IsKnownType(t string) bool {
	return knownTypes[t]
}

const fence = "```"

// Extract returns the rich blocks in text in source order. Fences with an
// unknown info string, an invalid JSON body or no closing fence are skipped.
// It never fails; text without blocks yields an empty slice.
func Extract(text string) []models.RichBlock {
	blocks := []models.RichBlock{}
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		info, ok := openingFence(lines[i])
		if !ok {
			continue
		}
		end := closingFence(lines, i+1)
		if end < 0 {
			break
		}
		if IsKnownType(info) {
			body := strings.Join(lines[i+1:end], "\n")
			if data, ok := compactJSON(body); ok {
				blocks = append(blocks, models.RichBlock{Type: info, Data: data})
			}
		}
		i = end
	}
	return blocks
}

func openingFence(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, fence) {
		return "", false
	}
	info := strings.TrimSpace(strings.TrimLeft(trimmed, "`"))
	// Only the first word of the info string names the block.
	if idx := strings.IndexAny(info, " \t"); idx >= 0 {
		info = info[:idx]
	}
	return strings.ToLower(info), true
}

func closingFence(lines []string, from int) int {
	for j := from; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == fence {
			return j
		}
	}
	return -1
}

func compactJSON(body string) (json.RawMessage, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}
