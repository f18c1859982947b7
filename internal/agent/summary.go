package agent

import (
	"encoding/json"
	"fmt"
)

// summarizeResult condenses a tool's JSON result into the one-line summary
// carried by tool_use_result events.
func summarizeResult(result string) string {
	var probe struct {
		Error      *string `json:"error"`
		TotalCount *int    `json:"totalCount"`
		Message    *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err != nil {
		return "data retrieved"
	}
	switch {
	case probe.Error != nil:
		return "error: " + *probe.Error
	case probe.TotalCount != nil:
		if *probe.TotalCount == 1 {
			return "1 item found"
		}
		return fmt.Sprintf("%d items found", *probe.TotalCount)
	case probe.Message != nil:
		return *probe.Message
	default:
		return "data retrieved"
	}
}
