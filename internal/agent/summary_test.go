package agent

import "testing"

func TestSummarizeResult(t *testing.T) {
	tests := []struct {
		result string
		want   string
	}{
		{`{"error":"Recipe not found"}`, "error: Recipe not found"},
		{`{"items":[],"totalCount":0}`, "0 items found"},
		{`{"items":[{}],"totalCount":1}`, "1 item found"},
		{`{"items":[{},{},{}],"totalCount":3}`, "3 items found"},
		{`{"message":"No active meal plan"}`, "No active meal plan"},
		{`{"error":"boom","totalCount":2}`, "error: boom"},
		{`{"id":"r1","title":"Soup"}`, "data retrieved"},
		{`[1,2,3]`, "data retrieved"},
		{`not json`, "data retrieved"},
	}
	for _, tt := range tests {
		if got := summarizeResult(tt.result); got != tt.want {
			t.Errorf("summarizeResult(%s) = %q, want %q", tt.result, got, tt.want)
		}
	}
}
