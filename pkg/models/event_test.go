package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEventType_Constants(t *testing.T) {
	tests := []struct {
		constant EventType
		expected string
		terminal bool
	}{
		{EventConversation, "conversation", false},
		{EventTextDelta, "text_delta", false},
		{EventToolUseStart, "tool_use_start", false},
		{EventToolUseResult, "tool_use_result", false},
		{EventMessageComplete, "message_complete", true},
		{EventError, "error", true},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("got %q, want %q", tt.constant, tt.expected)
			}
			if tt.constant.Terminal() != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", tt.constant.Terminal(), tt.terminal)
			}
		})
	}
}

func TestEvent_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "conversation has null title",
			event: NewConversationEvent("c1"),
			want:  `{"event":"conversation","data":{"id":"c1","title":null}}`,
		},
		{
			name:  "text delta",
			event: NewTextDeltaEvent("Hel"),
			want:  `{"event":"text_delta","data":{"delta":"Hel"}}`,
		},
		{
			name:  "tool use start",
			event: NewToolUseStartEvent("tu_1", "get_pantry_items"),
			want:  `{"event":"tool_use_start","data":{"id":"tu_1","name":"get_pantry_items"}}`,
		},
		{
			name:  "tool use result",
			event: NewToolUseResultEvent("tu_1", "get_pantry_items", "3 items found"),
			want:  `{"event":"tool_use_result","data":{"id":"tu_1","name":"get_pantry_items","resultSummary":"3 items found"}}`,
		},
		{
			name:  "message complete defaults rich blocks to empty list",
			event: NewMessageCompleteEvent("m1", "done", nil),
			want:  `{"event":"message_complete","data":{"messageId":"m1","content":"done","richBlocks":[]}}`,
		},
		{
			name:  "error",
			event: NewErrorEvent(errors.New("provider unavailable")),
			want:  `{"event":"error","data":{"message":"provider unavailable"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvent_MarshalJSONMissingPayload(t *testing.T) {
	if _, err := json.Marshal(Event{Type: EventTextDelta}); err == nil {
		t.Fatal("expected error for event without payload")
	}
}

func TestNewErrorEvent_NilError(t *testing.T) {
	e := NewErrorEvent(nil)
	if e.Error == nil || e.Error.Message == "" {
		t.Fatalf("expected non-empty message, got %+v", e.Error)
	}
}

func TestNewErrorEventWithMessage(t *testing.T) {
	cause := errors.New("[server_error] anthropic status=529 request_id=req_1")
	e := NewErrorEventWithMessage("try again later", cause)
	if e.Error.Message != "try again later" || !errors.Is(e.Error.Err, cause) {
		t.Fatalf("payload = %+v", e.Error)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "req_1") {
		t.Fatalf("cause leaked into wire form: %s", data)
	}

	if got := NewErrorEventWithMessage("", cause); got.Error.Message != cause.Error() {
		t.Fatalf("empty message should fall back to the cause, got %q", got.Error.Message)
	}
}

func TestMealPlan_Covers(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	plan := MealPlan{StartDate: start, EndDate: start.AddDate(0, 0, 6)}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"first day evening", start.Add(20 * time.Hour), true},
		{"last day", start.AddDate(0, 0, 6).Add(23 * time.Hour), true},
		{"day before", start.Add(-time.Hour), false},
		{"day after", start.AddDate(0, 0, 7), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := plan.Covers(tt.at); got != tt.want {
				t.Errorf("Covers(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	if !RoleUser.Valid() || !RoleAssistant.Valid() {
		t.Fatal("user and assistant roles must be valid")
	}
	if Role("tool").Valid() {
		t.Fatal("tool role must not be projected")
	}
}
