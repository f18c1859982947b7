package models

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of event emitted during an orchestration run.
type EventType string

const (
	EventConversation    EventType = "conversation"
	EventTextDelta       EventType = "text_delta"
	EventToolUseStart    EventType = "tool_use_start"
	EventToolUseResult   EventType = "tool_use_result"
	EventMessageComplete EventType = "message_complete"
	EventError           EventType = "error"
)

// Terminal reports whether the event ends a run's stream.
func (t EventType) Terminal() bool {
	return t == EventMessageComplete || t == EventError
}

// Event is a single entry in the ordered stream a run produces.
// Exactly one payload is non-nil for a given Type.
type Event struct {
	Type EventType `json:"event"`

	// Sequence is monotonic within a run.
	Sequence uint64 `json:"-"`

	Conversation *ConversationPayload    `json:"-"`
	TextDelta    *TextDeltaPayload       `json:"-"`
	ToolStart    *ToolUseStartPayload    `json:"-"`
	ToolResult   *ToolUseResultPayload   `json:"-"`
	Complete     *MessageCompletePayload `json:"-"`
	Error        *ErrorPayload           `json:"-"`
}

// ConversationPayload announces a newly created conversation.
type ConversationPayload struct {
	ID    string  `json:"id"`
	Title *string `json:"title"`
}

// TextDeltaPayload carries one fragment of assistant text.
type TextDeltaPayload struct {
	Delta string `json:"delta"`
}

// ToolUseStartPayload announces a tool call before it runs.
type ToolUseStartPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolUseResultPayload reports a finished tool call with a short summary.
type ToolUseResultPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ResultSummary string `json:"resultSummary"`
}

// MessageCompletePayload is the terminal success payload.
type MessageCompletePayload struct {
	MessageID  string      `json:"messageId"`
	Content    string      `json:"content"`
	RichBlocks []RichBlock `json:"richBlocks"`
}

// ErrorPayload is the terminal failure payload.
type ErrorPayload struct {
	Message string `json:"message"`

	// Err is the original error (runtime only, not serialized).
	Err error `json:"-"`
}

// NewConversationEvent builds a conversation event with a null title.
func NewConversationEvent(id string) Event {
	return Event{Type: EventConversation, Conversation: &ConversationPayload{ID: id}}
}

// NewTextDeltaEvent builds a text_delta event.
func NewTextDeltaEvent(delta string) Event {
	return Event{Type: EventTextDelta, TextDelta: &TextDeltaPayload{Delta: delta}}
}

// NewToolUseStartEvent builds a tool_use_start event.
func NewToolUseStartEvent(id, name string) Event {
	return Event{Type: EventToolUseStart, ToolStart: &ToolUseStartPayload{ID: id, Name: name}}
}

// NewToolUseResultEvent builds a tool_use_result event.
func NewToolUseResultEvent(id, name, summary string) Event {
	return Event{Type: EventToolUseResult, ToolResult: &ToolUseResultPayload{ID: id, Name: name, ResultSummary: summary}}
}

// NewMessageCompleteEvent builds a message_complete event.
func NewMessageCompleteEvent(messageID, content string, blocks []RichBlock) Event {
	if blocks == nil {
		blocks = []RichBlock{}
	}
	return Event{Type: EventMessageComplete, Complete: &MessageCompletePayload{
		MessageID:  messageID,
		Content:    content,
		RichBlocks: blocks,
	}}
}

// NewErrorEvent builds an error event from err.
func NewErrorEvent(err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Type: EventError, Error: &ErrorPayload{Message: msg, Err: err}}
}

// NewErrorEventWithMessage builds an error event whose client-facing message
// differs from err, which stays available to in-process consumers.
func NewErrorEventWithMessage(msg string, err error) Event {
	if msg == "" {
		return NewErrorEvent(err)
	}
	return Event{Type: EventError, Error: &ErrorPayload{Message: msg, Err: err}}
}

// Data returns the payload for the event's type, or nil when it is missing.
func (e Event) Data() any {
	switch {
	case e.Type == EventConversation && e.Conversation != nil:
		return e.Conversation
	case e.Type == EventTextDelta && e.TextDelta != nil:
		return e.TextDelta
	case e.Type == EventToolUseStart && e.ToolStart != nil:
		return e.ToolStart
	case e.Type == EventToolUseResult && e.ToolResult != nil:
		return e.ToolResult
	case e.Type == EventMessageComplete && e.Complete != nil:
		return e.Complete
	case e.Type == EventError && e.Error != nil:
		return e.Error
	default:
		return nil
	}
}

// MarshalJSON encodes the event as {"event": <type>, "data": <payload>}.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data()
	if data == nil {
		return nil, fmt.Errorf("event %q has no payload", e.Type)
	}
	return json.Marshal(struct {
		Event EventType `json:"event"`
		Data  any       `json:"data"`
	}{Event: e.Type, Data: data})
}
