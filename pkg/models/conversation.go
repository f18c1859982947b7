// Package models provides domain types shared by the sous engine, its stores and transports.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role can be projected into model input.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is a chat thread owned by a single user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     *string   `json:"title"` // nil until generated
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTitle reports whether a non-empty title has been set.
func (c *Conversation) HasTitle() bool {
	return c != nil && c.Title != nil && *c.Title != ""
}

// Message is one persisted turn of a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	ToolCalls      []ToolCall  `json:"tool_calls,omitempty"`
	RichBlocks     []RichBlock `json:"rich_blocks,omitempty"`
	TokenCount     int         `json:"token_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ToolCall records a tool invocation issued by the assistant during a turn.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// RichBlock is a structured UI block extracted from assistant text.
type RichBlock struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
