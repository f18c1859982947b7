package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/haasonsaas/sous/internal/tools"
	"github.com/haasonsaas/sous/internal/usage"
	"github.com/haasonsaas/sous/pkg/models"
)

// Purpose tags a model call. Fake clients key their canned payloads on it.
const (
	PurposeChat  = "chat"
	PurposeTitle = "title"
)

// ModelClient is the language-model backend used by the orchestrator.
//
// Implementations must be safe for concurrent use: title generation runs on
// its own goroutine while other runs stream.
//
// See Also:
//   - providers.AnthropicClient for the Anthropic Messages API
//   - providers.FakeClient for deterministic local runs
type ModelClient interface {
	// Send performs a one-shot request and returns the complete message.
	Send(ctx context.Context, req *Request) (*FinalMessage, error)

	// Stream opens a streaming request. Text fragments arrive on Deltas in
	// order; Final returns the terminal message once Deltas is closed.
	Stream(ctx context.Context, req *Request) (*Stream, error)
}

// Request contains all parameters for a model call.
type Request struct {
	// Purpose identifies why the call is made ("chat", "title").
	Purpose string

	// Model overrides the client's default model when set.
	Model string

	// MaxTokens limits the generated length. Zero uses the client default.
	MaxTokens int

	System   string
	Messages []Message
	Tools    []tools.Definition
}

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message's content.
//
// Field use by type:
//   - text: Text
//   - tool_use: ID, Name, Input
//   - tool_result: ToolUseID, Content, IsError
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// Message is one entry of the outgoing conversation sent to the model.
type Message struct {
	Role    models.Role    `json:"role"`
	Content []ContentBlock `json:"content"`
}

// FinalMessage is the terminal value of a model call.
type FinalMessage struct {
	Content    []ContentBlock
	StopReason string
	Usage      usage.Usage
}

// Text concatenates the message's text blocks.
func (m *FinalMessage) Text() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks in the order the model issued them.
func (m *FinalMessage) ToolUses() []ContentBlock {
	if m == nil {
		return nil
	}
	var uses []ContentBlock
	for _, block := range m.Content {
		if block.Type == BlockToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

// Stream is an in-flight streaming model call. It has a single producer (the
// client) and a single consumer (the orchestrator). The consumer drains
// Deltas until it is closed, then calls Final.
type Stream struct {
	deltas chan string
	done   chan struct{}
	once   sync.Once

	final *FinalMessage
	err   error
}

// NewStream creates a stream. Clients use Emit and Finish to produce it.
func NewStream() *Stream {
	return &Stream{
		deltas: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// Deltas returns the ordered text fragments. It is closed when the call ends.
func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

// Final blocks until the call ends and returns its terminal value.
func (s *Stream) Final() (*FinalMessage, error) {
	<-s.done
	return s.final, s.err
}

// Emit delivers a text fragment. It returns false if ctx ended first.
func (s *Stream) Emit(ctx context.Context, delta string) bool {
	select {
	case s.deltas <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish ends the stream with either a final message or an error. Only the
// first call has an effect.
func (s *Stream) Finish(final *FinalMessage, err error) {
	s.once.Do(func() {
		s.final = final
		s.err = err
		close(s.deltas)
		close(s.done)
	})
}
