package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/sous/internal/agent"
)

// Default fake payloads by purpose.
const (
	FakeChatReply = "This is a canned reply from fake mode. No model was called."
	FakeTitle     = "Fake Conversation"
)

// FakeTurn is one scripted model response.
type FakeTurn struct {
	Text     string
	ToolUses []agent.ContentBlock

	// Err fails the call after Text has been streamed.
	Err error
}

// FakeClient is a deterministic agent.ModelClient. Each purpose has a fixed
// reply; tests can queue scripted turns per purpose, which are consumed
// before falling back to the fixed reply. Usage is always zero.
//
// A request without a purpose fails with ErrMissingPurpose before anything
// else happens.
type FakeClient struct {
	mu       sync.Mutex
	payloads map[string]string
	scripts  map[string][]FakeTurn
	requests []agent.Request
}

// NewFakeClient creates a fake with the default chat and title payloads.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		payloads: map[string]string{
			agent.PurposeChat:  FakeChatReply,
			agent.PurposeTitle: FakeTitle,
		},
		scripts: make(map[string][]FakeTurn),
	}
}

// SetPayload replaces the fixed reply for purpose.
func (f *FakeClient) SetPayload(purpose, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[purpose] = text
}

// Script queues turns for purpose.
func (f *FakeClient) Script(purpose string, turns ...FakeTurn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[purpose] = append(f.scripts[purpose], turns...)
}

// Requests returns copies of the requests received so far.
func (f *FakeClient) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

func (f *FakeClient) next(req *agent.Request) (FakeTurn, error) {
	if req == nil || req.Purpose == "" {
		return FakeTurn{}, ErrMissingPurpose
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *req
	clone.Messages = append([]agent.Message(nil), req.Messages...)
	f.requests = append(f.requests, clone)

	if queue := f.scripts[req.Purpose]; len(queue) > 0 {
		f.scripts[req.Purpose] = queue[1:]
		return queue[0], nil
	}
	text, ok := f.payloads[req.Purpose]
	if !ok {
		return FakeTurn{}, &ConfigError{Field: "purpose", Message: fmt.Sprintf("no fake payload for %q", req.Purpose)}
	}
	return FakeTurn{Text: text}, nil
}

// Send returns the next turn for the request's purpose.
func (f *FakeClient) Send(ctx context.Context, req *agent.Request) (*agent.FinalMessage, error) {
	turn, err := f.next(req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return turn.final(), nil
}

// Stream replays the next turn word by word.
func (f *FakeClient) Stream(ctx context.Context, req *agent.Request) (*agent.Stream, error) {
	turn, err := f.next(req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := agent.NewStream()
	go func() {
		if turn.Text != "" {
			for _, word := range strings.SplitAfter(turn.Text, " ") {
				if !stream.Emit(ctx, word) {
					stream.Finish(nil, ctx.Err())
					return
				}
			}
		}
		if turn.Err != nil {
			stream.Finish(nil, turn.Err)
			return
		}
		stream.Finish(turn.final(), nil)
	}()
	return stream, nil
}

func (t FakeTurn) final() *agent.FinalMessage {
	final := &agent.FinalMessage{StopReason: "end_turn"}
	if t.Text != "" {
		final.Content = append(final.Content, agent.TextBlock(t.Text))
	}
	if len(t.ToolUses) > 0 {
		final.Content = append(final.Content, t.ToolUses...)
		final.StopReason = "tool_use"
	}
	return final
}
