package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/sous/internal/agent"
)

func TestFakeClient_MissingPurpose(t *testing.T) {
	fake := NewFakeClient()

	if _, err := fake.Stream(context.Background(), &agent.Request{}); !errors.Is(err, ErrMissingPurpose) {
		t.Fatalf("Stream() error = %v, want ErrMissingPurpose", err)
	}
	if _, err := fake.Send(context.Background(), &agent.Request{}); !errors.Is(err, ErrMissingPurpose) {
		t.Fatalf("Send() error = %v, want ErrMissingPurpose", err)
	}
	if n := len(fake.Requests()); n != 0 {
		t.Fatalf("recorded %d requests, want 0", n)
	}
}

func TestFakeClient_UnknownPurpose(t *testing.T) {
	_, err := NewFakeClient().Send(context.Background(), &agent.Request{Purpose: "summary"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigError", err)
	}
}

func TestFakeClient_FixedPayloads(t *testing.T) {
	fake := NewFakeClient()

	stream, err := fake.Stream(context.Background(), &agent.Request{Purpose: agent.PurposeChat})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	deltas, final, err := drain(t, stream)
	if err != nil {
		t.Fatalf("Final() error = %v", err)
	}
	if strings.Join(deltas, "") != FakeChatReply || final.Text() != FakeChatReply {
		t.Fatalf("chat = %q / %q", strings.Join(deltas, ""), final.Text())
	}
	if final.Usage.InputTokens != 0 || final.Usage.OutputTokens != 0 {
		t.Fatalf("usage = %+v, want zero", final.Usage)
	}

	title, err := fake.Send(context.Background(), &agent.Request{Purpose: agent.PurposeTitle})
	if err != nil || title.Text() != FakeTitle {
		t.Fatalf("title = %+v, %v", title, err)
	}

	fake.SetPayload(agent.PurposeTitle, "Soup Night")
	title, _ = fake.Send(context.Background(), &agent.Request{Purpose: agent.PurposeTitle})
	if title.Text() != "Soup Night" {
		t.Fatalf("title = %q", title.Text())
	}
}

func TestFakeClient_Scripts(t *testing.T) {
	fake := NewFakeClient()
	boom := errors.New("boom")
	fake.Script(agent.PurposeChat,
		FakeTurn{ToolUses: []agent.ContentBlock{{Type: agent.BlockToolUse, ID: "tu_1", Name: "get_pantry_items", Input: json.RawMessage(`{}`)}}},
		FakeTurn{Text: "partial", Err: boom},
	)

	stream, _ := fake.Stream(context.Background(), &agent.Request{Purpose: agent.PurposeChat})
	_, final, err := drain(t, stream)
	if err != nil || len(final.ToolUses()) != 1 || final.StopReason != "tool_use" {
		t.Fatalf("first turn = %+v, %v", final, err)
	}

	stream, _ = fake.Stream(context.Background(), &agent.Request{Purpose: agent.PurposeChat})
	deltas, _, err := drain(t, stream)
	if !errors.Is(err, boom) || strings.Join(deltas, "") != "partial" {
		t.Fatalf("second turn = %q, %v", deltas, err)
	}

	stream, _ = fake.Stream(context.Background(), &agent.Request{Purpose: agent.PurposeChat})
	_, final, _ = drain(t, stream)
	if final.Text() != FakeChatReply {
		t.Fatalf("after script = %q, want fixed payload", final.Text())
	}
	if n := len(fake.Requests()); n != 3 {
		t.Fatalf("requests = %d, want 3", n)
	}
}

func TestFakeClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFakeClient().Stream(ctx, &agent.Request{Purpose: agent.PurposeChat}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() error = %v", err)
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(Config{FakeMode: true})
	if err != nil {
		t.Fatalf("NewClient(fake) error = %v", err)
	}
	if _, ok := client.(*FakeClient); !ok {
		t.Fatalf("client = %T, want *FakeClient", client)
	}

	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error without API key outside fake mode")
	}

	client, err = NewClient(Config{APIKey: "k", Model: "claude-test"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if ac, ok := client.(*AnthropicClient); !ok || ac.model != "claude-test" {
		t.Fatalf("client = %#v", client)
	}
}
