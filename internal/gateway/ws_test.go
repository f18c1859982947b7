package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/agent/providers"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/pkg/models"
)

type wsTestFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	OK      *bool           `json:"ok"`
	Payload json.RawMessage `json:"payload"`
	Error   *apiError       `json:"error"`
	Seq     *int64          `json:"seq"`
}

func dialWS(t *testing.T, env *testEnv, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/v1/chat/ws"
	header := http.Header{}
	if userID != "" {
		header.Set(UserHeader, userID)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readWS(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame wsTestFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	return frame
}

// readChatEvents reads until the run for requestID reaches a terminal event.
func readChatEvents(t *testing.T, conn *websocket.Conn, requestID string) []wsChatEventFrame {
	t.Helper()
	var events []wsChatEventFrame
	for {
		frame := readWS(t, conn)
		if frame.Type != "event" || frame.Event != "chat" {
			continue
		}
		var evt wsChatEventFrame
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			t.Fatalf("decode chat event: %v", err)
		}
		if evt.RequestID != requestID {
			continue
		}
		events = append(events, evt)
		if evt.Event == "message_complete" || evt.Event == "error" {
			return events
		}
	}
}

type wsChatEventFrame struct {
	RequestID string          `json:"requestId"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

func TestWebSocket_ChatSend(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env, "u1")

	sendWS(t, conn, map[string]any{
		"type":   "req",
		"id":     "r1",
		"method": "chat.send",
		"params": map[string]any{"message": "what can I make with eggs?"},
	})

	ack := readWS(t, conn)
	if ack.Type != "res" || ack.ID != "r1" || ack.OK == nil || !*ack.OK {
		t.Fatalf("ack = %+v, want ok response for r1", ack)
	}

	events := readChatEvents(t, conn, "r1")
	if events[0].Event != "conversation" {
		t.Fatalf("first event = %q, want conversation", events[0].Event)
	}
	last := events[len(events)-1]
	if last.Event != "message_complete" {
		t.Fatalf("last event = %q, want message_complete", last.Event)
	}
	var complete struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(last.Data, &complete); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if complete.Content != providers.FakeChatReply {
		t.Fatalf("content = %q", complete.Content)
	}

	// The conversation can be continued on the same socket.
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(events[0].Data, &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	sendWS(t, conn, map[string]any{
		"type":   "req",
		"id":     "r2",
		"method": "chat.send",
		"params": map[string]any{"message": "and for dessert?", "conversationId": conv.ID},
	})
	for _, evt := range readChatEvents(t, conn, "r2") {
		if evt.Event == "conversation" {
			t.Fatal("continuing a conversation must not announce a new one")
		}
	}
}

func TestWebSocket_InvalidFrames(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env, "u1")

	tests := []struct {
		name  string
		frame any
		id    string
		code  string
	}{
		{
			name:  "unknown method",
			frame: map[string]any{"type": "req", "id": "a", "method": "sessions.list"},
			code:  "invalid_frame",
		},
		{
			name:  "missing message",
			frame: map[string]any{"type": "req", "id": "b", "method": "chat.send", "params": map[string]any{}},
			code:  "invalid_frame",
		},
		{
			name:  "wrong frame type",
			frame: map[string]any{"type": "event", "id": "c", "method": "ping"},
			code:  "invalid_frame",
		},
		{
			name:  "unknown conversation",
			frame: map[string]any{"type": "req", "id": "d", "method": "chat.send", "params": map[string]any{"message": "hi", "conversationId": "nope"}},
			id:    "d",
			code:  "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendWS(t, conn, tt.frame)
			res := readWS(t, conn)
			if res.Type != "res" || res.OK == nil || *res.OK {
				t.Fatalf("response = %+v, want failure", res)
			}
			if res.ID != tt.id {
				t.Fatalf("id = %q, want %q", res.ID, tt.id)
			}
			if res.Error == nil || res.Error.Code != tt.code {
				t.Fatalf("error = %+v, want code %q", res.Error, tt.code)
			}
		})
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env, "u1")

	sendWS(t, conn, map[string]any{"type": "req", "id": "p", "method": "ping"})
	res := readWS(t, conn)
	if res.ID != "p" || res.OK == nil || !*res.OK {
		t.Fatalf("ping response = %+v", res)
	}
}

// blockingRunner streams nothing until its run is cancelled.
type blockingRunner struct {
	started chan string
}

func (b *blockingRunner) Run(ctx context.Context, req agent.RunRequest) (<-chan models.Event, error) {
	events := make(chan models.Event, 1)
	go func() {
		defer close(events)
		b.started <- req.Message
		<-ctx.Done()
		events <- models.NewMessageCompleteEvent("m1", "", nil)
	}()
	return events, nil
}

func TestWebSocket_Abort(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1)}
	server, err := New(Config{}, Deps{Runner: runner, Store: sessions.NewMemoryStore()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env := &testEnv{server: server, http: httptest.NewServer(server.Handler())}
	t.Cleanup(env.http.Close)
	conn := dialWS(t, env, "u1")

	sendWS(t, conn, map[string]any{"type": "req", "id": "r1", "method": "chat.send", "params": map[string]any{"message": "slow"}})
	if ack := readWS(t, conn); ack.OK == nil || !*ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	sendWS(t, conn, map[string]any{"type": "req", "id": "a1", "method": "chat.abort", "params": map[string]any{"requestId": "r1"}})

	var sawAbort, sawComplete bool
	for !sawAbort || !sawComplete {
		frame := readWS(t, conn)
		switch {
		case frame.Type == "res" && frame.ID == "a1":
			var payload struct {
				Aborted int `json:"aborted"`
			}
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.Aborted != 1 {
				t.Fatalf("aborted = %d, want 1", payload.Aborted)
			}
			sawAbort = true
		case frame.Type == "event" && frame.Event == "chat":
			var evt wsChatEventFrame
			if err := json.Unmarshal(frame.Payload, &evt); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if evt.RequestID == "r1" && evt.Event == "message_complete" {
				sawComplete = true
			}
		}
	}

	sendWS(t, conn, map[string]any{"type": "req", "id": "a2", "method": "chat.abort"})
	res := readWS(t, conn)
	var payload struct {
		Aborted int `json:"aborted"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Aborted != 0 {
		t.Fatalf("aborted = %d, want 0 once the run has finished", payload.Aborted)
	}
}

func TestWebSocket_RequiresUser(t *testing.T) {
	env := newTestEnv(t, Config{})
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/v1/chat/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a user header")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v, want 401", resp)
	}
}
