package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/agent/providers"
	"github.com/haasonsaas/sous/internal/kitchen"
	"github.com/haasonsaas/sous/internal/observability"
	"github.com/haasonsaas/sous/internal/ratelimit"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/internal/tools"
	"github.com/haasonsaas/sous/internal/usage"
	"github.com/haasonsaas/sous/pkg/models"
)

var testNow = time.Date(2026, 2, 14, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	server   *Server
	http     *httptest.Server
	client   *providers.FakeClient
	orch     *agent.Orchestrator
	store    *sessions.MemoryStore
	recorder *usage.MemoryRecorder
	metrics  *observability.Metrics
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	client := providers.NewFakeClient()
	store := sessions.NewMemoryStore()
	now := func() time.Time { return testNow }
	recorder := usage.NewMemoryRecorder(usage.WithNow(now))
	executor := tools.NewExecutor(tools.NewKitchenRegistry(kitchen.NewMemoryStore(), now), tools.ExecutorConfig{})
	orch := agent.NewOrchestrator(client, executor, store, recorder, agent.OrchestratorConfig{Metrics: metrics})

	server, err := New(config, Deps{
		Runner:   orch,
		Store:    store,
		Recorder: recorder,
		Metrics:  metrics,
		Gatherer: registry,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	server.now = now

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		httpServer.Close()
		orch.Wait()
	})

	return &testEnv{
		server:   server,
		http:     httpServer,
		client:   client,
		orch:     orch,
		store:    store,
		recorder: recorder,
		metrics:  metrics,
		registry: registry,
	}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type sseFrame struct {
	Event string
	Data  json.RawMessage
}

func readSSE(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Event != "" {
				frames = append(frames, current)
			}
			current = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read sse: %v", err)
	}
	return frames
}

func decodeError(t *testing.T, resp *http.Response) apiError {
	t.Helper()
	var body map[string]apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestChat_StreamsEvents(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "what should I cook tonight?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	frames := readSSE(t, resp.Body)
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want at least 3", len(frames))
	}
	if frames[0].Event != string(models.EventConversation) {
		t.Fatalf("first event = %q, want conversation", frames[0].Event)
	}
	last := frames[len(frames)-1]
	if last.Event != string(models.EventMessageComplete) {
		t.Fatalf("last event = %q, want message_complete", last.Event)
	}

	var envelope struct {
		Event string                        `json:"event"`
		Data  models.MessageCompletePayload `json:"data"`
	}
	if err := json.Unmarshal(last.Data, &envelope); err != nil {
		t.Fatalf("decode message_complete: %v", err)
	}
	if envelope.Data.Content != providers.FakeChatReply {
		t.Fatalf("content = %q, want fake reply", envelope.Data.Content)
	}

	var text strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		if f.Event != string(models.EventTextDelta) {
			t.Fatalf("unexpected event %q between conversation and completion", f.Event)
		}
		var delta struct {
			Data models.TextDeltaPayload `json:"data"`
		}
		if err := json.Unmarshal(f.Data, &delta); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		text.WriteString(delta.Data.Delta)
	}
	if text.String() != providers.FakeChatReply {
		t.Fatalf("deltas = %q, want fake reply", text.String())
	}

	env.orch.Wait()
	convs, err := env.store.ListConversations(context.Background(), "u1", sessions.ListOptions{})
	if err != nil || len(convs) != 1 {
		t.Fatalf("ListConversations = %v, %v", convs, err)
	}
	if !convs[0].HasTitle() || *convs[0].Title != providers.FakeTitle {
		t.Fatalf("title = %v, want %q", convs[0].Title, providers.FakeTitle)
	}
}

func TestChat_ToolRoundOverSSE(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.client.Script(agent.PurposeChat,
		providers.FakeTurn{ToolUses: []agent.ContentBlock{
			{Type: agent.BlockToolUse, ID: "toolu_1", Name: "get_expiring_items", Input: json.RawMessage(`{"days":3}`)},
		}},
		providers.FakeTurn{Text: "Nothing is about to expire."},
	)

	resp := env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "what's expiring soon?"})
	frames := readSSE(t, resp.Body)

	var got []string
	for _, f := range frames {
		if f.Event != string(models.EventTextDelta) {
			got = append(got, f.Event)
		}
	}
	want := []string{"conversation", "tool_use_start", "tool_use_result", "message_complete"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestChat_RequestErrors(t *testing.T) {
	env := newTestEnv(t, Config{MaxMessageChars: 10})

	tests := []struct {
		name   string
		userID string
		body   any
		status int
		code   string
	}{
		{"missing user", "", chatRequest{Message: "hi"}, http.StatusUnauthorized, "unauthenticated"},
		{"empty message", "u1", chatRequest{Message: "   "}, http.StatusBadRequest, "invalid_request"},
		{"too long", "u1", chatRequest{Message: "ñññññññññññ"}, http.StatusRequestEntityTooLarge, "message_too_long"},
		{"unknown conversation", "u1", chatRequest{Message: "hi", ConversationID: "missing"}, http.StatusNotFound, "not_found"},
		{"malformed body", "u1", "not an object", http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/chat", tt.userID, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := decodeError(t, resp); got.Code != tt.code {
				t.Fatalf("code = %q, want %q", got.Code, tt.code)
			}
		})
	}

	if n := len(env.client.Requests()); n != 0 {
		t.Fatalf("model called %d times for rejected requests", n)
	}
}

func TestChat_MessageLimitCountsCharacters(t *testing.T) {
	env := newTestEnv(t, Config{MaxMessageChars: 5})

	resp := env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "ñññññ"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a message at the limit", resp.StatusCode)
	}
	readSSE(t, resp.Body)
}

func TestChat_ForeignConversationIsNotFound(t *testing.T) {
	env := newTestEnv(t, Config{})

	conv := &models.Conversation{UserID: "owner"}
	if err := env.store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/v1/chat", "intruder", chatRequest{Message: "hi", ConversationID: conv.ID})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChat_RateLimited(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}})

	first := env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "hi"})
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.StatusCode)
	}
	readSSE(t, first.Body)

	second := env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "hi again"})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	other := env.do(t, http.MethodPost, "/v1/chat", "u2", chatRequest{Message: "hi"})
	if other.StatusCode != http.StatusOK {
		t.Fatalf("other user status = %d, want 200", other.StatusCode)
	}
	readSSE(t, other.Body)

	if got := testutil.ToFloat64(env.metrics.ErrorCounter.WithLabelValues("gateway", "rate_limited")); got != 1 {
		t.Fatalf("rate_limited errors = %v, want 1", got)
	}
}

func TestConversationsAPI(t *testing.T) {
	env := newTestEnv(t, Config{})

	readSSE(t, env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "plan my week"}).Body)
	env.orch.Wait()

	resp := env.do(t, http.MethodGet, "/v1/conversations", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Conversations) != 1 {
		t.Fatalf("got %d conversations, want 1", len(list.Conversations))
	}
	id := list.Conversations[0].ID

	resp = env.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "u1", nil)
	var history struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(history.Messages))
	}
	if history.Messages[0].Role != models.RoleUser || history.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("roles = %s, %s", history.Messages[0].Role, history.Messages[1].Role)
	}

	if resp := env.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "u2", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign messages status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodDelete, "/v1/conversations/"+id, "u2", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", resp.StatusCode)
	}

	if resp := env.do(t, http.MethodDelete, "/v1/conversations/"+id, "u1", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "u1", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("messages after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestConversationsAPI_InvalidPaging(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, query := range []string{"?limit=0", "?limit=abc", "?limit=500", "?offset=-1"} {
		resp := env.do(t, http.MethodGet, "/v1/conversations"+query, "u1", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestUsageAPI(t *testing.T) {
	env := newTestEnv(t, Config{})

	if err := env.recorder.Increment(context.Background(), "u1", usage.CounterCostMicroUSD, 1_500_000); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := env.recorder.Increment(context.Background(), "u1", usage.CounterMessages, 4); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/v1/usage", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Month   string           `json:"month"`
		Values  map[string]int64 `json:"values"`
		CostUSD string           `json:"costUsd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Month != "2026-02" {
		t.Fatalf("month = %q, want 2026-02", body.Month)
	}
	if body.Values["messages"] != 4 {
		t.Fatalf("messages = %d, want 4", body.Values["messages"])
	}
	if body.CostUSD != "$1.50" {
		t.Fatalf("cost = %q, want $1.50", body.CostUSD)
	}

	if resp := env.do(t, http.MethodGet, "/v1/usage?month=2026-13", "u1", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad month status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	readSSE(t, env.do(t, http.MethodPost, "/v1/chat", "u1", chatRequest{Message: "hi"}).Body)

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "sous_http_requests_total") {
		t.Fatal("metrics output is missing sous_http_requests_total")
	}

	got := testutil.ToFloat64(env.metrics.HTTPRequestCounter.WithLabelValues("POST", "POST /v1/chat", "200"))
	if got != 1 {
		t.Fatalf("chat request counter = %v, want 1", got)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, Deps{Store: sessions.NewMemoryStore()}); err == nil {
		t.Fatal("expected error without a runner")
	}
	if _, err := New(Config{}, Deps{Runner: agent.NewOrchestrator(nil, nil, nil, nil, agent.OrchestratorConfig{})}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.server.config.Host = "127.0.0.1"
	env.server.config.HTTPPort = 0
	if err := env.server.Start(context.Background()); err != nil {
		t.Fatalf("Start with port 0 should be a no-op, got %v", err)
	}
	env.server.Shutdown(context.Background())
}
