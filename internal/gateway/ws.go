package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/sous/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPingInterval    = 30 * time.Second
	wsPongWait        = 60 * time.Second
	wsWriteWait       = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsFrame is the envelope for every WebSocket message.
//
//	client: {"type":"req","id":"1","method":"chat.send","params":{...}}
//	server: {"type":"res","id":"1","ok":true,"payload":{...}}
//	server: {"type":"event","event":"chat","seq":3,"payload":{...}}
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsChatSendParams struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type wsChatAbortParams struct {
	RequestID string `json:"requestId,omitempty"`
}

// wsChatEvent wraps one run event with the chat.send request it belongs to.
type wsChatEvent struct {
	RequestID string           `json:"requestId"`
	Event     models.EventType `json:"event"`
	Data      any              `json:"data"`
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	userID string
	logger *slog.Logger

	seq int64

	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
	runsWG sync.WaitGroup
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	userID := userFromContext(r.Context())
	// The session context ends when the socket closes.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	session := &wsSession{
		server: s,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
		userID: userID,
		logger: s.logger.With("user_id", userID, "transport", "ws"),
		runs:   make(map[string]context.CancelFunc),
	}
	session.run()
}

func (s *wsSession) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop()

	s.cancel()
	s.runsWG.Wait()
	<-writerDone
	_ = s.conn.Close()
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeFrame(data)
		if err != nil {
			s.sendError("", "invalid_frame", err.Error())
			continue
		}
		if err := s.handleRequest(frame); err != nil {
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				s.sendError(frame.ID, reqErr.code, reqErr.message)
				continue
			}
			s.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if err := validateWSRequestFrame(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (s *wsSession) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return s.sendResponse(frame.ID, map[string]any{"timestamp": time.Now().UnixMilli()})
	case "chat.send":
		return s.handleChatSend(frame)
	case "chat.abort":
		return s.handleChatAbort(frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

func (s *wsSession) handleChatSend(frame *wsFrame) error {
	var params wsChatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if !s.server.limiter.Allow(s.userID) {
		s.server.metrics.RecordError("gateway", "rate_limited")
		return &requestError{http.StatusTooManyRequests, "rate_limited", "too many requests"}
	}

	s.runsMu.Lock()
	if _, exists := s.runs[frame.ID]; exists {
		s.runsMu.Unlock()
		return &requestError{http.StatusConflict, "duplicate_request", "a run with this id is already active"}
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	s.runs[frame.ID] = cancel
	s.runsMu.Unlock()

	events, reqErr := s.server.startRun(runCtx, s.userID, chatRequest{
		Message:        params.Message,
		ConversationID: params.ConversationID,
	})
	if reqErr != nil {
		s.finishRun(frame.ID)
		return reqErr
	}

	if err := s.sendResponse(frame.ID, map[string]any{"status": "accepted"}); err != nil {
		s.finishRun(frame.ID)
		for range events {
		}
		return err
	}

	s.runsWG.Add(1)
	go func() {
		defer s.runsWG.Done()
		defer s.finishRun(frame.ID)
		for event := range events {
			// Keep draining after a failed send so the run can finalize.
			_ = s.sendEvent("chat", wsChatEvent{ //nolint:errcheck
				RequestID: frame.ID,
				Event:     event.Type,
				Data:      event.Data(),
			})
		}
	}()
	return nil
}

func (s *wsSession) handleChatAbort(frame *wsFrame) error {
	var params wsChatAbortParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}

	s.runsMu.Lock()
	aborted := 0
	for id, cancel := range s.runs {
		if params.RequestID == "" || params.RequestID == id {
			cancel()
			delete(s.runs, id)
			aborted++
		}
	}
	s.runsMu.Unlock()

	return s.sendResponse(frame.ID, map[string]any{"aborted": aborted})
}

func (s *wsSession) finishRun(id string) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if cancel, ok := s.runs[id]; ok {
		cancel()
		delete(s.runs, id)
	}
}

func (s *wsSession) sendResponse(id string, payload any) error {
	ok := true
	return s.enqueue(wsFrame{Type: "res", ID: id, OK: &ok, Payload: payload})
}

func (s *wsSession) sendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&s.seq, 1)
	return s.enqueue(wsFrame{Type: "event", Event: event, Payload: payload, Seq: &seq})
}

func (s *wsSession) sendError(id, code, message string) {
	ok := false
	_ = s.enqueue(wsFrame{Type: "res", ID: id, OK: &ok, Error: &apiError{Code: code, Message: message}}) //nolint:errcheck
}

// enqueue hands a frame to the writer, waiting while the buffer is full so
// run events are never dropped out of order.
func (s *wsSession) enqueue(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
