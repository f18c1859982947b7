package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/pkg/models"
)

const maxChatBodyBytes = 1 << 20

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// requestError is a client-facing failure with its HTTP status.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func (s *Server) validateChat(req chatRequest) *requestError {
	if strings.TrimSpace(req.Message) == "" {
		return &requestError{http.StatusBadRequest, "invalid_request", "message is required"}
	}
	if n := utf8.RuneCountInString(req.Message); n > s.config.MaxMessageChars {
		return &requestError{
			http.StatusRequestEntityTooLarge,
			"message_too_long",
			fmt.Sprintf("message has %d characters, limit is %d", n, s.config.MaxMessageChars),
		}
	}
	return nil
}

// startRun validates req and starts a run bound to ctx.
func (s *Server) startRun(ctx context.Context, userID string, req chatRequest) (<-chan models.Event, *requestError) {
	if reqErr := s.validateChat(req); reqErr != nil {
		return nil, reqErr
	}
	events, err := s.runner.Run(ctx, agent.RunRequest{
		UserID:         userID,
		Message:        req.Message,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrNotFound):
			return nil, &requestError{http.StatusNotFound, "not_found", "conversation not found"}
		case errors.Is(err, agent.ErrEmptyMessage), errors.Is(err, agent.ErrMissingUser):
			return nil, &requestError{http.StatusBadRequest, "invalid_request", err.Error()}
		default:
			s.logger.Error("failed to start run", "user_id", userID, "error", err)
			return nil, &requestError{http.StatusInternalServerError, "internal", "failed to start run"}
		}
	}
	return events, nil
}

// handleChat streams one run as server-sent events. Each frame's event name is
// the event type and its data is the {"event","data"} envelope. Closing the
// connection cancels the run.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body is empty")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}

	userID := userFromContext(r.Context())
	events, reqErr := s.startRun(r.Context(), userID, req)
	if reqErr != nil {
		writeError(w, reqErr.status, reqErr.code, reqErr.message)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeFailed := false
	for event := range events {
		if writeFailed {
			// Drain so the run can finish; the request context is already done.
			continue
		}
		if err := writeSSE(w, event); err != nil {
			s.logger.Debug("sse write failed", "user_id", userID, "error", err)
			writeFailed = true
			continue
		}
		flusher.Flush()
	}
}

func writeSSE(w io.Writer, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Sequence, event.Type, data)
	return err
}
