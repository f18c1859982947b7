package gateway

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/internal/usage"
	"github.com/haasonsaas/sous/pkg/models"
)

const maxListLimit = 200

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 200")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "offset must be non-negative")
		return
	}

	userID := userFromContext(r.Context())
	convs, err := s.store.ListConversations(r.Context(), userID, sessions.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.storeFailure(w, "list conversations", err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := userFromContext(r.Context())

	conv, err := s.store.GetConversation(r.Context(), id, userID)
	if err != nil {
		s.storeFailure(w, "get conversation", err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.storeFailure(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := userFromContext(r.Context())

	if err := s.store.DeleteConversation(r.Context(), id, userID); err != nil {
		s.storeFailure(w, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageResponse struct {
	usage.Snapshot
	CostUSD string `json:"costUsd"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusNotFound, "not_found", "usage accounting is disabled")
		return
	}
	month := r.URL.Query().Get("month")
	if month == "" {
		month = usage.MonthKey(s.now())
	}
	if !monthPattern.MatchString(month) {
		writeError(w, http.StatusBadRequest, "invalid_request", "month must be YYYY-MM")
		return
	}

	snap, err := s.recorder.Snapshot(r.Context(), userFromContext(r.Context()), month)
	if err != nil {
		s.storeFailure(w, "usage snapshot", err)
		return
	}
	cost := float64(snap.Get(usage.CounterCostMicroUSD)) / 1e6
	writeJSON(w, http.StatusOK, usageResponse{Snapshot: snap, CostUSD: usage.FormatUSD(cost)})
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	s.logger.Error(op+" failed", "error", err)
	s.metrics.RecordError("store", "query")
	writeError(w, http.StatusInternalServerError, "internal", op+" failed")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
