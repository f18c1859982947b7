package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/sous/internal/observability"
)

func TestRequireUser(t *testing.T) {
	s := &Server{}
	var seen string
	handler := s.requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = userFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"present", "u1", http.StatusOK, "u1"},
		{"trimmed", "  u2 ", http.StatusOK, "u2"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"blank", "   ", http.StatusUnauthorized, ""},
		{"too long", strings.Repeat("x", maxUserIDLength+1), http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(UserHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if seen != tt.user {
				t.Fatalf("user = %q, want %q", seen, tt.user)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusInternalServerError)
	if sr.status != http.StatusTeapot {
		t.Fatalf("status = %d, want first written status", sr.status)
	}

	sr.Flush()
	if !rec.Flushed {
		t.Fatal("Flush was not passed through")
	}

	if _, _, err := sr.Hijack(); err == nil {
		t.Fatal("Hijack should fail on a recorder that cannot hijack")
	}
}

func TestInstrumentRequestID(t *testing.T) {
	s := &Server{}
	var seen string
	handler := s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id = %q, header = %q, want req-123", seen, rec.Header().Get(RequestIDHeader))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	generated := rec.Header().Get(RequestIDHeader)
	if generated == "" || generated != seen {
		t.Fatalf("generated id = %q, context id = %q", generated, seen)
	}
}
