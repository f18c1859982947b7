package gateway

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"github.com/haasonsaas/sous/internal/observability"
)

// UserHeader carries the caller's identity. Authentication happens upstream;
// the proxy in front of the gateway sets this header.
const UserHeader = "X-User-ID"

// RequestIDHeader is echoed on every response. A missing or oversized
// incoming value is replaced with a generated one.
const RequestIDHeader = "X-Request-ID"

const maxUserIDLength = 128

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// userFromContext returns the user ID set by requireUser.
func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+UserHeader+" header")
			return
		}
		if len(userID) > maxUserIDLength {
			writeError(w, http.StatusBadRequest, "invalid_user", "user ID is too long")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := userFromContext(r.Context())
		if !s.limiter.Allow(userID) {
			retry := s.limiter.RetryAfter(userID)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			s.metrics.RecordError("gateway", "rate_limited")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request metrics and a server span for every request.
// Routes are labeled by their mux pattern so path parameters do not explode
// metric cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	propagator := propagation.TraceContext{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.TraceHTTPRequest(ctx, r.Method, r.URL.Path)
		defer span.End()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > maxUserIDLength {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx = observability.AddRequestID(ctx, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		s.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start).Seconds())
		s.tracer.SetAttributes(span, "http.route", route, "http.status_code", rec.status)

		if rec.status >= http.StatusInternalServerError {
			observability.LoggerWithContext(ctx, s.logger).Warn("request failed",
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration", time.Since(start),
			)
		}
	})
}

// statusRecorder captures the response status. It passes Flush and Hijack
// through so SSE and WebSocket handlers work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
