// Package gateway exposes the orchestrator over HTTP: an SSE chat endpoint, a
// WebSocket chat transport and a small REST surface for conversation history
// and usage.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/observability"
	"github.com/haasonsaas/sous/internal/ratelimit"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/internal/usage"
	"github.com/haasonsaas/sous/pkg/models"
)

// Runner starts orchestrator runs. *agent.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (<-chan models.Event, error)
}

// Config configures the HTTP listeners.
type Config struct {
	Host string

	// HTTPPort serves the API. 0 disables the listener.
	HTTPPort int

	// MetricsPort serves /metrics separately. 0 mounts /metrics on the API mux.
	MetricsPort int

	// MaxMessageChars rejects longer user messages.
	// Default: 8000
	MaxMessageChars int

	RateLimit ratelimit.Config

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15 seconds
	ShutdownTimeout time.Duration
}

const defaultMaxMessageChars = 8000

// Deps are the collaborators a Server needs. Recorder, Metrics, Tracer and
// Gatherer are optional.
type Deps struct {
	Runner   Runner
	Store    sessions.Store
	Recorder usage.Recorder
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Logger   *slog.Logger

	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP gateway.
type Server struct {
	config   Config
	runner   Runner
	store    sessions.Store
	recorder usage.Recorder
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	httpServer    *http.Server
	metricsServer *http.Server
}

// New creates a gateway server.
func New(config Config, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("gateway: runner is required")
	}
	if deps.Store == nil {
		return nil, errors.New("gateway: conversation store is required")
	}
	if config.MaxMessageChars <= 0 {
		config.MaxMessageChars = defaultMaxMessageChars
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:   config,
		runner:   deps.Runner,
		store:    deps.Store,
		recorder: deps.Recorder,
		limiter:  ratelimit.NewLimiter(config.RateLimit),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		gatherer: gatherer,
		logger:   logger.With("component", "gateway"),
		now:      time.Now,
	}, nil
}

// Handler returns the API handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.config.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	mux.Handle("POST /v1/chat", s.requireUser(s.rateLimited(http.HandlerFunc(s.handleChat))))
	mux.Handle("GET /v1/chat/ws", s.requireUser(http.HandlerFunc(s.handleWebSocket)))

	mux.Handle("GET /v1/conversations", s.requireUser(http.HandlerFunc(s.handleListConversations)))
	mux.Handle("GET /v1/conversations/{id}/messages", s.requireUser(http.HandlerFunc(s.handleListMessages)))
	mux.Handle("DELETE /v1/conversations/{id}", s.requireUser(http.HandlerFunc(s.handleDeleteConversation)))
	mux.Handle("GET /v1/usage", s.requireUser(http.HandlerFunc(s.handleUsage)))

	return s.instrument(mux)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Start binds the listeners and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.HTTPPort == 0 {
		return nil
	}
	if s.httpServer != nil {
		return errors.New("gateway already started")
	}

	server, err := s.listen(s.config.HTTPPort, s.Handler())
	if err != nil {
		return err
	}
	s.httpServer = server

	if s.config.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metricsHandler())
		metricsServer, err := s.listen(s.config.MetricsPort, mux)
		if err != nil {
			s.shutdownServer(ctx, s.httpServer)
			s.httpServer = nil
			return err
		}
		s.metricsServer = metricsServer
	}
	return nil
}

func (s *Server) listen(port int, handler http.Handler) (*http.Server, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Host, port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "addr", addr, "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", addr)
	return server, nil
}

// Shutdown stops the listeners, waiting up to ShutdownTimeout for open
// requests (including streaming chats) to finish.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.shutdownServer(ctx, s.httpServer)
	s.shutdownServer(ctx, s.metricsServer)
	s.httpServer = nil
	s.metricsServer = nil
}

func (s *Server) shutdownServer(ctx context.Context, server *http.Server) {
	if server == nil {
		return
	}
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "addr", server.Addr, "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}
