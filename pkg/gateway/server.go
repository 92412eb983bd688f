package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldstone-labs/deskmate/internal/observability"
	"github.com/fieldstone-labs/deskmate/internal/tracing"
	"github.com/fieldstone-labs/deskmate/pkg/commandqueue"
	"github.com/fieldstone-labs/deskmate/pkg/llm"
	"github.com/fieldstone-labs/deskmate/pkg/orchestrator"
	"github.com/fieldstone-labs/deskmate/pkg/session"
)

// Runner is the orchestration surface the gateway needs.
type Runner interface {
	Run(ctx context.Context, turn orchestrator.Turn) (*orchestrator.Result, error)
}

// HealthChecker reports whether the tool connection is alive.
type HealthChecker interface {
	Healthy() bool
}

// Config wires a Server.
type Config struct {
	Host     string
	Port     int
	Runner   Runner
	Sessions *session.Store
	Queue    *commandqueue.Queue
	Registry HealthChecker
	Provider llm.Provider
	Logger   zerolog.Logger
}

// Server is the HTTP front door: chat, session reset, health, metrics, and
// the websocket stream.
type Server struct {
	cfg        Config
	logger     zerolog.Logger
	httpServer *http.Server
	inFlight   sync.WaitGroup
}

// NewServer validates the config and creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "gateway").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/session/reset", s.handleSessionReset)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.trackRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// trackRequests tags each request with a trace id and counts it for
// graceful shutdown.
func (s *Server) trackRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inFlight.Add(1)
		defer s.inFlight.Done()

		ctx := tracing.NewRequestContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("gateway listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway failed: %w", err)
	}
	return nil
}

// Stop shuts the listener down and waits for in-flight requests, bounded
// by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("gateway shutting down")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
