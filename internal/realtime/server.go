// Package realtime hosts the client-facing half of an edge: the WebSocket
// endpoint, the per-connection sessions and the coordinator that owns the
// connection registry.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig configures the edge HTTP server.
type ServerConfig struct {
	Port string
	// AllowedOrigins for the upgrade; empty or "*" accepts any origin.
	AllowedOrigins []string
	Session        SessionConfig
}

// Server runs the edge's HTTP endpoints: `/ws/` upgrades to a chat session,
// `/` answers health checks and `/metrics` exposes Prometheus metrics.
type Server struct {
	server   *http.Server
	upgrader websocket.Upgrader
	events   Events
	cfg      ServerConfig
	metrics  *Metrics
	logger   zerolog.Logger

	baseCtx  context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewServer wires the endpoints. gatherer may be nil to serve the default registry.
func NewServer(cfg ServerConfig, events Events, metrics *Metrics, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		events:  events,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "EdgeServer").Logger(),
		baseCtx: baseCtx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.connectHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/{$}", healthHandler)
	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}
	return s
}

// Handler exposes the mux, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, empty before Ready.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves until Shutdown.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("edge server failed to listen on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Edge server starting...")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("edge server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections. Hijacked sockets are not tracked by
// http.Server; they end when the coordinator evicts them, and Shutdown waits
// for their goroutines until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down edge server...")
	err := s.server.Shutdown(ctx)
	s.cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("Edge server shutdown failed.")
	}
	return err
}

// WaitSessions blocks until every session goroutine returned or ctx ends.
func (s *Server) WaitSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	NewSession(conn, s.events, s.cfg.Session, s.metrics, s.logger).Run(s.baseCtx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Not a browser.
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
