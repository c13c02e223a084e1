package chatservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/chatservice/config"
	"github.com/tinywideclouds/go-edge-chat/internal/pipeline"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// Router runs a routing worker plus a small HTTP server for health checks
// and metrics.
type Router struct {
	deps    *Dependencies
	worker  *pipeline.RoutingWorker
	server  *http.Server
	timeout time.Duration
	logger  zerolog.Logger

	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerDone   chan struct{}

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

func NewRouter(cfg *config.AppConfig, deps *Dependencies, logger zerolog.Logger) (*Router, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	timeout := cfg.Directory.Timeout
	if timeout <= 0 {
		timeout = defaultBootstrapTimeout
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	return &Router{
		deps:         deps,
		worker:       pipeline.NewRoutingWorker(deps.Directory, deps.Bus, metrics, logger),
		server:       &http.Server{Addr: ":" + cfg.RouterPort, Handler: mux},
		timeout:      timeout,
		logger:       logger.With().Str("component", "Router").Logger(),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
		workerDone:   make(chan struct{}),
		ready:        make(chan struct{}),
	}, nil
}

func (r *Router) Name() string { return "Router" }

// Handler exposes the health and metrics mux.
func (r *Router) Handler() http.Handler { return r.server.Handler }

// Ready is closed once the HTTP listener is bound.
func (r *Router) Ready() <-chan struct{} { return r.ready }

// Addr is the bound listener address, empty before Ready.
func (r *Router) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Start consumes the outbound topic and serves HTTP until Shutdown. The
// outbound queue group exists before Ready is closed.
func (r *Router) Start(ctx context.Context) error {
	groupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := r.deps.Bus.EnsureGroup(groupCtx, chat.OutboundTopic, chat.RoutingWorkerGroup)
	cancel()
	if err != nil {
		close(r.workerDone)
		return fmt.Errorf("failed to create outbound queue group: %w", err)
	}

	workerErrChan := make(chan error, 1)
	go func() {
		defer close(r.workerDone)
		if err := r.worker.Run(r.workerCtx, r.deps.Bus); err != nil && r.workerCtx.Err() == nil {
			workerErrChan <- err
		}
	}()

	ln, err := net.Listen("tcp", r.server.Addr)
	if err != nil {
		r.workerCancel()
		<-r.workerDone
		return fmt.Errorf("router server failed to listen on %s: %w", r.server.Addr, err)
	}
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()
	close(r.ready)

	serverErrChan := make(chan error, 1)
	go func() {
		r.logger.Info().Str("addr", ln.Addr().String()).Msg("Router HTTP server starting...")
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	select {
	case err := <-serverErrChan:
		return err
	case err := <-workerErrChan:
		return fmt.Errorf("routing worker failed: %w", err)
	}
}

// Shutdown stops the HTTP server and the worker. In-flight messages that
// were not acked are redelivered to another worker.
func (r *Router) Shutdown(ctx context.Context) error {
	r.logger.Info().Msg("Shutting down router...")
	err := r.server.Shutdown(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Router HTTP server shutdown failed.")
	}

	r.workerCancel()
	select {
	case <-r.workerDone:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	r.logger.Info().Msg("Router shut down.")
	return err
}
