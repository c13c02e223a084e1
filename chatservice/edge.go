package chatservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/chatservice/config"
	"github.com/tinywideclouds/go-edge-chat/internal/pipeline"
	"github.com/tinywideclouds/go-edge-chat/internal/realtime"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

const defaultBootstrapTimeout = 5 * time.Second

// Edge wires the coordinator, the inbound subscriber and the WebSocket
// server of one edge process.
type Edge struct {
	edgeID      string
	deps        *Dependencies
	coordinator *realtime.Coordinator
	server      *realtime.Server
	subscriber  *pipeline.InboundSubscriber
	timeout     time.Duration
	logger      zerolog.Logger

	subCtx    context.Context
	subCancel context.CancelFunc
	subDone   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewEdge registers the edge in the directory and claims its sequence
// number. Both must succeed; the edge cannot mint connection ids otherwise.
func NewEdge(ctx context.Context, cfg *config.AppConfig, deps *Dependencies, logger zerolog.Logger) (*Edge, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger = logger.With().Str("edge", cfg.EdgeID).Logger()

	timeout := cfg.Directory.Timeout
	if timeout <= 0 {
		timeout = defaultBootstrapTimeout
	}

	addCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := deps.Directory.AddEdge(addCtx, cfg.EdgeID); err != nil {
		return nil, fmt.Errorf("failed to register edge %s: %w", cfg.EdgeID, err)
	}
	seq, err := deps.Directory.NextEdgeSequence(addCtx)
	if err != nil {
		if rmErr := deps.Directory.RemoveEdge(context.Background(), cfg.EdgeID); rmErr != nil {
			logger.Warn().Err(rmErr).Msg("Failed to withdraw edge registration")
		}
		return nil, fmt.Errorf("failed to claim an edge sequence: %w", err)
	}
	logger.Info().Uint32("sequence", seq).Msg("Edge registered")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	edgeMetrics := realtime.NewMetrics(reg)
	pipelineMetrics := pipeline.NewMetrics(reg)

	coordinator, err := realtime.NewCoordinator(realtime.CoordinatorConfig{
		EdgeID:           cfg.EdgeID,
		EdgeSequence:     seq,
		PresenceTTL:      cfg.Directory.PresenceTTL,
		DirectoryTimeout: cfg.Directory.Timeout,
	}, deps.Directory, deps.Bus, edgeMetrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	server := realtime.NewServer(realtime.ServerConfig{
		Port:           cfg.EdgePort,
		AllowedOrigins: cfg.AllowedOrigins,
		Session: realtime.SessionConfig{
			PingInterval:    cfg.Session.PingInterval,
			LivenessTimeout: cfg.Session.LivenessTimeout,
			WriteTimeout:    cfg.Session.WriteTimeout,
			OutboxSize:      cfg.Session.OutboxSize,
		},
	}, coordinator, edgeMetrics, reg, logger)

	subCtx, subCancel := context.WithCancel(context.Background())
	return &Edge{
		edgeID:      cfg.EdgeID,
		deps:        deps,
		coordinator: coordinator,
		server:      server,
		subscriber:  pipeline.NewInboundSubscriber(cfg.EdgeID, coordinator, pipelineMetrics, logger),
		timeout:     timeout,
		logger:      logger.With().Str("component", "Edge").Logger(),
		subCtx:      subCtx,
		subCancel:   subCancel,
		subDone:     make(chan struct{}),
	}, nil
}

func (e *Edge) Name() string { return "Edge " + e.edgeID }

// Ready is closed once the WebSocket listener is bound.
func (e *Edge) Ready() <-chan struct{} { return e.server.Ready() }

// Addr is the bound listener address.
func (e *Edge) Addr() string { return e.server.Addr() }

// Start runs the edge until Shutdown. It fails if the inbound queue group
// cannot be created, the listener cannot bind or the subscription is lost.
func (e *Edge) Start(ctx context.Context) error {
	// The inbound group must exist before clients can connect, or deliveries
	// routed to them in the meantime have nowhere to wait.
	groupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.deps.Bus.EnsureGroup(groupCtx, chat.InboundTopic(e.edgeID), e.edgeID)
	cancel()
	if err != nil {
		close(e.subDone)
		return fmt.Errorf("failed to create inbound queue group: %w", err)
	}

	e.coordinator.Start()

	subErrChan := make(chan error, 1)
	go func() {
		defer close(e.subDone)
		if err := e.subscriber.Run(e.subCtx, e.deps.Bus); err != nil && e.subCtx.Err() == nil {
			subErrChan <- err
		}
	}()

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- e.server.Start(ctx)
	}()

	select {
	case <-e.server.Ready():
		e.logger.Info().Str("addr", e.server.Addr()).Msg("Edge is ready.")
	case err := <-serverErrChan:
		return fmt.Errorf("edge server failed to start: %w", err)
	case err := <-subErrChan:
		return fmt.Errorf("inbound subscriber failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-serverErrChan:
		return err
	case err := <-subErrChan:
		return fmt.Errorf("inbound subscriber failed: %w", err)
	}
}

// Shutdown stops accepting clients, stops consuming the inbound topic,
// retires every local session and finally withdraws the edge from the
// directory and the bus. Failures are logged and shutdown carries on.
func (e *Edge) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.shutdown(ctx)
	})
	return e.shutdownErr
}

func (e *Edge) shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down edge...")
	var errs []error

	if err := e.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	e.subCancel()
	select {
	case <-e.subDone:
	case <-ctx.Done():
		e.logger.Warn().Msg("Inbound subscriber did not stop in time")
	}

	if err := e.coordinator.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Coordinator shutdown failed.")
		errs = append(errs, err)
	}

	dirCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.deps.Directory.RemoveEdge(dirCtx, e.edgeID); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to remove edge registration")
	}
	if err := e.deps.Bus.DeleteGroup(ctx, chat.InboundTopic(e.edgeID), e.edgeID); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to delete inbound queue group")
	}

	if err := e.server.WaitSessions(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Sessions still running at shutdown deadline")
		errs = append(errs, err)
	}

	e.logger.Info().Msg("Edge shut down.")
	return errors.Join(errs...)
}
