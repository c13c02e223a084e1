package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

const (
	joinErrNotFound    = "Recipient doesn't exist"
	joinErrUnavailable = "Cannot connect to the presence directory"
)

// ErrCoordinatorStopped is returned by Connect once Shutdown has run.
var ErrCoordinatorStopped = errors.New("coordinator stopped")

// CoordinatorConfig holds the per-edge settings of the coordinator.
type CoordinatorConfig struct {
	EdgeID string
	// EdgeSequence is the fleet-unique number drawn at bootstrap; it prefixes every id.
	EdgeSequence uint32
	// PresenceTTL, when positive, leases presence records and re-asserts
	// them every PresenceTTL/2.
	PresenceTTL time.Duration
	// DirectoryTimeout bounds each directory call made by the loop.
	DirectoryTimeout time.Duration
	// PublishTimeout bounds each publish to the outbound topic.
	PublishTimeout   time.Duration
	MailboxSize      int
	PublishQueueSize int
}

// events handled by the loop
type (
	connectEvent struct {
		handle Handle
		reply  chan chat.ConnectionID
	}
	disconnectEvent struct {
		id chat.ConnectionID
	}
	joinEvent struct {
		handle    Handle
		requestID *uint64
		recipient chat.ConnectionID
	}
	sendEvent struct {
		msg chat.OutboundMessage
	}
	deliverEvent struct {
		msg chat.OutboundMessage
	}
	refreshPresenceEvent struct{}
	shutdownEvent        struct {
		ctx  context.Context
		done chan struct{}
	}
)

// Coordinator serialises all registry and presence changes of one edge
// through a single goroutine. Outbound messages leave through one publisher
// goroutine so that messages from one session reach the bus in order.
type Coordinator struct {
	cfg       CoordinatorConfig
	directory chat.Directory
	publisher chat.Publisher
	registry  *Registry
	ids       *IDGenerator
	metrics   *Metrics
	logger    zerolog.Logger

	mailbox  chan any
	outbound chan chat.OutboundMessage

	startOnce    sync.Once
	stopped      chan struct{}
	publisherEnd chan struct{}
	refreshStop  chan struct{}
}

// NewCoordinator is the constructor for the edge coordinator.
func NewCoordinator(cfg CoordinatorConfig, directory chat.Directory, publisher chat.Publisher, metrics *Metrics, logger zerolog.Logger) (*Coordinator, error) {
	if directory == nil || publisher == nil {
		return nil, fmt.Errorf("directory and publisher are required")
	}
	if cfg.EdgeID == "" {
		return nil, fmt.Errorf("edge id cannot be empty")
	}
	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = 2 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1024
	}
	if cfg.PublishQueueSize <= 0 {
		cfg.PublishQueueSize = 1024
	}
	return &Coordinator{
		cfg:          cfg,
		directory:    directory,
		publisher:    publisher,
		registry:     NewRegistry(),
		ids:          NewIDGenerator(cfg.EdgeSequence),
		metrics:      metrics,
		logger:       logger.With().Str("component", "Coordinator").Str("edge", cfg.EdgeID).Logger(),
		mailbox:      make(chan any, cfg.MailboxSize),
		outbound:     make(chan chat.OutboundMessage, cfg.PublishQueueSize),
		stopped:      make(chan struct{}),
		publisherEnd: make(chan struct{}),
		refreshStop:  make(chan struct{}),
	}, nil
}

// Start launches the loop, the publisher and, when a lease is configured,
// the presence refresher. It returns immediately.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		go c.run()
		go c.publish()
		if c.cfg.PresenceTTL > 0 {
			go c.refresh(c.cfg.PresenceTTL / 2)
		}
		c.logger.Info().Msg("Coordinator started")
	})
}

// Connect registers a new session and returns its id. The connect ack has
// already been queued on handle when Connect returns.
func (c *Coordinator) Connect(ctx context.Context, handle Handle) (chat.ConnectionID, error) {
	reply := make(chan chat.ConnectionID, 1)
	if !c.post(ctx, connectEvent{handle: handle, reply: reply}) {
		return 0, ErrCoordinatorStopped
	}
	// Once posted the loop always answers, so the session learns the id it
	// has to retire even if ctx ended meanwhile.
	select {
	case id := <-reply:
		return id, nil
	case <-c.stopped:
		return 0, ErrCoordinatorStopped
	}
}

// Disconnect retires id. Fire and forget.
func (c *Coordinator) Disconnect(id chat.ConnectionID) {
	c.post(context.Background(), disconnectEvent{id: id})
}

// Join checks that recipient is present and answers on handle.
func (c *Coordinator) Join(handle Handle, requestID *uint64, recipient chat.ConnectionID) {
	c.post(context.Background(), joinEvent{handle: handle, requestID: requestID, recipient: recipient})
}

// Send hands a freshly authored message to the outbound topic.
func (c *Coordinator) Send(msg chat.OutboundMessage) {
	c.post(context.Background(), sendEvent{msg: msg})
}

// Deliver hands a message from the inbound topic to its local recipient.
func (c *Coordinator) Deliver(msg chat.OutboundMessage) {
	c.post(context.Background(), deliverEvent{msg: msg})
}

// Shutdown unregisters and evicts every local session, stops the loop and
// waits for queued outbound messages to be published.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Start()
	done := make(chan struct{})
	if c.post(ctx, shutdownEvent{ctx: ctx, done: done}) {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.publisherEnd:
		c.logger.Info().Msg("Coordinator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post returns false if the loop is gone or ctx ended first.
func (c *Coordinator) post(ctx context.Context, ev any) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.mailbox <- ev:
		return true
	case <-c.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) run() {
	defer func() {
		close(c.outbound)
	}()
	for ev := range c.mailbox {
		switch e := ev.(type) {
		case connectEvent:
			c.handleConnect(e)
		case disconnectEvent:
			c.handleDisconnect(e)
		case joinEvent:
			c.handleJoin(e)
		case sendEvent:
			c.outbound <- e.msg
		case deliverEvent:
			c.handleDeliver(e)
		case refreshPresenceEvent:
			c.handleRefresh()
		case shutdownEvent:
			c.handleShutdown(e)
			return
		}
	}
}

func (c *Coordinator) handleConnect(e connectEvent) {
	id := c.ids.Next()
	log := c.logger.With().Str("connection", id.String()).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DirectoryTimeout)
	defer cancel()
	if err := c.directory.Register(ctx, id, c.cfg.EdgeID); err != nil {
		log.Error().Err(err).Msg("Failed to register presence, connection stays local only")
	}

	c.registry.Add(id, e.handle)
	c.metrics.RecordConnect()
	c.metrics.SetActiveSessions(c.registry.Len())
	e.handle.Deliver(chat.NewConnectAck(id))
	e.reply <- id
	log.Info().Msg("Connection registered")
}

func (c *Coordinator) handleDisconnect(e disconnectEvent) {
	log := c.logger.With().Str("connection", e.id.String()).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DirectoryTimeout)
	defer cancel()
	if err := c.directory.Unregister(ctx, e.id); err != nil {
		log.Error().Err(err).Msg("Failed to unregister presence")
	}

	if h, ok := c.registry.Lookup(e.id); ok {
		c.registry.Remove(e.id)
		h.Evict()
	}
	c.metrics.SetActiveSessions(c.registry.Len())
	log.Info().Msg("Connection retired")
}

func (c *Coordinator) handleJoin(e joinEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DirectoryTimeout)
	defer cancel()

	exists, err := c.directory.Exists(ctx, e.recipient)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Str("recipient", e.recipient.String()).Msg("Join failed, directory unreachable")
		c.metrics.RecordJoin("unavailable")
		e.handle.Deliver(chat.NewJoinError(e.requestID, joinErrUnavailable))
	case !exists:
		c.metrics.RecordJoin("not_found")
		e.handle.Deliver(chat.NewJoinError(e.requestID, joinErrNotFound))
	default:
		c.metrics.RecordJoin("ok")
		e.handle.Deliver(chat.NewJoinAck(e.requestID, e.recipient))
	}
}

func (c *Coordinator) handleDeliver(e deliverEvent) {
	h, ok := c.registry.Lookup(e.msg.Recipient)
	if !ok {
		c.metrics.RecordDeliveryDropped()
		c.logger.Debug().Str("recipient", e.msg.Recipient.String()).Msg("Recipient not on this edge, dropping")
		return
	}
	if h.Deliver(chat.NewChatDelivery(e.msg)) {
		c.metrics.RecordDelivered()
	}
}

func (c *Coordinator) handleRefresh() {
	for _, id := range c.registry.IDs() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DirectoryTimeout)
		err := c.directory.Register(ctx, id, c.cfg.EdgeID)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("connection", id.String()).Msg("Failed to refresh presence lease")
		}
	}
}

func (c *Coordinator) handleShutdown(e shutdownEvent) {
	defer close(e.done)
	close(c.refreshStop)
	close(c.stopped)

	ids := c.registry.IDs()
	c.logger.Info().Int("sessions", len(ids)).Msg("Shutting down, retiring local sessions")
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(e.ctx, c.cfg.DirectoryTimeout)
		if err := c.directory.Unregister(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("connection", id.String()).Msg("Failed to unregister presence on shutdown")
		}
		cancel()
		if h, ok := c.registry.Lookup(id); ok {
			h.Evict()
		}
		c.registry.Remove(id)
	}
	c.metrics.SetActiveSessions(0)

	// Sends already queued behind the shutdown still go out.
	for {
		select {
		case ev := <-c.mailbox:
			if s, ok := ev.(sendEvent); ok {
				c.outbound <- s.msg
			}
		default:
			return
		}
	}
}

func (c *Coordinator) publish() {
	defer close(c.publisherEnd)
	for msg := range c.outbound {
		payload, err := json.Marshal(msg)
		if err != nil {
			c.metrics.RecordPublishFailure()
			c.logger.Error().Err(err).Msg("Failed to encode outbound message")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		err = c.publisher.Publish(ctx, chat.OutboundTopic, payload)
		cancel()
		if err != nil {
			c.metrics.RecordPublishFailure()
			c.logger.Error().Err(err).
				Str("sender", msg.Sender.String()).
				Str("recipient", msg.Recipient.String()).
				Msg("Failed to publish outbound message")
			continue
		}
		c.metrics.RecordSent()
	}
}

func (c *Coordinator) refresh(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.post(context.Background(), refreshPresenceEvent{})
		case <-c.refreshStop:
			return
		}
	}
}
