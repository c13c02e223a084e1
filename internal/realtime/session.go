package realtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// SessionState is the lifecycle stage of a session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig tunes the liveness and buffering of every session.
type SessionConfig struct {
	// PingInterval between server pings.
	PingInterval time.Duration
	// LivenessTimeout closes a session that sent no ping or pong for this long.
	LivenessTimeout time.Duration
	WriteTimeout    time.Duration
	OutboxSize      int
	MaxMessageSize  int64
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

// Events is the part of the coordinator a session talks to.
type Events interface {
	Connect(ctx context.Context, handle Handle) (chat.ConnectionID, error)
	Disconnect(id chat.ConnectionID)
	Join(handle Handle, requestID *uint64, recipient chat.ConnectionID)
	Send(msg chat.OutboundMessage)
}

// Session serves one client socket: a reader on the calling goroutine and a
// writer draining the bounded outbox.
type Session struct {
	conn    *websocket.Conn
	events  Events
	cfg     SessionConfig
	metrics *Metrics
	logger  zerolog.Logger

	id      atomic.Uint64
	state   atomic.Int32
	outbox  chan chat.Response
	closing chan struct{}

	closeOnce  sync.Once
	notifyOnce sync.Once
}

// NewSession wraps an upgraded connection. Nothing runs until Run.
func NewSession(conn *websocket.Conn, events Events, cfg SessionConfig, metrics *Metrics, logger zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		conn:    conn,
		events:  events,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "Session").Str("remote", conn.RemoteAddr().String()).Logger(),
		outbox:  make(chan chat.Response, cfg.OutboxSize),
		closing: make(chan struct{}),
	}
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ID is zero until the session is active.
func (s *Session) ID() chat.ConnectionID {
	return chat.ConnectionID(s.id.Load())
}

// Deliver queues resp for the writer. A closing session or a full outbox drops it.
func (s *Session) Deliver(resp chat.Response) bool {
	if s.State() >= StateClosing {
		return false
	}
	select {
	case s.outbox <- resp:
		return true
	default:
		s.metrics.RecordOutboxDropped()
		s.logger.Warn().Str("connection", s.ID().String()).Msg("Outbox full, dropping response")
		return false
	}
}

// Evict closes the session from the server side.
func (s *Session) Evict() {
	s.beginClose()
}

// Run drives the session until the socket closes. It blocks.
func (s *Session) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	id, err := s.events.Connect(ctx, s)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Connect rejected, closing session")
		s.beginClose()
		<-writerDone
		s.finish()
		return
	}
	s.id.Store(uint64(id))
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))

	s.readPump(s.logger.With().Str("connection", id.String()).Logger())

	s.beginClose()
	<-writerDone
	s.notifyOnce.Do(func() {
		s.events.Disconnect(id)
	})
	s.finish()
}

func (s *Session) beginClose() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closing)
	})
}

func (s *Session) finish() {
	_ = s.conn.Close()
	s.state.Store(int32(StateClosed))
	s.logger.Info().Msg("Session closed")
}

func (s *Session) touch() error {
	return s.conn.SetReadDeadline(time.Now().Add(s.cfg.LivenessTimeout))
}

func (s *Session) readPump(log zerolog.Logger) {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	if err := s.touch(); err != nil {
		return
	}
	// Only control frames count as activity; data frames do not extend the deadline.
	s.conn.SetPongHandler(func(string) error {
		return s.touch()
	})
	s.conn.SetPingHandler(func(data string) error {
		if err := s.touch(); err != nil {
			return err
		}
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteTimeout))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Info().Msg("Liveness timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				log.Warn().Err(err).Msg("Read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.handleFrame(data, log); err != nil {
			s.metrics.RecordMalformedFrame()
			log.Warn().Err(err).Msg("Malformed frame, closing session")
			return
		}
	}
}

func (s *Session) handleFrame(data []byte, log zerolog.Logger) error {
	req, err := chat.DecodeRequest(data)
	if err != nil {
		return err
	}
	switch req.Method {
	case chat.MethodJoin:
		params, err := req.JoinParams()
		if err != nil {
			return err
		}
		s.events.Join(s, req.ID, params.Recipient)
	case chat.MethodSendMessage:
		params, err := req.SendMessageParams()
		if err != nil {
			return err
		}
		s.events.Send(chat.OutboundMessage{
			Sender:    s.ID(),
			Message:   params.Message,
			Recipient: params.Recipient,
		})
	default:
		log.Debug().Str("method", req.Method).Msg("Ignoring unknown method")
	}
	return nil
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// Unblocks the reader if the writer is the one giving up.
		_ = s.conn.Close()
	}()

	for {
		select {
		case resp := <-s.outbox:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteJSON(resp); err != nil {
				s.logger.Warn().Err(err).Msg("Write failed")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		case <-s.closing:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}

// flush writes whatever is already queued; used on eviction.
func (s *Session) flush() {
	for {
		select {
		case resp := <-s.outbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(resp); err != nil {
				return
			}
		default:
			return
		}
	}
}
