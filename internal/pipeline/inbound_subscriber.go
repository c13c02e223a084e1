package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// Deliverer receives messages addressed to this edge. The edge coordinator
// implements it.
type Deliverer interface {
	Deliver(msg chat.OutboundMessage)
}

// InboundSubscriber feeds the messages routed to one edge into its coordinator.
type InboundSubscriber struct {
	edgeID    string
	deliverer Deliverer
	metrics   *Metrics
	logger    zerolog.Logger
}

func NewInboundSubscriber(edgeID string, deliverer Deliverer, metrics *Metrics, logger zerolog.Logger) *InboundSubscriber {
	return &InboundSubscriber{
		edgeID:    edgeID,
		deliverer: deliverer,
		metrics:   metrics,
		logger:    logger.With().Str("component", "InboundSubscriber").Str("edge", edgeID).Logger(),
	}
}

// Run consumes `inbound.<edge>.deliver` in the edge's own queue group until ctx is cancelled.
func (s *InboundSubscriber) Run(ctx context.Context, consumer chat.Consumer) error {
	topic := chat.InboundTopic(s.edgeID)
	s.logger.Info().Str("topic", topic).Msg("Inbound subscriber starting...")
	return consumer.Consume(ctx, topic, s.edgeID, s.Handle)
}

// Handle never asks for redelivery: undecodable payloads are dropped.
func (s *InboundSubscriber) Handle(_ context.Context, payload []byte) error {
	msg, err := OutboundTransformer(payload)
	if err != nil {
		s.metrics.RecordUndecodable()
		s.logger.Error().Err(err).Str("payload", string(payload)).Msg("Dropping undecodable inbound message")
		return nil
	}
	s.metrics.RecordInbound()
	s.deliverer.Deliver(*msg)
	return nil
}
