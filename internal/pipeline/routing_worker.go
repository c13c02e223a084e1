package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// RoutingWorker resolves the recipient of each outbound message and copies
// the message onto the inbound topic of every edge hosting it. Any number of
// workers can run; they share one queue group.
type RoutingWorker struct {
	directory chat.Directory
	publisher chat.Publisher
	metrics   *Metrics
	logger    zerolog.Logger
}

func NewRoutingWorker(directory chat.Directory, publisher chat.Publisher, metrics *Metrics, logger zerolog.Logger) *RoutingWorker {
	return &RoutingWorker{
		directory: directory,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "RoutingWorker").Logger(),
	}
}

// Run consumes the outbound topic until ctx is cancelled.
func (w *RoutingWorker) Run(ctx context.Context, consumer chat.Consumer) error {
	w.logger.Info().Str("topic", chat.OutboundTopic).Str("group", chat.RoutingWorkerGroup).Msg("Routing worker starting...")
	return consumer.Consume(ctx, chat.OutboundTopic, chat.RoutingWorkerGroup, w.Handle)
}

// Handle routes one payload. A nil return acknowledges it; an error asks for
// redelivery, which may duplicate copies already sent to some edges.
func (w *RoutingWorker) Handle(ctx context.Context, payload []byte) error {
	msg, err := OutboundTransformer(payload)
	if err != nil {
		w.metrics.RecordUndecodable()
		w.logger.Error().Err(err).Str("payload", string(payload)).Msg("Dropping undecodable outbound message")
		return nil
	}
	log := w.logger.With().
		Str("sender", msg.Sender.String()).
		Str("recipient", msg.Recipient.String()).
		Logger()

	edges, err := w.directory.Resolve(ctx, msg.Recipient)
	if err != nil {
		w.metrics.RecordRetry("directory")
		log.Warn().Err(err).Msg("Failed to resolve recipient, message will be redelivered")
		return fmt.Errorf("failed to resolve recipient %s: %w", msg.Recipient, err)
	}
	if len(edges) == 0 {
		w.metrics.RecordNoRecipient()
		log.Debug().Msg("Recipient not present, dropping message")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, edge := range edges {
		g.Go(func() error {
			if err := w.publisher.Publish(gctx, chat.InboundTopic(edge), payload); err != nil {
				return fmt.Errorf("edge %s: %w", edge, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.metrics.RecordRetry("publish")
		log.Warn().Err(err).Strs("edges", edges).Msg("Fan-out failed, message will be redelivered")
		return fmt.Errorf("failed to fan out message: %w", err)
	}

	w.metrics.RecordRouted(len(edges))
	log.Debug().Strs("edges", edges).Msg("Message routed")
	return nil
}
