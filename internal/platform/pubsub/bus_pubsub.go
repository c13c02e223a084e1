package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// BusConfig tunes how queue groups are created and consumed.
type BusConfig struct {
	// AckDeadline of created subscriptions.
	AckDeadline time.Duration
	// GroupExpiration deletes a subscription nobody has pulled from for this
	// long, which reaps the inbound groups of crashed edges. Pub/Sub requires
	// at least one day; zero leaves subscriptions without expiry.
	GroupExpiration time.Duration
	// MaxOutstandingMessages bounds concurrently handled messages per consumer.
	MaxOutstandingMessages int
	// PublisherIdleTimeout stops a topic's publisher after it has been unused
	// this long. Zero uses DefaultPublisherIdleTimeout.
	PublisherIdleTimeout time.Duration
}

// Bus implements chat.Bus on Pub/Sub. A queue group is a subscription named
// `<topic>.<group>`: every consumer attached to it competes for its messages.
type Bus struct {
	*Producer
	client    *pubsub.Client
	projectID string
	cfg       BusConfig
	logger    zerolog.Logger
}

// NewBus wraps a connected Pub/Sub client.
func NewBus(client *pubsub.Client, projectID string, cfg BusConfig, logger zerolog.Logger) (*Bus, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id cannot be empty")
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = 10 * time.Second
	}
	return &Bus{
		Producer: NewProducer(func(topic string) TopicClient {
			return client.Publisher(topic)
		}),
		client:    client,
		projectID: projectID,
		cfg:       cfg,
		logger:    logger.With().Str("component", "PubsubBus").Logger(),
	}, nil
}

// EnsureTopic creates the topic if it doesn't already exist.
func (b *Bus) EnsureTopic(ctx context.Context, topic string) error {
	name := b.topicName(topic)
	_, err := b.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			b.logger.Debug().Str("topic", name).Msg("Topic already exists, skipping creation")
			return nil
		}
		return fmt.Errorf("could not create topic %s: %w", name, err)
	}
	b.logger.Info().Str("topic", name).Msg("Created topic")
	return nil
}

// EnsureGroup creates the topic and the subscription backing the queue group,
// so messages published from now on are retained even before Consume runs.
func (b *Bus) EnsureGroup(ctx context.Context, topic, group string) error {
	if err := b.EnsureTopic(ctx, topic); err != nil {
		return err
	}
	_, err := b.ensureSubscription(ctx, topic, group)
	return err
}

// Consume attaches handler to the topic under the queue group and blocks
// until ctx is cancelled. A nil handler result acks; an error nacks.
func (b *Bus) Consume(ctx context.Context, topic, group string, handler chat.MessageHandler) error {
	if err := b.EnsureTopic(ctx, topic); err != nil {
		return err
	}
	subID, err := b.ensureSubscription(ctx, topic, group)
	if err != nil {
		return err
	}

	log := b.logger.With().Str("topic", topic).Str("group", group).Logger()
	sub := b.client.Subscriber(subID)
	if b.cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = b.cfg.MaxOutstandingMessages
	}

	log.Info().Msg("Consuming queue group")
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, msg.Data); err != nil {
			log.Warn().Err(err).Str("msg_id", msg.ID).Msg("Handler failed, message will be redelivered")
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive on %s failed: %w", subID, err)
	}
	log.Info().Msg("Stopped consuming queue group")
	return nil
}

// DeleteGroup deletes the subscription backing the queue group.
func (b *Bus) DeleteGroup(ctx context.Context, topic, group string) error {
	name := b.subscriptionName(SubscriptionID(topic, group))
	err := b.client.SubscriptionAdminClient.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{
		Subscription: name,
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("could not delete subscription %s: %w", name, err)
	}
	return nil
}

// Close stops all publishers and closes the client.
func (b *Bus) Close() error {
	b.Producer.Stop()
	return b.client.Close()
}

func (b *Bus) ensureSubscription(ctx context.Context, topic, group string) (string, error) {
	subID := SubscriptionID(topic, group)
	subConfig := &pubsubpb.Subscription{
		Name:                  b.subscriptionName(subID),
		Topic:                 b.topicName(topic),
		AckDeadlineSeconds:    int32(b.cfg.AckDeadline / time.Second),
		EnableMessageOrdering: false,
	}
	if b.cfg.GroupExpiration > 0 {
		subConfig.ExpirationPolicy = &pubsubpb.ExpirationPolicy{
			Ttl: durationpb.New(b.cfg.GroupExpiration),
		}
	}

	_, err := b.client.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			b.logger.Debug().Str("sub", subConfig.Name).Msg("Subscription already exists, skipping creation")
			return subID, nil
		}
		return "", fmt.Errorf("could not create subscription %s: %w", subConfig.Name, err)
	}
	return subID, nil
}

// SubscriptionID names the subscription that backs a queue group on a topic.
func SubscriptionID(topic, group string) string {
	return topic + "." + group
}

func (b *Bus) topicName(id string) string {
	return fmt.Sprintf("projects/%s/topics/%s", b.projectID, id)
}

func (b *Bus) subscriptionName(id string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", b.projectID, id)
}
