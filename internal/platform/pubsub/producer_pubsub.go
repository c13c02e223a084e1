// Package pubsub contains concrete adapters for interacting with Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
)

// DefaultPublisherIdleTimeout is how long an unused publisher client is kept.
const DefaultPublisherIdleTimeout = 5 * time.Minute

// TopicClient is the part of pubsub.Publisher the Producer uses.
// This allows us to use a mock for testing.
type TopicClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

type cachedTopic struct {
	client   TopicClient
	inFlight int
	lastUsed time.Time
}

// Producer implements chat.Publisher. It keeps one publisher client per topic,
// created on first use, because edges' inbound topics are only known at runtime.
// Clients idle for longer than the idle timeout are stopped and dropped, so
// topics of edges that are gone do not pin a publisher forever.
type Producer struct {
	newTopic    func(topic string) TopicClient
	idleTimeout time.Duration

	mu     sync.Mutex
	topics map[string]*cachedTopic

	stopOnce sync.Once
	done     chan struct{}
}

// NewProducer is the constructor for the Pub/Sub producer. newTopic builds
// the publisher client for a topic id. A non-positive idleTimeout uses
// DefaultPublisherIdleTimeout.
func NewProducer(newTopic func(topic string) TopicClient, idleTimeout time.Duration) *Producer {
	if idleTimeout <= 0 {
		idleTimeout = DefaultPublisherIdleTimeout
	}
	p := &Producer{
		newTopic:    newTopic,
		idleTimeout: idleTimeout,
		topics:      make(map[string]*cachedTopic),
		done:        make(chan struct{}),
	}
	go p.evictIdle()
	return p
}

// Publish sends the payload to the topic and waits for the server ack.
func (p *Producer) Publish(ctx context.Context, topic string, payload []byte) error {
	message := &pubsub.Message{
		Data: payload,
	}

	t := p.acquire(topic)
	defer p.release(t)

	result := t.client.Publish(ctx, message)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", topic, err)
	}
	return nil
}

// Stop flushes and stops every publisher client.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.client.Stop()
		delete(p.topics, id)
	}
}

// Len is the number of cached publisher clients.
func (p *Producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func (p *Producer) acquire(id string) *cachedTopic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = &cachedTopic{client: p.newTopic(id)}
		p.topics[id] = t
	}
	t.inFlight++
	t.lastUsed = time.Now()
	return t
}

func (p *Producer) release(t *cachedTopic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.inFlight--
	t.lastUsed = time.Now()
}

func (p *Producer) evictIdle() {
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, client := range p.removeIdle(time.Now()) {
				client.Stop()
			}
		case <-p.done:
			return
		}
	}
}

// removeIdle unlinks the idle clients; the caller stops them outside the lock.
func (p *Producer) removeIdle(now time.Time) []TopicClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	var idle []TopicClient
	for id, t := range p.topics {
		if t.inFlight == 0 && now.Sub(t.lastUsed) >= p.idleTimeout {
			idle = append(idle, t.client)
			delete(p.topics, id)
		}
	}
	return idle
}
