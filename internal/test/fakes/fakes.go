// Package fakes provides in-memory test doubles (fakes) for the presence
// directory and the message bus. These are used in the cmd/local
// entrypoint and in tests.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// --- Directory ---

// Directory is an in-memory chat.Directory. SetUnavailable makes every call
// fail the way an unreachable backend does.
type Directory struct {
	mu          sync.Mutex
	presence    map[chat.ConnectionID]string
	edges       map[string]struct{}
	sequence    uint32
	unavailable bool
	logger      zerolog.Logger
}

func NewDirectory(logger zerolog.Logger) *Directory {
	return &Directory{
		presence: make(map[chat.ConnectionID]string),
		edges:    make(map[string]struct{}),
		logger:   logger.With().Str("component", "FakeDirectory").Logger(),
	}
}

func (d *Directory) SetUnavailable(unavailable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable = unavailable
}

func (d *Directory) check() error {
	if d.unavailable {
		return fmt.Errorf("%w: fake directory is down", chat.ErrDirectoryUnavailable)
	}
	return nil
}

func (d *Directory) Register(_ context.Context, id chat.ConnectionID, edgeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	d.presence[id] = edgeID
	return nil
}

func (d *Directory) Unregister(_ context.Context, id chat.ConnectionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	delete(d.presence, id)
	return nil
}

func (d *Directory) Exists(ctx context.Context, id chat.ConnectionID) (bool, error) {
	edges, err := d.Resolve(ctx, id)
	return len(edges) > 0, err
}

func (d *Directory) Resolve(_ context.Context, id chat.ConnectionID) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	if edge, ok := d.presence[id]; ok {
		return []string{edge}, nil
	}
	return nil, nil
}

func (d *Directory) AddEdge(_ context.Context, edgeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	d.edges[edgeID] = struct{}{}
	return nil
}

func (d *Directory) RemoveEdge(_ context.Context, edgeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	delete(d.edges, edgeID)
	return nil
}

func (d *Directory) LiveEdges(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	edges := make([]string, 0, len(d.edges))
	for e := range d.edges {
		edges = append(edges, e)
	}
	return edges, nil
}

func (d *Directory) NextEdgeSequence(_ context.Context) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	d.sequence++
	return d.sequence, nil
}

func (d *Directory) Close() error { return nil }

// --- Bus ---

const redeliveryDelay = 20 * time.Millisecond

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("fake bus closed")

type queueGroup struct {
	messages chan []byte
	deleted  chan struct{}
}

// Bus is an in-memory chat.Bus. Every group on a topic receives each
// message once, and the consumers of one group compete for it.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[string]*queueGroup
	closed chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		topics: make(map[string]map[string]*queueGroup),
		closed: make(chan struct{}),
		logger: logger.With().Str("component", "FakeBus").Logger(),
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	groups := make([]*queueGroup, 0, len(b.topics[topic]))
	for _, g := range b.topics[topic] {
		groups = append(groups, g)
	}
	b.mu.Unlock()

	for _, g := range groups {
		select {
		case g.messages <- payload:
		case <-g.deleted:
		case <-b.closed:
			return ErrBusClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.logger.Debug().Str("topic", topic).Int("groups", len(groups)).Msg("[FAKES-BUS] Published")
	return nil
}

func (b *Bus) Consume(ctx context.Context, topic, group string, handler chat.MessageHandler) error {
	g := b.group(topic, group)
	for {
		select {
		case payload := <-g.messages:
			if err := handler(ctx, payload); err != nil {
				b.logger.Debug().Err(err).Str("topic", topic).Str("group", group).Msg("[FAKES-BUS] Nack, redelivering")
				go b.redeliver(g, payload)
			}
		case <-g.deleted:
			return nil
		case <-b.closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// EnsureGroup creates the group so it buffers messages before any consumer attaches.
func (b *Bus) EnsureGroup(_ context.Context, topic, group string) error {
	b.group(topic, group)
	return nil
}

func (b *Bus) DeleteGroup(_ context.Context, topic, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.topics[topic][group]; ok {
		close(g.deleted)
		delete(b.topics[topic], group)
	}
	return nil
}

// HasGroup reports whether the group exists on topic.
func (b *Bus) HasGroup(topic, group string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.topics[topic][group]
	return ok
}

func (b *Bus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *Bus) group(topic, group string) *queueGroup {
	b.mu.Lock()
	defer b.mu.Unlock()
	groups, ok := b.topics[topic]
	if !ok {
		groups = make(map[string]*queueGroup)
		b.topics[topic] = groups
	}
	g, ok := groups[group]
	if !ok {
		g = &queueGroup{messages: make(chan []byte, 1024), deleted: make(chan struct{})}
		groups[group] = g
	}
	return g
}

func (b *Bus) redeliver(g *queueGroup, payload []byte) {
	timer := time.NewTimer(redeliveryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-b.closed:
		return
	}
	select {
	case g.messages <- payload:
	case <-g.deleted:
	case <-b.closed:
	}
}
