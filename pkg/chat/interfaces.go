package chat

import (
	"context"
)

// Directory is the shared presence directory: where each connection currently
// lives, and which edges are alive.
type Directory interface {
	// Register writes the presence record id -> edgeID.
	Register(ctx context.Context, id ConnectionID, edgeID string) error
	// Unregister deletes the presence record for id. Deleting a missing record is not an error.
	Unregister(ctx context.Context, id ConnectionID) error
	// Exists reports whether a presence record for id exists. Transport failures
	// are reported as ErrDirectoryUnavailable.
	Exists(ctx context.Context, id ConnectionID) (bool, error)
	// Resolve returns the edge identifiers currently hosting id; empty when absent.
	Resolve(ctx context.Context, id ConnectionID) ([]string, error)

	// AddEdge and RemoveEdge maintain the live-edges set.
	AddEdge(ctx context.Context, edgeID string) error
	RemoveEdge(ctx context.Context, edgeID string) error
	// LiveEdges lists the members of the live-edges set.
	LiveEdges(ctx context.Context) ([]string, error)
	// NextEdgeSequence hands out a fleet-unique number for a starting edge.
	NextEdgeSequence(ctx context.Context) (uint32, error)

	Close() error
}

// Publisher publishes a payload onto a named bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MessageHandler processes one bus message. Returning nil acknowledges the
// message; returning an error asks the bus to redeliver it.
type MessageHandler func(ctx context.Context, payload []byte) error

// Consumer attaches a handler to a topic under a queue group: every message
// published to the topic is handled by exactly one member of each group.
// Consume blocks until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, topic, group string, handler MessageHandler) error
}

// Bus is the full message bus contract.
type Bus interface {
	Publisher
	Consumer
	// EnsureGroup creates the queue group if needed. Messages published to the
	// topic afterwards are retained for the group even if nobody consumes yet.
	EnsureGroup(ctx context.Context, topic, group string) error
	// DeleteGroup removes a queue group that will not be consumed again.
	DeleteGroup(ctx context.Context, topic, group string) error
	Close() error
}
