package realtime

import (
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// Handle is how the coordinator reaches a live session.
type Handle interface {
	// Deliver queues a response for the client. It never blocks and reports
	// false when the response was dropped.
	Deliver(resp chat.Response) bool
	// Evict asks the session to close. Safe to call more than once.
	Evict()
}

// Registry maps the connections hosted on this edge to their sessions.
// It is owned by the coordinator loop and is not safe for concurrent use.
type Registry struct {
	entries map[chat.ConnectionID]Handle
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[chat.ConnectionID]Handle)}
}

// Add stores handle under id, replacing any previous entry.
func (r *Registry) Add(id chat.ConnectionID, handle Handle) {
	r.entries[id] = handle
}

// Remove deletes id. Removing a missing id is a no-op.
func (r *Registry) Remove(id chat.ConnectionID) {
	delete(r.entries, id)
}

// Lookup returns the session for id; false means the connection is not local.
func (r *Registry) Lookup(id chat.ConnectionID) (Handle, bool) {
	h, ok := r.entries[id]
	return h, ok
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// IDs returns a snapshot of the registered ids in no particular order.
func (r *Registry) IDs() []chat.ConnectionID {
	ids := make([]chat.ConnectionID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
