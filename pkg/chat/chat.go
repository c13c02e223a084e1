// Package chat contains the public domain models, wire protocol and contracts
// shared by the edge and routing-worker processes.
package chat

import (
	"errors"
	"fmt"
	"strconv"
)

// ConnectionID identifies one client session somewhere in the fleet. It is not a
// user identity: it is assigned at connect time and retired on disconnect.
type ConnectionID uint64

// String renders the id in its decimal form, which is also its directory form.
func (id ConnectionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// OutboundMessage is the payload carried end-to-end on the message bus.
type OutboundMessage struct {
	Sender    ConnectionID `json:"sender"`
	Message   string       `json:"message"`
	Recipient ConnectionID `json:"recipient"`
}

const (
	// OutboundTopic receives every freshly authored message from every edge.
	OutboundTopic = "outbound.publish"
	// RoutingWorkerGroup is the single queue group shared by all routing workers.
	RoutingWorkerGroup = "routing-workers"
)

// InboundTopic is the topic consumed by the inbound subscriber of edgeID.
func InboundTopic(edgeID string) string {
	return fmt.Sprintf("inbound.%s.deliver", edgeID)
}

var (
	// ErrRecipientNotFound means the directory holds no presence record for the id.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrDirectoryUnavailable means the directory could not be reached.
	ErrDirectoryUnavailable = errors.New("presence directory unavailable")
)
