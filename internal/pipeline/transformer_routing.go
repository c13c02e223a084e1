// Package pipeline holds the bus-facing stages of the system: the routing
// worker that fans outbound messages out to edges, and the inbound
// subscriber that feeds an edge's coordinator.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// ErrUndecodable marks a bus payload that can never be processed. Such
// messages are acknowledged and dropped, never redelivered.
var ErrUndecodable = errors.New("undecodable bus payload")

// OutboundTransformer turns a raw bus payload into an OutboundMessage.
func OutboundTransformer(payload []byte) (*chat.OutboundMessage, error) {
	var msg chat.OutboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return &msg, nil
}
