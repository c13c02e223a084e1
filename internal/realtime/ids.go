package realtime

import (
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

const (
	counterBits  = 32
	sequenceMask = 1<<21 - 1
)

// IDGenerator hands out connection ids of the form sequence<<32 | counter.
// The sequence is unique per edge start, the counter never repeats within it
// and is never zero. Ids stay below 2^53.
type IDGenerator struct {
	prefix  uint64
	counter uint32
}

// NewIDGenerator builds a generator for an edge that drew sequence from the directory.
func NewIDGenerator(sequence uint32) *IDGenerator {
	return &IDGenerator{prefix: uint64(sequence&sequenceMask) << counterBits}
}

// Next returns the next id. Not safe for concurrent use.
func (g *IDGenerator) Next() chat.ConnectionID {
	g.counter++
	if g.counter == 0 {
		// 2^32 connections on one edge start; skip zero and reuse the space.
		g.counter = 1
	}
	return chat.ConnectionID(g.prefix | uint64(g.counter))
}
