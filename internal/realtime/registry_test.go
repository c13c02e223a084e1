package realtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-edge-chat/internal/realtime"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

func TestRegistry(t *testing.T) {
	registry := realtime.NewRegistry()
	first, second := &fakeHandle{}, &fakeHandle{}

	registry.Add(1, first)
	registry.Add(2, second)
	assert.Equal(t, 2, registry.Len())
	assert.ElementsMatch(t, []chat.ConnectionID{1, 2}, registry.IDs())

	h, ok := registry.Lookup(1)
	assert.True(t, ok)
	assert.Same(t, first, h)

	registry.Remove(1)
	registry.Remove(1)
	_, ok = registry.Lookup(1)
	assert.False(t, ok, "a removed id is not local anymore")
	assert.Equal(t, 1, registry.Len())
}

func TestIDGenerator(t *testing.T) {
	t.Run("prefixes the edge sequence and never yields zero", func(t *testing.T) {
		gen := realtime.NewIDGenerator(3)
		first := gen.Next()
		second := gen.Next()

		assert.Equal(t, chat.ConnectionID(3<<32|1), first)
		assert.Equal(t, chat.ConnectionID(3<<32|2), second)
	})

	t.Run("different edges never collide", func(t *testing.T) {
		a := realtime.NewIDGenerator(1)
		b := realtime.NewIDGenerator(2)
		seen := make(map[chat.ConnectionID]bool)
		for i := 0; i < 1000; i++ {
			for _, id := range []chat.ConnectionID{a.Next(), b.Next()} {
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
			}
		}
	})

	t.Run("ids stay below 2^53", func(t *testing.T) {
		gen := realtime.NewIDGenerator(1<<21 - 1)
		assert.Less(t, uint64(gen.Next()), uint64(1)<<53)

		// Sequences wider than 21 bits are masked.
		wide := realtime.NewIDGenerator(1 << 21)
		assert.Equal(t, chat.ConnectionID(1), wide.Next())
	})
}
