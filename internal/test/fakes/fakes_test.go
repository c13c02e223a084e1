package fakes_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/internal/test/fakes"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

func TestBus_GroupsEachGetEveryMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus := fakes.NewBus(zerolog.Nop())
	defer func() { _ = bus.Close() }()

	var mu sync.Mutex
	received := map[string]int{}
	consume := func(group string) {
		_ = bus.Consume(ctx, "topic", group, func(_ context.Context, _ []byte) error {
			mu.Lock()
			received[group]++
			mu.Unlock()
			return nil
		})
	}
	// Two members of group-a compete; group-b gets its own copy.
	go consume("group-a")
	go consume("group-a")
	go consume("group-b")
	require.Eventually(t, func() bool { return bus.HasGroup("topic", "group-a") && bus.HasGroup("topic", "group-b") },
		time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(ctx, "topic", []byte("m")))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received["group-a"] == 10 && received["group-b"] == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_NackRedelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus := fakes.NewBus(zerolog.Nop())
	defer func() { _ = bus.Close() }()

	attempts := make(chan int, 4)
	n := 0
	go func() {
		_ = bus.Consume(ctx, "topic", "g", func(_ context.Context, _ []byte) error {
			n++
			attempts <- n
			if n == 1 {
				return errors.New("try again")
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return bus.HasGroup("topic", "g") }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "topic", []byte("m")))

	assert.Equal(t, 1, <-attempts)
	assert.Equal(t, 2, <-attempts)
}

func TestBus_DeleteGroupStopsConsumers(t *testing.T) {
	bus := fakes.NewBus(zerolog.Nop())
	done := make(chan error, 1)
	go func() {
		done <- bus.Consume(context.Background(), "topic", "g", func(context.Context, []byte) error { return nil })
	}()
	require.Eventually(t, func() bool { return bus.HasGroup("topic", "g") }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.DeleteGroup(context.Background(), "topic", "g"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer kept running after its group was deleted")
	}
	assert.False(t, bus.HasGroup("topic", "g"))

	require.NoError(t, bus.Close())
	// No groups left, so publishing has nowhere to go and succeeds.
	assert.NoError(t, bus.Publish(context.Background(), "topic", []byte("m")))
}

func TestBus_EnsureGroupBuffersBeforeConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus := fakes.NewBus(zerolog.Nop())
	defer func() { _ = bus.Close() }()

	require.NoError(t, bus.EnsureGroup(ctx, "topic", "g"))
	assert.True(t, bus.HasGroup("topic", "g"))
	require.NoError(t, bus.Publish(ctx, "topic", []byte("early")))

	received := make(chan string, 1)
	go func() {
		_ = bus.Consume(ctx, "topic", "g", func(_ context.Context, payload []byte) error {
			received <- string(payload)
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, "early", got)
	case <-ctx.Done():
		t.Fatal("message published before Consume was lost")
	}
}

func TestDirectory_Unavailable(t *testing.T) {
	ctx := context.Background()
	directory := fakes.NewDirectory(zerolog.Nop())
	require.NoError(t, directory.Register(ctx, 1, "e1"))

	directory.SetUnavailable(true)
	_, err := directory.Exists(ctx, 1)
	assert.ErrorIs(t, err, chat.ErrDirectoryUnavailable)

	directory.SetUnavailable(false)
	edges, err := directory.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, edges)
}
