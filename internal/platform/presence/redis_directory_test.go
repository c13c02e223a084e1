package presence_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/internal/platform/presence"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// redisTestFixture holds resources for testing the redis directory.
type redisTestFixture struct {
	ctx       context.Context
	mr        *miniredis.Miniredis
	directory *presence.RedisDirectory
}

func setupRedisDirectory(t *testing.T, ttl time.Duration) *redisTestFixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})

	directory, err := presence.NewRedisDirectory(rdb, ttl, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = directory.Close() })

	return &redisTestFixture{ctx: ctx, mr: mr, directory: directory}
}

func TestNewRedisDirectory_NilClient(t *testing.T) {
	_, err := presence.NewRedisDirectory(nil, 0, zerolog.Nop())
	assert.Error(t, err)
}

func TestRedisDirectory_PresenceLifecycle(t *testing.T) {
	fx := setupRedisDirectory(t, 0)

	// 1. Register
	require.NoError(t, fx.directory.Register(fx.ctx, 42, "e1"))

	value, err := fx.mr.Get("presence.42")
	require.NoError(t, err)
	assert.Equal(t, "e1", value)
	assert.Equal(t, time.Duration(0), fx.mr.TTL("presence.42"), "records without a lease must not expire")

	// 2. Exists / Resolve
	exists, err := fx.directory.Exists(fx.ctx, 42)
	require.NoError(t, err)
	assert.True(t, exists)

	edges, err := fx.directory.Resolve(fx.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, edges)

	// 3. Unregister
	require.NoError(t, fx.directory.Unregister(fx.ctx, 42))
	assert.False(t, fx.mr.Exists("presence.42"))

	exists, err = fx.directory.Exists(fx.ctx, 42)
	require.NoError(t, err)
	assert.False(t, exists)

	// Unregistering twice is not an error.
	assert.NoError(t, fx.directory.Unregister(fx.ctx, 42))
}

func TestRedisDirectory_ResolveMatchesOnlyTheExactID(t *testing.T) {
	fx := setupRedisDirectory(t, 0)

	require.NoError(t, fx.directory.Register(fx.ctx, 4, "e1"))
	require.NoError(t, fx.directory.Register(fx.ctx, 42, "e2"))
	require.NoError(t, fx.directory.Register(fx.ctx, 420, "e3"))

	edges, err := fx.directory.Resolve(fx.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, edges)

	edges, err = fx.directory.Resolve(fx.ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestRedisDirectory_PresenceLease(t *testing.T) {
	fx := setupRedisDirectory(t, 30*time.Second)

	require.NoError(t, fx.directory.Register(fx.ctx, 42, "e1"))
	assert.Equal(t, 30*time.Second, fx.mr.TTL("presence.42"))

	fx.mr.FastForward(31 * time.Second)

	exists, err := fx.directory.Exists(fx.ctx, 42)
	require.NoError(t, err)
	assert.False(t, exists, "an expired lease must remove the presence record")
}

func TestRedisDirectory_LiveEdges(t *testing.T) {
	fx := setupRedisDirectory(t, 0)

	require.NoError(t, fx.directory.AddEdge(fx.ctx, "e1"))
	require.NoError(t, fx.directory.AddEdge(fx.ctx, "e2"))

	isMember, err := fx.mr.IsMember("live_edges", "e1")
	require.NoError(t, err)
	assert.True(t, isMember)

	edges, err := fx.directory.LiveEdges(fx.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, edges)

	require.NoError(t, fx.directory.RemoveEdge(fx.ctx, "e1"))
	edges, err = fx.directory.LiveEdges(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, edges)
}

func TestRedisDirectory_NextEdgeSequence(t *testing.T) {
	fx := setupRedisDirectory(t, 0)

	first, err := fx.directory.NextEdgeSequence(fx.ctx)
	require.NoError(t, err)
	second, err := fx.directory.NextEdgeSequence(fx.ctx)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), first)
	assert.Equal(t, uint32(2), second)
}

func TestRedisDirectory_NextEdgeSequenceWrapWarns(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var logs bytes.Buffer
	directory, err := presence.NewRedisDirectory(rdb, 0, zerolog.New(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = directory.Close() })

	require.NoError(t, mr.Set("edge_sequence", "2097152"))

	seq, err := directory.NextEdgeSequence(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint32(1), seq)
	assert.Contains(t, logs.String(), "Edge sequence counter wrapped")
	assert.Contains(t, logs.String(), `"level":"warn"`)
}

func TestRedisDirectory_Unavailable(t *testing.T) {
	fx := setupRedisDirectory(t, 0)
	fx.mr.Close()

	_, err := fx.directory.Exists(fx.ctx, 42)
	assert.ErrorIs(t, err, chat.ErrDirectoryUnavailable)

	err = fx.directory.Register(fx.ctx, 42, "e1")
	assert.ErrorIs(t, err, chat.ErrDirectoryUnavailable)

	_, err = fx.directory.Resolve(fx.ctx, 42)
	assert.ErrorIs(t, err, chat.ErrDirectoryUnavailable)
}
