// Package presence contains the concrete presence directory backends.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

const (
	presencePrefix  = "presence."
	liveEdgesKey    = "live_edges"
	edgeSequenceKey = "edge_sequence"
	scanBatchSize   = 100

	// edgeSequenceBits keeps connection ids below 2^53.
	edgeSequenceBits = 21
)

// redisClient defines the subset of go-redis the directory needs.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// RedisDirectory implements chat.Directory on Redis:
//   - `presence.<id>`: string holding the hosting edge id, optionally with a TTL.
//   - `live_edges`: set of edge ids.
//   - `edge_sequence`: counter handing out edge sequence numbers.
type RedisDirectory struct {
	client redisClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisDirectory is the constructor for the RedisDirectory. A zero ttl
// writes presence records without expiry.
func NewRedisDirectory(client redisClient, ttl time.Duration, logger zerolog.Logger) (*RedisDirectory, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisDirectory{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "RedisDirectory").Logger(),
	}, nil
}

// Register writes `presence.<id>` = edgeID.
func (d *RedisDirectory) Register(ctx context.Context, id chat.ConnectionID, edgeID string) error {
	key := presenceKey(id)
	if err := d.client.Set(ctx, key, edgeID, d.ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	d.logger.Debug().Str("key", key).Str("edge", edgeID).Msg("Presence record written")
	return nil
}

// Unregister deletes `presence.<id>`.
func (d *RedisDirectory) Unregister(ctx context.Context, id chat.ConnectionID) error {
	key := presenceKey(id)
	deleted, err := d.client.Del(ctx, key).Result()
	if err != nil {
		return unavailable("del", key, err)
	}
	if deleted == 0 {
		d.logger.Debug().Str("key", key).Msg("Presence record already absent")
	}
	return nil
}

// Exists reports whether `presence.<id>` exists.
func (d *RedisDirectory) Exists(ctx context.Context, id chat.ConnectionID) (bool, error) {
	key := presenceKey(id)
	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

// Resolve enumerates the keys matching `presence.<id>` with SCAN and fetches
// their values with a single MGET.
func (d *RedisDirectory) Resolve(ctx context.Context, id chat.ConnectionID) ([]string, error) {
	pattern := presenceKey(id)

	var keys []string
	var cursor uint64
	for {
		batch, next, err := d.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, unavailable("scan", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("mget", pattern, err)
	}

	edges := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		// A key can expire between SCAN and MGET.
		edge, ok := v.(string)
		if !ok || edge == "" {
			continue
		}
		if _, dup := seen[edge]; dup {
			continue
		}
		seen[edge] = struct{}{}
		edges = append(edges, edge)
	}
	return edges, nil
}

// AddEdge adds edgeID to `live_edges`.
func (d *RedisDirectory) AddEdge(ctx context.Context, edgeID string) error {
	if err := d.client.SAdd(ctx, liveEdgesKey, edgeID).Err(); err != nil {
		return unavailable("sadd", liveEdgesKey, err)
	}
	return nil
}

// RemoveEdge removes edgeID from `live_edges`.
func (d *RedisDirectory) RemoveEdge(ctx context.Context, edgeID string) error {
	if err := d.client.SRem(ctx, liveEdgesKey, edgeID).Err(); err != nil {
		return unavailable("srem", liveEdgesKey, err)
	}
	return nil
}

// LiveEdges returns the members of `live_edges`.
func (d *RedisDirectory) LiveEdges(ctx context.Context) ([]string, error) {
	edges, err := d.client.SMembers(ctx, liveEdgesKey).Result()
	if err != nil {
		return nil, unavailable("smembers", liveEdgesKey, err)
	}
	return edges, nil
}

// NextEdgeSequence increments `edge_sequence`, wrapping inside the bits
// reserved for it in a connection id.
func (d *RedisDirectory) NextEdgeSequence(ctx context.Context) (uint32, error) {
	n, err := d.client.Incr(ctx, edgeSequenceKey).Result()
	if err != nil {
		return 0, unavailable("incr", edgeSequenceKey, err)
	}
	return maskEdgeSequence(n, d.logger), nil
}

// Close releases the underlying connection pool.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

func presenceKey(id chat.ConnectionID) string { return presencePrefix + id.String() }

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", chat.ErrDirectoryUnavailable, op, key, err)
}

// maskEdgeSequence truncates the counter to edgeSequenceBits. Once the counter
// has wrapped, a new edge can share a sequence with an edge that is still
// running and the two would mint overlapping connection ids.
func maskEdgeSequence(n int64, logger zerolog.Logger) uint32 {
	const mask = 1<<edgeSequenceBits - 1
	seq := uint32(n) & mask
	if n > mask {
		logger.Warn().
			Int64("counter", n).
			Uint32("sequence", seq).
			Msg("Edge sequence counter wrapped, connection ids may collide with an older edge")
	}
	return seq
}
