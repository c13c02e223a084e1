// Package test provides public test helpers for setting up end-to-end tests
// of the chat fleet against in-memory Pub/Sub and Redis.
package test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tinywideclouds/go-edge-chat/internal/platform/presence"
	psadapter "github.com/tinywideclouds/go-edge-chat/internal/platform/pubsub"
)

// NewPubsubServer starts an in-memory Pub/Sub server for the test.
func NewPubsubServer(t *testing.T) *pstest.Server {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// NewPubsubClient connects a fresh client to srv. Each simulated process
// should get its own client, as it would in production.
func NewPubsubClient(t *testing.T, srv *pstest.Server, projectID string) *pubsub.Client {
	t.Helper()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client
}

// NewTestBus creates a bus on its own client. The bus is closed when the test ends.
func NewTestBus(t *testing.T, srv *pstest.Server, projectID string, logger zerolog.Logger) *psadapter.Bus {
	t.Helper()
	bus, err := psadapter.NewBus(NewPubsubClient(t, srv, projectID), projectID, psadapter.BusConfig{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// NewTestRedisDirectory creates a directory on its own client to mr. The
// directory is closed when the test ends.
func NewTestRedisDirectory(t *testing.T, mr *miniredis.Miniredis, ttl time.Duration, logger zerolog.Logger) *presence.RedisDirectory {
	t.Helper()
	directory, err := presence.NewRedisDirectory(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = directory.Close() })
	return directory
}

// QueueGroupExists reports whether the subscription backing group on topic exists.
func QueueGroupExists(ctx context.Context, client *pubsub.Client, projectID, topic, group string) bool {
	name := "projects/" + projectID + "/subscriptions/" + psadapter.SubscriptionID(topic, group)
	_, err := client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	return err == nil
}

// WaitForQueueGroup blocks until a consumer has created the queue group.
// Messages published before that are not retained for the group.
func WaitForQueueGroup(t *testing.T, client *pubsub.Client, projectID, topic, group string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return QueueGroupExists(context.Background(), client, projectID, topic, group)
	}, 5*time.Second, 20*time.Millisecond, "queue group %s on %s was not created", group, topic)
}
