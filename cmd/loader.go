package cmd

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/chatservice"
	"github.com/tinywideclouds/go-edge-chat/chatservice/config"
	"github.com/tinywideclouds/go-edge-chat/internal/platform/presence"
	psub "github.com/tinywideclouds/go-edge-chat/internal/platform/pubsub"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// NewLogger builds the process logger. The level comes from LOG_LEVEL until
// the configuration has been loaded.
func NewLogger(service string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).
		Level(config.ParseLogLevel(os.Getenv("LOG_LEVEL"))).
		With().Timestamp().Str("service", service).Logger()
}

// LoadConfig runs both configuration stages on an embedded config file and
// applies the configured log level.
func LoadConfig(data []byte, logger zerolog.Logger) (*config.AppConfig, zerolog.Logger, error) {
	cfg, err := config.Load(data, logger)
	if err != nil {
		return nil, logger, err
	}
	return cfg, logger.Level(config.ParseLogLevel(cfg.LogLevel)), nil
}

// NewProdDependencies connects to the configured directory backend and to
// Pub/Sub. Emulators are picked up from FIRESTORE_EMULATOR_HOST and
// PUBSUB_EMULATOR_HOST by the client libraries.
func NewProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*chatservice.Dependencies, error) {
	directory, err := newDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	bus, err := newBus(ctx, cfg, logger)
	if err != nil {
		_ = directory.Close()
		return nil, err
	}

	logger.Debug().Msg("All production dependencies initialized")
	return &chatservice.Dependencies{Directory: directory, Bus: bus}, nil
}

// newDirectory creates the pluggable presence directory based on config.
func newDirectory(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (chat.Directory, error) {
	logger.Info().Str("type", cfg.Directory.Type).Msg("Initializing presence directory...")

	switch cfg.Directory.Type {
	case config.DirectoryRedis:
		logger.Debug().Str("addr", cfg.Directory.RedisAddr).Msg("Connecting to Redis directory")
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Directory.RedisAddr})
		// Test the connection
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis directory at %s: %w", cfg.Directory.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Directory.RedisAddr).Msg("Connected to Redis directory")
		return presence.NewRedisDirectory(rdb, cfg.Directory.PresenceTTL, logger)

	case config.DirectoryFirestore:
		logger.Debug().Str("project_id", cfg.ProjectID).Msg("Connecting to Firestore directory")
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		return presence.NewFirestoreDirectory(fsClient, cfg.Directory.CollectionPrefix, cfg.Directory.PresenceTTL, logger)

	default:
		return nil, fmt.Errorf("invalid directory type: %s (must be 'redis' or 'firestore')", cfg.Directory.Type)
	}
}

// newBus connects to Pub/Sub and makes sure the outbound topic exists, so
// edges can publish before the first routing worker has started.
func newBus(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*psub.Bus, error) {
	logger.Debug().Str("project_id", cfg.ProjectID).Msg("Connecting to PubSub")
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
	}

	bus, err := psub.NewBus(psClient, cfg.ProjectID, psub.BusConfig{
		AckDeadline:            cfg.Bus.AckDeadline,
		GroupExpiration:        cfg.Bus.GroupExpiration,
		MaxOutstandingMessages: cfg.Bus.NumWorkers,
	}, logger)
	if err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if err := bus.EnsureTopic(ctx, chat.OutboundTopic); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return bus, nil
}
