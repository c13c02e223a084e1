// Command local runs one edge and one routing worker in a single process
// over in-memory fakes. It needs no Redis and no Pub/Sub.
package main

import (
	"context"
	_ "embed"

	"github.com/tinywideclouds/go-edge-chat/chatservice"
	"github.com/tinywideclouds/go-edge-chat/cmd"
	"github.com/tinywideclouds/go-edge-chat/internal/app"
)

//go:embed config.yaml
var configFile []byte

func main() {
	logger := cmd.NewLogger("edge-chat-local")

	cfg, logger, err := cmd.LoadConfig(configFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Warn().Msg("Running in 'local' mode. All external dependencies are faked.")
	deps := cmd.NewFakeDependencies(logger)
	defer func() { _ = deps.Close() }()

	ctx := context.Background()
	router, err := chatservice.NewRouter(cfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create router")
		return
	}
	edge, err := chatservice.NewEdge(ctx, cfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to bootstrap edge")
		return
	}

	// Edge first on shutdown so queued messages still reach the worker.
	app.Run(ctx, logger, app.DefaultShutdownTimeout, edge, router)
}
