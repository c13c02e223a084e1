// Command router runs a routing worker. Any number of replicas can share
// the outbound topic.
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
	logger := cmd.NewLogger("edge-chat-router")

	cfg, logger, err := cmd.LoadConfig(configFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	deps, err := cmd.NewProdDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to release dependencies")
		}
	}()

	router, err := chatservice.NewRouter(cfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create router")
		return
	}

	app.Run(ctx, logger, app.DefaultShutdownTimeout, router)
}
