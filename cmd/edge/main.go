// Command edge runs one edge process: the client WebSocket endpoint, its
// coordinator and the subscriber for messages routed to this edge.
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
	// 1. Setup structured logging
	logger := cmd.NewLogger("edge-chat-edge")

	// 2. Load config.yaml and environment overrides
	cfg, logger, err := cmd.LoadConfig(configFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// 3. Create dependencies
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

	// 4. Register the edge
	edge, err := chatservice.NewEdge(ctx, cfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to bootstrap edge")
		return
	}

	// 5. Run the application
	app.Run(ctx, logger, app.DefaultShutdownTimeout, edge)
}
