// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds the graceful shutdown of all services.
const DefaultShutdownTimeout = 15 * time.Second

// Service is one long-running component of a process. Start blocks until
// the service stops; Shutdown makes it stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Run executes the main application lifecycle. It starts every service,
// waits for an OS signal, for ctx to end or for any service to fail, then
// shuts the services down in the order given.
func Run(ctx context.Context, logger zerolog.Logger, shutdownTimeout time.Duration, services ...Service) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start all services in separate goroutines.
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info().Str("service", svc.Name()).Msg("Starting service...")
			err := svc.Start(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("service", svc.Name()).Msg("Service failed")
				cancel() // Trigger shutdown of other services.
			}
		}()
	}

	// Wait for a shutdown signal.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)
	select {
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal.")
	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, initiating shutdown.")
	}

	// Execute graceful shutdown.
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	for _, svc := range services {
		logger.Info().Str("service", svc.Name()).Msg("Shutting down service...")
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("service", svc.Name()).Msg("Service shutdown failed.")
		}
	}

	wg.Wait()
	logger.Info().Msg("All services shut down gracefully.")
}
