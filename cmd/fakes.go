package cmd

import (
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-edge-chat/chatservice"
	"github.com/tinywideclouds/go-edge-chat/internal/test/fakes"
)

// NewFakeDependencies creates in-memory fakes for local development.
func NewFakeDependencies(logger zerolog.Logger) *chatservice.Dependencies {
	return &chatservice.Dependencies{
		Directory: fakes.NewDirectory(logger),
		Bus:       fakes.NewBus(logger),
	}
}
