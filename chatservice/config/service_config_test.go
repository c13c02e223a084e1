package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/chatservice/config"
)

// newBaseConfig creates a mock "Stage 1" config,
// simulating what NewConfigFromYaml would produce.
func newBaseConfig() *config.AppConfig {
	return &config.AppConfig{
		ProjectID:  "base-project",
		EdgePort:   "9090",
		RouterPort: "9091",
		EdgeID:     "edge-base",
		LogLevel:   "info",
		Directory: config.DirectoryConfig{
			Type:      "redis",
			RedisAddr: "base-redis:6379",
		},
		Bus: config.BusConfig{NumWorkers: 1},
	}
}

// clearEnv makes sure values from the developer's shell do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GCP_PROJECT_ID", "EDGE_PORT", "ROUTER_PORT", "EDGE_ID", "REDIS_ADDR",
		"DIRECTORY_TYPE", "PRESENCE_TTL", "LOG_LEVEL", "ALLOWED_ORIGINS", "NUM_WORKERS",
	} {
		t.Setenv(key, "")
	}
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - All overrides applied", func(t *testing.T) {
		// Arrange
		clearEnv(t)
		baseCfg := newBaseConfig()
		t.Setenv("GCP_PROJECT_ID", "env-project")
		t.Setenv("EDGE_PORT", "8000")
		t.Setenv("ROUTER_PORT", "8001")
		t.Setenv("EDGE_ID", "edge-env")
		t.Setenv("REDIS_ADDR", "env-redis:6379")
		t.Setenv("PRESENCE_TTL", "30s")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
		t.Setenv("NUM_WORKERS", "4")

		// Act
		cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)

		// Assert
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "env-project", cfg.ProjectID)
		assert.Equal(t, "8000", cfg.EdgePort)
		assert.Equal(t, "8001", cfg.RouterPort)
		assert.Equal(t, "edge-env", cfg.EdgeID)
		assert.Equal(t, "env-redis:6379", cfg.Directory.RedisAddr)
		assert.Equal(t, 30*time.Second, cfg.Directory.PresenceTTL)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
		assert.Equal(t, 4, cfg.Bus.NumWorkers)
		assert.Equal(t, "redis", cfg.Directory.Type, "type wasn't overridden")
	})

	t.Run("Success - Defaults directory type and edge id", func(t *testing.T) {
		clearEnv(t)
		baseCfg := newBaseConfig()
		baseCfg.Directory.Type = ""
		baseCfg.EdgeID = ""

		cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, config.DirectoryRedis, cfg.Directory.Type)
		assert.True(t, strings.HasPrefix(cfg.EdgeID, "edge-"))
	})

	t.Run("Success - Firestore needs no redis address", func(t *testing.T) {
		clearEnv(t)
		baseCfg := newBaseConfig()
		baseCfg.Directory.RedisAddr = ""
		t.Setenv("DIRECTORY_TYPE", "firestore")

		cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, config.DirectoryFirestore, cfg.Directory.Type)
	})

	failures := []struct {
		name     string
		mutate   func(cfg *config.AppConfig)
		env      map[string]string
		contains string
	}{
		{
			name:     "Missing required GCP_PROJECT_ID",
			mutate:   func(cfg *config.AppConfig) { cfg.ProjectID = "" },
			contains: "GCP_PROJECT_ID is not set",
		},
		{
			name:     "Missing redis address",
			mutate:   func(cfg *config.AppConfig) { cfg.Directory.RedisAddr = "" },
			contains: "REDIS_ADDR is not set",
		},
		{
			name:     "Unknown directory type",
			env:      map[string]string{"DIRECTORY_TYPE": "etcd"},
			contains: "DIRECTORY_TYPE",
		},
		{
			name:     "Edge id unusable in a topic name",
			env:      map[string]string{"EDGE_ID": "1 bad id"},
			contains: "EDGE_ID",
		},
		{
			name:     "Malformed PRESENCE_TTL",
			env:      map[string]string{"PRESENCE_TTL": "soon"},
			contains: "PRESENCE_TTL",
		},
		{
			name:     "Malformed NUM_WORKERS",
			env:      map[string]string{"NUM_WORKERS": "many"},
			contains: "NUM_WORKERS",
		},
		{
			name:     "Group expiration below the Pub/Sub minimum",
			mutate:   func(cfg *config.AppConfig) { cfg.Bus.GroupExpiration = time.Hour },
			contains: "group_expiration",
		},
	}
	for _, tc := range failures {
		t.Run("Failure - "+tc.name, func(t *testing.T) {
			clearEnv(t)
			baseCfg := newBaseConfig()
			if tc.mutate != nil {
				tc.mutate(baseCfg)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, config.ParseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, config.ParseLogLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, config.ParseLogLevel(""))
	assert.Equal(t, zerolog.InfoLevel, config.ParseLogLevel("chatty"))
}
