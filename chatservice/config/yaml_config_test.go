package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/chatservice/config"
)

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewConfigFromYaml(t *testing.T) {
	t.Run("Success - maps all fields correctly from YAML struct", func(t *testing.T) {
		// Arrange
		// This simulates the raw struct after unmarshaling the YAML file
		yamlCfg := &config.YamlConfig{
			ProjectID:      "yaml-project",
			EdgePort:       "8080",
			RouterPort:     "8081",
			EdgeID:         "edge-a",
			LogLevel:       "debug",
			AllowedOrigins: []string{"http://yaml-origin.com"},
			Directory: config.YamlDirectoryConfig{
				Type:        "redis",
				Redis:       config.YamlRedisConfig{Addr: "yaml-redis:6379"},
				Firestore:   config.YamlFirestoreConfig{CollectionPrefix: "chat-"},
				PresenceTTL: "30s",
				Timeout:     "2s",
			},
			Bus: config.YamlBusConfig{
				AckDeadline:     "10s",
				GroupExpiration: "24h",
				NumWorkers:      8,
			},
			Session: config.YamlSessionConfig{
				PingInterval:    "5s",
				LivenessTimeout: "10s",
				WriteTimeout:    "3s",
				OutboxSize:      32,
			},
		}

		// Act
		cfg, err := config.NewConfigFromYaml(yamlCfg, newTestLogger())

		// Assert
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, "8080", cfg.EdgePort)
		assert.Equal(t, "8081", cfg.RouterPort)
		assert.Equal(t, "edge-a", cfg.EdgeID)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, []string{"http://yaml-origin.com"}, cfg.AllowedOrigins)
		assert.Equal(t, "redis", cfg.Directory.Type)
		assert.Equal(t, "yaml-redis:6379", cfg.Directory.RedisAddr)
		assert.Equal(t, "chat-", cfg.Directory.CollectionPrefix)
		assert.Equal(t, 30*time.Second, cfg.Directory.PresenceTTL)
		assert.Equal(t, 2*time.Second, cfg.Directory.Timeout)
		assert.Equal(t, 10*time.Second, cfg.Bus.AckDeadline)
		assert.Equal(t, 24*time.Hour, cfg.Bus.GroupExpiration)
		assert.Equal(t, 8, cfg.Bus.NumWorkers)
		assert.Equal(t, 5*time.Second, cfg.Session.PingInterval)
		assert.Equal(t, 10*time.Second, cfg.Session.LivenessTimeout)
		assert.Equal(t, 3*time.Second, cfg.Session.WriteTimeout)
		assert.Equal(t, 32, cfg.Session.OutboxSize)
	})

	t.Run("Success - empty durations stay zero", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{ProjectID: "p"}, newTestLogger())
		require.NoError(t, err)
		assert.Zero(t, cfg.Directory.PresenceTTL)
		assert.Zero(t, cfg.Session.PingInterval)
	})

	t.Run("Failure - invalid duration names the key", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{Session: config.YamlSessionConfig{PingInterval: "five seconds"}}
		cfg, err := config.NewConfigFromYaml(yamlCfg, newTestLogger())
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session.ping_interval")
	})
}

func TestLoad(t *testing.T) {
	data := []byte(`
project_id: load-project
edge_port: "8080"
edge_id: edge-1
directory:
  type: redis
  redis:
    addr: localhost:6379
  presence_ttl: 1m
session:
  ping_interval: 5s
`)
	clearEnv(t)

	cfg, err := config.Load(data, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "load-project", cfg.ProjectID)
	assert.Equal(t, "edge-1", cfg.EdgeID)
	assert.Equal(t, time.Minute, cfg.Directory.PresenceTTL)
	assert.Equal(t, 5*time.Second, cfg.Session.PingInterval)

	_, err = config.Load([]byte("project_id: [unclosed"), newTestLogger())
	assert.Error(t, err)
}
