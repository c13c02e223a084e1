// Package config loads the configuration shared by the edge and router
// processes: an embedded YAML file, then environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DirectoryRedis     = "redis"
	DirectoryFirestore = "firestore"
)

type DirectoryConfig struct {
	Type             string
	RedisAddr        string
	CollectionPrefix string
	// PresenceTTL leases presence records when positive.
	PresenceTTL time.Duration
	Timeout     time.Duration
}

type BusConfig struct {
	AckDeadline     time.Duration
	GroupExpiration time.Duration
	NumWorkers      int
}

type SessionConfig struct {
	PingInterval    time.Duration
	LivenessTimeout time.Duration
	WriteTimeout    time.Duration
	OutboxSize      int
}

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID      string
	EdgePort       string
	RouterPort     string
	EdgeID         string
	LogLevel       string
	AllowedOrigins []string
	Directory      DirectoryConfig
	Bus            BusConfig
	Session        SessionConfig
}

// Load runs both stages on raw YAML bytes.
func Load(data []byte, logger zerolog.Logger) (*AppConfig, error) {
	var yamlCfg YamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration from yaml: %w", err)
	}
	return UpdateConfigWithEnvOverrides(baseCfg, logger)
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a base
// AppConfig, parsing every duration. Environment overrides are not applied yet.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Mapping YAML config to base config struct")

	appCfg := &AppConfig{
		ProjectID:      yamlCfg.ProjectID,
		EdgePort:       yamlCfg.EdgePort,
		RouterPort:     yamlCfg.RouterPort,
		EdgeID:         yamlCfg.EdgeID,
		LogLevel:       yamlCfg.LogLevel,
		AllowedOrigins: yamlCfg.AllowedOrigins,
		Directory: DirectoryConfig{
			Type:             yamlCfg.Directory.Type,
			RedisAddr:        yamlCfg.Directory.Redis.Addr,
			CollectionPrefix: yamlCfg.Directory.Firestore.CollectionPrefix,
		},
		Bus: BusConfig{
			NumWorkers: yamlCfg.Bus.NumWorkers,
		},
		Session: SessionConfig{
			OutboxSize: yamlCfg.Session.OutboxSize,
		},
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"directory.presence_ttl", yamlCfg.Directory.PresenceTTL, &appCfg.Directory.PresenceTTL},
		{"directory.timeout", yamlCfg.Directory.Timeout, &appCfg.Directory.Timeout},
		{"bus.ack_deadline", yamlCfg.Bus.AckDeadline, &appCfg.Bus.AckDeadline},
		{"bus.group_expiration", yamlCfg.Bus.GroupExpiration, &appCfg.Bus.GroupExpiration},
		{"session.ping_interval", yamlCfg.Session.PingInterval, &appCfg.Session.PingInterval},
		{"session.liveness_timeout", yamlCfg.Session.LivenessTimeout, &appCfg.Session.LivenessTimeout},
		{"session.write_timeout", yamlCfg.Session.WriteTimeout, &appCfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	logger.Debug().
		Str("project_id", appCfg.ProjectID).
		Str("edge_port", appCfg.EdgePort).
		Str("router_port", appCfg.RouterPort).
		Str("directory_type", appCfg.Directory.Type).
		Dur("presence_ttl", appCfg.Directory.PresenceTTL).
		Msg("YAML config mapping complete")

	return appCfg, nil
}
