package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// minGroupExpiration is the shortest subscription expiration Pub/Sub accepts.
const minGroupExpiration = 24 * time.Hour

// Edge ids end up inside topic names.
var edgeIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,62}$`)

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	strOverrides := []struct {
		env string
		dst *string
	}{
		{"GCP_PROJECT_ID", &cfg.ProjectID},
		{"EDGE_PORT", &cfg.EdgePort},
		{"ROUTER_PORT", &cfg.RouterPort},
		{"EDGE_ID", &cfg.EdgeID},
		{"REDIS_ADDR", &cfg.Directory.RedisAddr},
		{"DIRECTORY_TYPE", &cfg.Directory.Type},
		{"LOG_LEVEL", &cfg.LogLevel},
	}
	for _, o := range strOverrides {
		if v := os.Getenv(o.env); v != "" {
			logger.Debug().Str("key", o.env).Str("source", "env").Msg("Overriding config value")
			*o.dst = v
		}
	}

	if ttl := os.Getenv("PRESENCE_TTL"); ttl != "" {
		logger.Debug().Str("key", "PRESENCE_TTL").Str("source", "env").Msg("Overriding config value")
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("PRESENCE_TTL is not a valid duration: %w", err)
		}
		cfg.Directory.PresenceTTL = parsed
	}

	if workers := os.Getenv("NUM_WORKERS"); workers != "" {
		logger.Debug().Str("key", "NUM_WORKERS").Str("source", "env").Msg("Overriding config value")
		n, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("NUM_WORKERS is not a number: %w", err)
		}
		cfg.Bus.NumWorkers = n
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		logger.Debug().Str("key", "ALLOWED_ORIGINS").Str("source", "env").Msg("Overriding config value")
		// Split by comma and trim spaces
		var cleanOrigins []string
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.Directory.Type == "" {
		cfg.Directory.Type = DirectoryRedis
	}
	if cfg.EdgeID == "" {
		cfg.EdgeID = "edge-" + uuid.NewString()
		logger.Debug().Str("edge_id", cfg.EdgeID).Msg("No edge id configured, generated one")
	}

	// 3. Final Validation
	if cfg.ProjectID == "" {
		logger.Error().Str("error", "GCP_PROJECT_ID is not set").Msg("Final config validation failed")
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}
	switch cfg.Directory.Type {
	case DirectoryRedis:
		if cfg.Directory.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is not set in config or env var")
		}
	case DirectoryFirestore:
	default:
		return nil, fmt.Errorf("DIRECTORY_TYPE %q is not one of %q, %q", cfg.Directory.Type, DirectoryRedis, DirectoryFirestore)
	}
	if !edgeIDPattern.MatchString(cfg.EdgeID) {
		return nil, fmt.Errorf("EDGE_ID %q must start with a letter and contain only letters, digits, '-' or '_'", cfg.EdgeID)
	}
	if cfg.Directory.PresenceTTL < 0 {
		return nil, fmt.Errorf("PRESENCE_TTL cannot be negative")
	}
	if cfg.Bus.GroupExpiration != 0 && cfg.Bus.GroupExpiration < minGroupExpiration {
		return nil, fmt.Errorf("bus.group_expiration must be zero or at least %s", minGroupExpiration)
	}
	if cfg.Bus.NumWorkers < 0 {
		return nil, fmt.Errorf("NUM_WORKERS cannot be negative")
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}

// ParseLogLevel maps a config level name onto zerolog, defaulting to info.
func ParseLogLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}
