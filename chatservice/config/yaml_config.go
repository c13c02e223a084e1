package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlFirestoreConfig struct {
	CollectionPrefix string `yaml:"collection_prefix"`
}

// YamlDirectoryConfig selects and tunes the presence directory backend.
type YamlDirectoryConfig struct {
	Type        string              `yaml:"type"` // "redis" or "firestore"
	Redis       YamlRedisConfig     `yaml:"redis"`
	Firestore   YamlFirestoreConfig `yaml:"firestore"`
	PresenceTTL string              `yaml:"presence_ttl"`
	Timeout     string              `yaml:"timeout"`
}

type YamlBusConfig struct {
	AckDeadline     string `yaml:"ack_deadline"`
	GroupExpiration string `yaml:"group_expiration"`
	NumWorkers      int    `yaml:"num_workers"`
}

type YamlSessionConfig struct {
	PingInterval    string `yaml:"ping_interval"`
	LivenessTimeout string `yaml:"liveness_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	OutboxSize      int    `yaml:"outbox_size"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID      string              `yaml:"project_id"`
	EdgePort       string              `yaml:"edge_port"`
	RouterPort     string              `yaml:"router_port"`
	EdgeID         string              `yaml:"edge_id"`
	LogLevel       string              `yaml:"log_level"`
	AllowedOrigins []string            `yaml:"allowed_origins"`
	Directory      YamlDirectoryConfig `yaml:"directory"`
	Bus            YamlBusConfig       `yaml:"bus"`
	Session        YamlSessionConfig   `yaml:"session"`
}
