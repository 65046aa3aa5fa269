package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled inside the factory functions
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyClusterDefaults(&cfg.Cluster, cfg.Server.ListenAddress)
	applyEngineDefaults(&cfg.Engine)
	applyContentDefaults(&cfg.Content)
	applyMetadataDefaults(&cfg.Metadata)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets transport listener defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":9530"
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyClusterDefaults sets cluster defaults for single-node operation.
func applyClusterDefaults(cfg *ClusterConfig, listenAddress string) {
	if cfg.Address == "" {
		cfg.Address = listenAddress
	}
	if len(cfg.Members) == 0 {
		cfg.Members = []string{cfg.Address}
	}
}

// applyEngineDefaults sets engine defaults.
func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}
	if cfg.Block == nil {
		cfg.Block = make(map[string]any)
	}
}

// applyContentDefaults sets blob store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/var/lib/shardfs/content"
	}
}

// applyMetadataDefaults sets metadata store defaults.
func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/shardfs/metadata"
	}
}

// applyGCDefaults sets garbage collection defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
}

// applyMetricsDefaults sets metrics endpoint defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
