// Package config loads, defaults and validates the shardfs node
// configuration, and provides factories that turn configuration
// sections into running stores and engines.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration of one shardfs node.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SHARDFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration shape. The
// Config struct contains type-specific sections (e.g. content.filesystem,
// content.s3) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the transport listener settings
	Server ServerConfig `mapstructure:"server"`

	// Cluster describes this node and its peers
	Cluster ClusterConfig `mapstructure:"cluster"`

	// Engine selects and configures the storage engine
	Engine EngineConfig `mapstructure:"engine"`

	// Content specifies the blob store type and type-specific configuration
	Content ContentConfig `mapstructure:"content"`

	// Metadata specifies the metadata store type and type-specific configuration
	Metadata MetadataConfig `mapstructure:"metadata"`

	// GC controls orphaned blob collection for the local engine
	GC GCConfig `mapstructure:"gc"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains the transport listener settings.
type ServerConfig struct {
	// ListenAddress is the host:port the RPC listener binds to
	ListenAddress string `mapstructure:"listen_address" validate:"required"`

	// IdleTimeout closes connections with no complete request for this long
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`

	// ReadTimeout bounds how long reading a single frame may take
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// RateLimit caps sustained requests per second across all
	// connections; 0 disables the cap
	RateLimit uint `mapstructure:"rate_limit" validate:"gte=0"`

	// RateBurst is the token bucket capacity for request spikes
	// Defaults to RateLimit when 0
	RateBurst uint `mapstructure:"rate_burst" validate:"gte=0"`
}

// ClusterConfig describes this node's identity and the cluster membership.
//
// Every node must carry the same member list (including itself) or
// routing tables would disagree between nodes.
type ClusterConfig struct {
	// Address is this node's advertised address, as it appears in Members
	Address string `mapstructure:"address" validate:"required"`

	// Members lists the advertised addresses of every cluster node
	Members []string `mapstructure:"members" validate:"required,min=1,dive,required"`
}

// EngineConfig selects the storage engine.
type EngineConfig struct {
	// Type specifies which engine implementation to use
	// Valid values: local (blob-backed), block (raw block device)
	Type string `mapstructure:"type" validate:"required,oneof=local block"`

	// Block contains block-engine configuration
	// Only used when Type = "block"
	Block map[string]any `mapstructure:"block"`
}

// ContentConfig specifies blob store configuration.
//
// Only used by the local engine; the block engine writes straight to its
// device and ignores this section.
type ContentConfig struct {
	// Type specifies which blob store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// GCConfig controls the background garbage collector.
//
// Only used by the local engine; the block engine frees extents
// transactionally and has no orphans to collect.
type GCConfig struct {
	// Enabled turns background collection on
	Enabled bool `mapstructure:"enabled"`

	// Interval between collection runs
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`

	// BatchSize bounds how many orphans are deleted per batch
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`

	// DryRun logs what would be deleted without deleting
	DryRun bool `mapstructure:"dry_run"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port the metrics server listens on
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// MetadataConfig specifies metadata store configuration.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SHARDFS_ prefix and underscores.
	// Example: SHARDFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SHARDFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/shardfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is acceptable; defaults and env still apply
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// Same for an explicitly named file that does not exist
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shardfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "shardfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
