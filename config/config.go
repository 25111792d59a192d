package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Raft    RaftConfig    `mapstructure:"raft"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig contains gRPC server configuration
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxMessageSize int    `mapstructure:"max_message_size"`
}

// Address returns host:port
func (s ServerConfig) Address() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// StorageConfig contains storage-related configuration
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// ClusterConfig contains controller configuration
type ClusterConfig struct {
	NodeID   int32  `mapstructure:"node_id"`
	BindAddr string `mapstructure:"bind_addr"`
	// AdvertiseAddr is the rpc address peers use to reach this node.
	// Defaults to the server address.
	AdvertiseAddr string        `mapstructure:"advertise_addr"`
	Bootstrap     bool          `mapstructure:"bootstrap"`
	JoinAddresses []string      `mapstructure:"join_addresses"`
	DataDir       string        `mapstructure:"data_dir"`
	Replicas      int           `mapstructure:"replicas"`
	ApplyTimeout  time.Duration `mapstructure:"apply_timeout"`
}

// RaftConfig contains heartbeat configuration for hosted groups
type RaftConfig struct {
	HeartbeatInterval         time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout          time.Duration `mapstructure:"heartbeat_timeout"`
	ReconnectThreshold        int           `mapstructure:"reconnect_threshold"`
	ClearSuppressionOnTimeout bool          `mapstructure:"clear_suppression_on_timeout"`
	Compression               string        `mapstructure:"compression"`
	MinCompressionBytes       int           `mapstructure:"min_compression_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment. Environment
// variables use the RAFTD_ prefix, e.g. RAFTD_RAFT_HEARTBEAT_INTERVAL.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/raftd")
	}

	setDefaults(v)

	v.SetEnvPrefix("RAFTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.max_message_size", 4*1024*1024)

	// Storage defaults
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.data_dir", "./data")

	// Cluster defaults
	v.SetDefault("cluster.node_id", 0)
	v.SetDefault("cluster.bind_addr", "")
	v.SetDefault("cluster.advertise_addr", "")
	v.SetDefault("cluster.bootstrap", false)
	v.SetDefault("cluster.join_addresses", []string{})
	v.SetDefault("cluster.data_dir", "./cluster")
	v.SetDefault("cluster.replicas", 3)
	v.SetDefault("cluster.apply_timeout", "5s")

	// Raft defaults
	v.SetDefault("raft.heartbeat_interval", "150ms")
	v.SetDefault("raft.heartbeat_timeout", "3s")
	v.SetDefault("raft.reconnect_threshold", 3)
	v.SetDefault("raft.clear_suppression_on_timeout", false)
	v.SetDefault("raft.compression", "none")
	v.SetDefault("raft.min_compression_bytes", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 8080)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration and fills in derived addresses. Call it
// again after changing fields of a loaded config.
func (c *Config) Validate() error { return validateConfig(c) }

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)
	config.Cluster.DataDir = filepath.Clean(config.Cluster.DataDir)

	switch config.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be badger or memory, got %q", config.Storage.Backend)
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if config.Metrics.Enabled && (config.Metrics.Port < 1 || config.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	if config.Cluster.NodeID < 0 {
		return fmt.Errorf("cluster.node_id must not be negative")
	}
	if config.Cluster.BindAddr == "" {
		config.Cluster.BindAddr = fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port+1000)
	}
	if config.Cluster.AdvertiseAddr == "" {
		config.Cluster.AdvertiseAddr = config.Server.Address()
	}
	if config.Cluster.Replicas < 1 {
		return fmt.Errorf("cluster.replicas must be positive")
	}

	if config.Raft.HeartbeatInterval <= 0 {
		return fmt.Errorf("raft.heartbeat_interval must be positive")
	}
	if config.Raft.HeartbeatTimeout <= 0 {
		return fmt.Errorf("raft.heartbeat_timeout must be positive")
	}
	switch config.Raft.Compression {
	case "none", "gzip":
	default:
		return fmt.Errorf("raft.compression must be none or gzip, got %q", config.Raft.Compression)
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = validateConfig(&config)

	return &config
}
