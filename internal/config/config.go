package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string          `yaml:"node_id"`
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	MaxConnections  int             `yaml:"max_connections"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxLineBytes    int             `yaml:"max_line_bytes"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles commands per connection. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// HealthConfig holds health checking configuration
type HealthConfig struct {
	GRPCEnabled   bool          `yaml:"grpc_enabled"`
	GRPCPort      int           `yaml:"grpc_port"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Config represents the complete configuration for a store server
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Health  HealthConfig  `yaml:"health"`
	Gossip  GossipConfig  `yaml:"gossip"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientSettings holds replication client tuning
type ClientSettings struct {
	ReplicationFactor int           `yaml:"replication_factor"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
}

// ClientConfig represents the complete configuration for the replication client
type ClientConfig struct {
	Client      ClientSettings `yaml:"client"`
	ServersFile string         `yaml:"servers_file"`
	DataFile    string         `yaml:"data_file"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// LoadConfig loads server configuration from a file. An empty path yields
// the defaults.
func LoadConfig(filePath string) (*Config, error) {
	var cfg Config
	if err := readYAML(filePath, &cfg); err != nil {
		return nil, err
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	return &cfg, nil
}

// LoadClientConfig loads client configuration from a file. An empty path
// yields the defaults.
func LoadClientConfig(filePath string) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := readYAML(filePath, &cfg); err != nil {
		return nil, err
	}

	setClientDefaults(&cfg)

	return &cfg, nil
}

func readYAML(filePath string, out interface{}) error {
	if filePath == "" {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = fmt.Sprintf("triekv-%d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 10 * time.Minute
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxLineBytes == 0 {
		cfg.Server.MaxLineBytes = 16 * 1024 * 1024 // 16MB
	}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = int(cfg.Server.RateLimit.RequestsPerSecond)
		if cfg.Server.RateLimit.Burst < 1 {
			cfg.Server.RateLimit.Burst = 1
		}
	}

	if cfg.Health.GRPCPort == 0 {
		cfg.Health.GRPCPort = 9091
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 10 * time.Second
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	setLoggingDefaults(&cfg.Logging)
}

func setClientDefaults(cfg *ClientConfig) {
	if cfg.Client.ReplicationFactor == 0 {
		cfg.Client.ReplicationFactor = 1
	}
	if cfg.Client.DialTimeout == 0 {
		cfg.Client.DialTimeout = 5 * time.Second
	}
	if cfg.Client.RequestTimeout == 0 {
		cfg.Client.RequestTimeout = 10 * time.Second
	}
	if cfg.Client.ProbeTimeout == 0 {
		cfg.Client.ProbeTimeout = time.Second
	}

	setLoggingDefaults(&cfg.Logging)
}

func setLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be positive")
	}
	if c.Server.MaxLineBytes < 64 {
		return fmt.Errorf("server.max_line_bytes must be at least 64")
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	if c.Health.GRPCEnabled && (c.Health.GRPCPort < 1 || c.Health.GRPCPort > 65535) {
		return fmt.Errorf("health.grpc_port must be between 1 and 65535")
	}
	return validateLogging(c.Logging)
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.Client.ReplicationFactor < 1 {
		return fmt.Errorf("client.replication_factor must be at least 1")
	}
	if c.ServersFile == "" {
		return fmt.Errorf("servers_file is required")
	}
	if c.Client.ProbeTimeout <= 0 {
		return fmt.Errorf("client.probe_timeout must be positive")
	}
	return validateLogging(c.Logging)
}

func validateLogging(cfg LoggingConfig) error {
	switch cfg.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
