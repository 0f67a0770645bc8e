package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server       ServerConfig          `yaml:"server"`
	Registry     domain.RegistryConfig `yaml:"registry"`
	Balancer     domain.BalancerConfig `yaml:"balancer"`
	Scaler       ScalerConfig          `yaml:"scaler"`
	Orchestrator OrchestratorConfig    `yaml:"orchestrator"`
	RateLimit    RateLimitConfig       `yaml:"rate_limit"`
	Auth         AuthConfig            `yaml:"auth"`
	TLS          TLSConfig             `yaml:"tls"`
	Metrics      MetricsConfig         `yaml:"metrics"`
	Logging      LoggingConfig         `yaml:"logging"`
}

// ServerConfig contains HTTP server specific configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ScalerConfig contains autoscaler configuration plus the service names
// it monitors
type ScalerConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Services []string            `yaml:"services"`
	Policy   domain.ScalerConfig `yaml:",inline"`
}

// OrchestratorConfig contains container platform connection settings
type OrchestratorConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	ServiceLabel   string        `yaml:"service_label"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RateLimitConfig contains API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// AuthConfig contains JWT authentication configuration for mutating
// admin endpoints
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Algorithm     string `yaml:"algorithm"`
	SecretKey     string `yaml:"secret_key"`
	PublicKeyPath string `yaml:"public_key_path"`
}

// TLSConfig contains TLS settings for the API server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig contains metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8500,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Registry: domain.RegistryConfig{
			HeartbeatInterval:  30 * time.Second,
			CleanupInterval:    60 * time.Second,
			InstanceTimeout:    90 * time.Second,
			HealthCheckTimeout: 5 * time.Second,
			WatchBufferSize:    64,
		},
		Balancer: domain.BalancerConfig{
			HealthCheckInterval: 30 * time.Second,
			HealthCheckTimeout:  5 * time.Second,
		},
		Scaler: ScalerConfig{
			Enabled:  false,
			Services: nil,
			Policy: domain.ScalerConfig{
				MinInstances:      1,
				MaxInstances:      10,
				CPUThreshold:      70,
				MemoryThreshold:   80,
				ScaleUpCooldown:   300 * time.Second,
				ScaleDownCooldown: 600 * time.Second,
				PollInterval:      60 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			Endpoint:       "unix:///var/run/docker.sock",
			ServiceLabel:   "controlplane.service",
			RequestTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Auth: AuthConfig{
			Enabled:   false,
			Algorithm: "HS256",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Load resolves configuration from CP_CONFIG_FILE when set, otherwise
// from defaults, and applies environment overrides in both cases
func Load() (*Config, error) {
	var (
		cfg *Config
		err error
	)

	if file := os.Getenv("CP_CONFIG_FILE"); file != "" {
		cfg, err = LoadFromFile(file)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultConfig()
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides selected settings from environment variables
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("CP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if level := os.Getenv("CP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if endpoint := os.Getenv("CP_ORCHESTRATOR_ENDPOINT"); endpoint != "" {
		c.Orchestrator.Endpoint = endpoint
	}

	if secret := os.Getenv("CP_JWT_SECRET"); secret != "" {
		c.Auth.SecretKey = secret
	}
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Registry.HeartbeatInterval <= 0 {
		return fmt.Errorf("registry.heartbeat_interval must be positive")
	}
	if c.Registry.CleanupInterval <= 0 {
		return fmt.Errorf("registry.cleanup_interval must be positive")
	}
	if c.Registry.InstanceTimeout <= 0 {
		return fmt.Errorf("registry.instance_timeout must be positive")
	}
	if c.Registry.HealthCheckTimeout <= 0 {
		return fmt.Errorf("registry.health_check_timeout must be positive")
	}
	if c.Registry.WatchBufferSize <= 0 {
		return fmt.Errorf("registry.watch_buffer_size must be positive")
	}

	if c.Balancer.HealthCheckInterval <= 0 {
		return fmt.Errorf("balancer.health_check_interval must be positive")
	}
	if c.Balancer.HealthCheckTimeout <= 0 {
		return fmt.Errorf("balancer.health_check_timeout must be positive")
	}

	if c.Scaler.Enabled {
		p := c.Scaler.Policy
		if p.MinInstances < 0 {
			return fmt.Errorf("scaler.min_instances cannot be negative")
		}
		if p.MaxInstances < p.MinInstances {
			return fmt.Errorf("scaler.max_instances must be >= min_instances")
		}
		if p.CPUThreshold <= 0 || p.CPUThreshold > 100 {
			return fmt.Errorf("scaler.cpu_threshold must be in (0, 100]")
		}
		if p.MemoryThreshold <= 0 || p.MemoryThreshold > 100 {
			return fmt.Errorf("scaler.memory_threshold must be in (0, 100]")
		}
		if p.ScaleUpCooldown <= 0 || p.ScaleDownCooldown <= 0 {
			return fmt.Errorf("scaler cooldowns must be positive")
		}
		if p.PollInterval <= 0 {
			return fmt.Errorf("scaler.poll_interval must be positive")
		}
		if len(c.Scaler.Services) == 0 {
			return fmt.Errorf("scaler.services cannot be empty when the scaler is enabled")
		}
		if c.Orchestrator.Endpoint == "" {
			return fmt.Errorf("orchestrator.endpoint cannot be empty when the scaler is enabled")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.burst_size must be positive")
		}
	}

	if c.Auth.Enabled {
		switch c.Auth.Algorithm {
		case "HS256":
			if c.Auth.SecretKey == "" {
				return fmt.Errorf("auth.secret_key is required for HS256")
			}
		case "RS256":
			if c.Auth.PublicKeyPath == "" {
				return fmt.Errorf("auth.public_key_path is required for RS256")
			}
		default:
			return fmt.Errorf("unsupported auth algorithm: %s", c.Auth.Algorithm)
		}
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
