// ABOUTME: Configuration loading and parsing for pipedeck
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pipedeck configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agents  AgentsConfig  `yaml:"agents"`
	State   StateConfig   `yaml:"state"`
	Uploads UploadsConfig `yaml:"uploads"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AgentsConfig holds remote agent endpoints and timing configuration
type AgentsConfig struct {
	BuilderURL    string `yaml:"builder_url"`
	InteractorURL string `yaml:"interactor_url"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// StateConfig holds snapshot persistence configuration
type StateConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`

	SaveInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SaveIntervalRaw string `yaml:"save_interval"`
}

// UploadsConfig holds uploaded document storage configuration
type UploadsConfig struct {
	Dir          string `yaml:"dir"`
	RegistryPath string `yaml:"registry_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that have sensible defaults when omitted.
func applyDefaults(cfg *Config) {
	if cfg.State.SaveInterval == 0 {
		cfg.State.SaveInterval = 30 * time.Second
	}
	if cfg.Agents.RequestTimeout == 0 {
		cfg.Agents.RequestTimeout = 60 * time.Second
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = "data/uploads"
	}
	if cfg.Uploads.RegistryPath == "" {
		cfg.Uploads.RegistryPath = "data/uploads.db"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.State.SnapshotPath == "" {
		return fmt.Errorf("state.snapshot_path is required")
	}

	if c.Agents.BuilderURL == "" {
		return fmt.Errorf("agents.builder_url is required")
	}
	if c.Agents.InteractorURL == "" {
		return fmt.Errorf("agents.interactor_url is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.RequestTimeoutRaw != "" {
		cfg.Agents.RequestTimeout, err = time.ParseDuration(cfg.Agents.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Agents.RequestTimeoutRaw, err)
		}
	}

	if cfg.State.SaveIntervalRaw != "" {
		cfg.State.SaveInterval, err = time.ParseDuration(cfg.State.SaveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing save_interval %q: %w", cfg.State.SaveIntervalRaw, err)
		}
	}

	return nil
}
