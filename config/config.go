// Package config provides configuration types for the Forge KB service:
// the service-level YAML config loaded at startup, and the AgentConfig
// entity stored per saved agent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultChatURL is used when no chat backend is configured in settings.
	DefaultChatURL = "http://localhost:8010/v1"
	// DefaultEmbedURL is used when no embedding backend is configured in settings.
	DefaultEmbedURL = "http://localhost:8011/v1"
)

// Config is the service configuration loaded from YAML at startup.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backends BackendConfig  `yaml:"backends"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the listen address in host:port form.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	URL string `yaml:"url"`
	// MaxConns caps the pool. The service runs with 10 base connections and
	// 20 overflow; pgxpool expresses this as a single ceiling.
	MaxConns int32 `yaml:"max_conns"`
	MinConns int32 `yaml:"min_conns"`
}

// BackendConfig holds default upstream URLs. Runtime values are resolved
// through app_settings on every request; these are the last-resort fallbacks.
type BackendConfig struct {
	ChatURL  string `yaml:"chat_url"`
	EmbedURL string `yaml:"embed_url"`
}

// SetDefaults fills zero-valued fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 30
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}
	if c.Backends.ChatURL == "" {
		c.Backends.ChatURL = DefaultChatURL
	}
	if c.Backends.EmbedURL == "" {
		c.Backends.EmbedURL = DefaultEmbedURL
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	return nil
}

// Load reads a YAML config file, expanding ${VAR} and ${VAR:-default}
// environment references before parsing.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := ExpandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
