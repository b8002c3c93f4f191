// Package config loads the pixcrypt configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/bodgit/pixcrypt/payment"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// Config holds the full configuration
type Config struct {
	// Endpoint is the base URL of the encryption and payment services
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// Sessions is the session store, ":memory:" keeps nothing on disk
	Sessions      string         `yaml:"sessions"`
	SessionMaxAge time.Duration  `yaml:"session_max_age"`
	Payment       payment.Config `yaml:"payment"`
	LogLevel      string         `yaml:"log_level"`
	Server        Server         `yaml:"server"`
}

// Server configures the bundled service
type Server struct {
	Listen      string `yaml:"listen"`
	DB          string `yaml:"db"`
	Secret      string `yaml:"secret"`
	Price       string `yaml:"price"`
	AutoConfirm int    `yaml:"auto_confirm"`
	PublicURL   string `yaml:"public_url"`
}

// Default returns the configuration used when there is no file
func Default() *Config {
	return &Config{
		Endpoint:      "http://localhost:8080",
		Timeout:       30 * time.Second,
		Sessions:      ":memory:",
		SessionMaxAge: time.Hour,
		Payment:       payment.DefaultConfig(),
		LogLevel:      "warn",
		Server: Server{
			Listen: ":8080",
			DB:     ":memory:",
			Price:  "$0.60",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the values are usable
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: endpoint %q is not an http(s) URL", c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	if c.Sessions == "" {
		return fmt.Errorf("config: sessions is required")
	}
	if c.Payment.Interval <= 0 {
		return fmt.Errorf("config: payment interval must be > 0")
	}
	if c.Payment.MaxAttempts <= 0 {
		return fmt.Errorf("config: payment max_attempts must be > 0")
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.Server.AutoConfirm < 0 {
		return fmt.Errorf("config: server auto_confirm must not be negative")
	}
	return nil
}
