// Package config defines the service configuration and its loading from
// files, environment variables and flags.
package config

import (
	"fmt"
)

// Config is the complete configuration for the pagelens service. It loads
// from configuration files, environment variables (PAGELENS_ prefix), and
// command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend" json:"backend"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host" json:"host"`
	Port               int    `mapstructure:"port" yaml:"port" json:"port"`
	AuthToken          string `mapstructure:"auth_token" yaml:"auth_token" json:"auth_token"`
	CORSOrigin         string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB        int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec         int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout    int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// BackendConfig points at the model inference service.
type BackendConfig struct {
	URL         string `mapstructure:"url" yaml:"url" json:"url"`
	Token       string `mapstructure:"token" yaml:"token" json:"token"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	MaxInflight int    `mapstructure:"max_inflight" yaml:"max_inflight" json:"max_inflight"`
	JPEGQuality int    `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

// PipelineConfig contains processing settings that are not per-request.
type PipelineConfig struct {
	Workers              int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	PreferMarkdownTables bool `mapstructure:"prefer_markdown_tables" yaml:"prefer_markdown_tables" json:"prefer_markdown_tables"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Verbose:  false,
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			CORSOrigin:         "*",
			MaxUploadMB:        100,
			TimeoutSec:         300,
			ShutdownTimeout:    10,
			RateLimitPerMinute: 0, // disabled
		},
		Backend: BackendConfig{
			URL:         "http://localhost:9000",
			TimeoutSec:  60,
			MaxInflight: 8,
			JPEGQuality: 90,
		},
		Pipeline: PipelineConfig{
			Workers:              0, // 0 = NumCPU
			PreferMarkdownTables: false,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("timeout_sec must be positive, got %d", c.Server.TimeoutSec)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url must be set")
	}
	if c.Backend.MaxInflight < 0 {
		return fmt.Errorf("backend max_inflight must not be negative, got %d", c.Backend.MaxInflight)
	}
	if c.Backend.JPEGQuality < 0 || c.Backend.JPEGQuality > 100 {
		return fmt.Errorf("backend jpeg_quality %d outside [0,100]", c.Backend.JPEGQuality)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline workers must not be negative, got %d", c.Pipeline.Workers)
	}
	return nil
}
