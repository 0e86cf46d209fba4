// Package config loads Ocular's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Ocular configuration.
type Config struct {
	Listen      string          `yaml:"listen"`
	DBPath      string          `yaml:"db_path"`
	MaxBodySize int64           `yaml:"max_body_size"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Retention   RetentionConfig `yaml:"retention"`
}

// UpstreamConfig bounds how long the Proxy Server waits on the
// upstream connection.
type UpstreamConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	TotalTimeout   time.Duration `yaml:"total_timeout"`
}

// RetentionConfig controls the Request Log Store's background sweep.
type RetentionConfig struct {
	Window time.Duration `yaml:"window"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8008",
		DBPath:      "ocular.db",
		MaxBodySize: 32 << 20, // 32 MiB, per the request-body DLP buffering cap
		Upstream: UpstreamConfig{
			ConnectTimeout: 10 * time.Second,
			IdleTimeout:    120 * time.Second,
			TotalTimeout:   600 * time.Second,
		},
		Retention: RetentionConfig{
			Window: 7 * 24 * time.Hour,
		},
	}
}

// Load reads a YAML config file and expands environment variables,
// so upstream API keys can be supplied via $ENV_VAR references instead
// of living in the file on disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
