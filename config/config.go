// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the broker.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Queue     QueueConfig     `yaml:"queue"`
	Channel   ChannelConfig   `yaml:"channel"`
	Log       LogConfig       `yaml:"log"`
	Data      DataConfig      `yaml:"data"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Cluster   ClusterConfig   `yaml:"cluster"`
}

// BrokerConfig holds broker identity settings.
type BrokerConfig struct {
	// Name identifies this broker instance in events and logs.
	Name string `yaml:"name"`
}

// QueueConfig holds the default options new queues start with.
type QueueConfig struct {
	Type                 string        `yaml:"type"`        // Push, RoundRobin, Pull
	Acknowledge          string        `yaml:"acknowledge"` // none, just, wait
	AckTimeout           time.Duration `yaml:"ack_timeout"`
	MessageTimeout       time.Duration `yaml:"message_timeout"`
	DelayBetweenMessages time.Duration `yaml:"delay_between_messages"`
	PutBackDelay         time.Duration `yaml:"put_back_delay"`
	MessageLimit         int           `yaml:"message_limit"`
	MessageSizeLimit     int64         `yaml:"message_size_limit"`
	ClientLimit          int           `yaml:"client_limit"`
	AutoDestroy          string        `yaml:"auto_destroy"` // disabled, no-consumers, no-messages, empty
}

// ChannelConfig holds the default options new channels start with.
type ChannelConfig struct {
	ClientLimit      int   `yaml:"client_limit"`
	MessageSizeLimit int64 `yaml:"message_size_limit"`
	AutoDestroy      bool  `yaml:"auto_destroy"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DataConfig locates the persisted topology files.
type DataConfig struct {
	// Dir is where the queues and routers files are written.
	Dir string `yaml:"dir"`
}

// RateLimitConfig limits per-client publish rates.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"` // publishes per second
	Burst   int     `yaml:"burst"`
}

// WebhookConfig configures the event webhook notifier.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Events  []string          `yaml:"events"`
}

// ClusterConfig names a replication mode and node id. Validate checks the
// mode and the entrypoint logs it; the broker always runs with the standalone
// coordinator, and NodeID is not read.
type ClusterConfig struct {
	Mode   string `yaml:"mode"` // standalone, reliable
	NodeID string `yaml:"node_id"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Name: "steed",
		},
		Queue: QueueConfig{
			Type:        "Push",
			Acknowledge: "none",
			AckTimeout:  15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Data: DataConfig{
			Dir: "data",
		},
		RateLimit: RateLimitConfig{
			Rate:  1000,
			Burst: 2000,
		},
		Cluster: ClusterConfig{
			Mode: "standalone",
		},
	}
}

// Load reads and validates a YAML config file, applying defaults for unset
// fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	switch c.Cluster.Mode {
	case "", "standalone", "reliable":
	default:
		return fmt.Errorf("invalid cluster mode %q", c.Cluster.Mode)
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook enabled without url")
	}
	if c.RateLimit.Enabled && c.RateLimit.Rate <= 0 {
		return fmt.Errorf("rate limit enabled with non-positive rate")
	}
	return nil
}
