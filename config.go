package kvsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/suyash-sneo/kvsync/backend/redis"
	"github.com/suyash-sneo/kvsync/bridge"
	"github.com/suyash-sneo/kvsync/serializer"
)

// Config controls codec choice and cross-context behavior.
type Config struct {
	// Serializer names the default codec for views: json, gob or yaml.
	Serializer string `yaml:"serializer"`

	// ReconnectBackoff paces resubscribing after the change stream drops.
	ReconnectBackoff bridge.Backoff `yaml:"reconnectBackoff"`

	// ContextPrefix is prepended to generated context ids.
	ContextPrefix string `yaml:"contextPrefix"`

	// Redis configures the Redis backend when one is used.
	Redis redis.Options `yaml:"redis"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Serializer: "json",
		ReconnectBackoff: bridge.Backoff{
			Base:        250 * time.Millisecond,
			Max:         15 * time.Second,
			Multiplier:  2.0,
			JitterRatio: 0.2,
		},
		ContextPrefix: "kvsync",
		Redis: redis.Options{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "kvsync:",
			Channel:   "changes",
		},
	}
}

// Validate ensures config values are safe.
func (c Config) Validate() error {
	if _, err := serializer.ByName(c.Serializer); err != nil {
		return fmt.Errorf("Serializer invalid: %w", err)
	}
	if err := c.ReconnectBackoff.Validate(); err != nil {
		return fmt.Errorf("ReconnectBackoff invalid: %w", err)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("Redis.DB cannot be negative")
	}
	if c.Redis.MaxValueBytes < 0 {
		return fmt.Errorf("Redis.MaxValueBytes cannot be negative")
	}
	if len(c.Redis.SentinelAddrs) > 0 && c.Redis.SentinelMaster == "" {
		return fmt.Errorf("Redis.SentinelMaster is required with SentinelAddrs")
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
