package kvsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serializer = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown serializer")
	}

	cfg = DefaultConfig()
	cfg.ReconnectBackoff.Multiplier = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for shrinking backoff")
	}

	cfg = DefaultConfig()
	cfg.Redis.SentinelAddrs = []string{"10.0.0.1:26379"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for sentinel without master")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvsync.yaml")
	data := []byte(`serializer: yaml
reconnectBackoff:
  base: 100ms
  max: 5s
  multiplier: 3
redis:
  addr: redis.internal:6379
  keyPrefix: "app:"
  maxValueBytes: 5242880
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serializer != "yaml" {
		t.Fatalf("unexpected serializer %q", cfg.Serializer)
	}
	if cfg.ReconnectBackoff.Base != 100*time.Millisecond || cfg.ReconnectBackoff.Max != 5*time.Second {
		t.Fatalf("unexpected backoff %+v", cfg.ReconnectBackoff)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.KeyPrefix != "app:" || cfg.Redis.MaxValueBytes != 5242880 {
		t.Fatalf("unexpected redis options %+v", cfg.Redis)
	}
	if cfg.Redis.Channel != "changes" {
		t.Fatalf("expected unset fields to keep defaults, got channel %q", cfg.Redis.Channel)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
