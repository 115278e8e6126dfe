package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewAppConfig_IsValid(t *testing.T) {
	cfg := NewAppConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.QueueDefaults.RetryCount != 5 {
		t.Errorf("RetryCount: want 5, got %d", cfg.QueueDefaults.RetryCount)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalRegion != NewAppConfig().LocalRegion {
		t.Errorf("LocalRegion: want default, got %q", cfg.LocalRegion)
	}
}

func TestLoad_OverlaysYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qakka.yaml")
	body := `
local_region: eu-west
regions: [eu-west, us-east]
queue_defaults:
  handling_timeout_ms: 10000
  retry_count: 2
shards:
  max_size: 50
cache:
  enabled: true
server:
  timeouts:
    idle: 90s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalRegion != "eu-west" {
		t.Errorf("LocalRegion: want eu-west, got %q", cfg.LocalRegion)
	}
	if len(cfg.Regions) != 2 {
		t.Errorf("Regions: want 2, got %v", cfg.Regions)
	}
	if cfg.QueueDefaults.HandlingTimeoutMs != 10000 {
		t.Errorf("HandlingTimeoutMs: want 10000, got %d", cfg.QueueDefaults.HandlingTimeoutMs)
	}
	if cfg.QueueDefaults.RetryCount != 2 {
		t.Errorf("RetryCount: want 2, got %d", cfg.QueueDefaults.RetryCount)
	}
	if cfg.Shards.MaxSize != 50 {
		t.Errorf("Shards.MaxSize: want 50, got %d", cfg.Shards.MaxSize)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled: want true")
	}
	if cfg.ServerConfig.Timeouts.Idle != 90*time.Second {
		t.Errorf("Idle timeout: want 90s, got %v", cfg.ServerConfig.Timeouts.Idle)
	}
	// untouched fields keep their defaults
	if cfg.Counters.MaxInMemory != NewAppConfig().Counters.MaxInMemory {
		t.Errorf("Counters.MaxInMemory: want default, got %d", cfg.Counters.MaxInMemory)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QAKKA_REGION", "ap-south")
	t.Setenv("QAKKA_DATA_DIR", "/tmp/qakka-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalRegion != "ap-south" {
		t.Errorf("LocalRegion: want ap-south, got %q", cfg.LocalRegion)
	}
	if !cfg.IsKnownRegion("ap-south") {
		t.Error("local region should be added to the known regions")
	}
	if cfg.DataDir != "/tmp/qakka-test" {
		t.Errorf("DataDir: got %q", cfg.DataDir)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *AppConfigs)
	}{
		{"unknown env", func(c *AppConfigs) { c.Env = "staging" }},
		{"empty region", func(c *AppConfigs) { c.LocalRegion = "" }},
		{"zero handling timeout", func(c *AppConfigs) { c.QueueDefaults.HandlingTimeoutMs = 0 }},
		{"negative retries", func(c *AppConfigs) { c.QueueDefaults.RetryCount = -1 }},
		{"zero shard size", func(c *AppConfigs) { c.Shards.MaxSize = 0 }},
		{"zero counter threshold", func(c *AppConfigs) { c.Counters.MaxInMemory = 0 }},
		{"cache without size", func(c *AppConfigs) { c.Cache.Enabled = true; c.Cache.Size = 0 }},
		{"rate limit without burst", func(c *AppConfigs) { c.ServerConfig.RateLimit.RequestsPerSecond = 10 }},
		{"negative rate limit", func(c *AppConfigs) { c.ServerConfig.RateLimit.RequestsPerSecond = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewAppConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
