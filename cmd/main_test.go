package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := initLogger(level)
		if err != nil {
			t.Fatalf("initLogger(%q) failed: %v", level, err)
		}
		logger.Info("log line at " + level)
	}

	if _, err := initLogger("shouting"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetDefaults(t *testing.T) {
	var cfg Config
	setDefaults(&cfg)

	if cfg.Collector.TimeWindow != time.Minute {
		t.Errorf("time_window = %v, want 1m", cfg.Collector.TimeWindow)
	}
	if cfg.Collector.CacheTTL != 30*time.Second {
		t.Errorf("cache_ttl = %v, want 30s", cfg.Collector.CacheTTL)
	}
	if cfg.Collector.BatchSize != 5 || cfg.Collector.FetchConcurrency != 20 {
		t.Errorf("batch/concurrency = %d/%d, want 5/20", cfg.Collector.BatchSize, cfg.Collector.FetchConcurrency)
	}
	if cfg.Dedup.MaxSize != 1000000 || cfg.Dedup.Retention != 24*time.Hour {
		t.Errorf("dedup = %d/%v, want 1000000/24h", cfg.Dedup.MaxSize, cfg.Dedup.Retention)
	}
	if cfg.Server.Address != ":9092" || cfg.Logging.Level != "info" {
		t.Errorf("server/logging = %q/%q", cfg.Server.Address, cfg.Logging.Level)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("aws:\n  region: eu-west-1\ncollector:\n  time_window: 2m\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("region = %q", cfg.AWS.Region)
	}
	if cfg.Collector.TimeWindow != 2*time.Minute {
		t.Errorf("time_window = %v, want 2m", cfg.Collector.TimeWindow)
	}
	// Unset fields still pick up defaults.
	if cfg.Server.Address != ":9092" {
		t.Errorf("address = %q, want :9092", cfg.Server.Address)
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
