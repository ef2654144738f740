package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ModelContextWindowTokens != 200000 {
		t.Fatalf("window = %d", cfg.ModelContextWindowTokens)
	}
	if cfg.CompactionHighWatermark != 0.82 || cfg.CompactionTarget != 0.58 {
		t.Fatalf("ratios = %v/%v", cfg.CompactionHighWatermark, cfg.CompactionTarget)
	}
	if cfg.ShellTimeoutSeconds != 120 || cfg.ShellTimeoutMaxSeconds != 1200 {
		t.Fatalf("timeouts = %d/%d", cfg.ShellTimeoutSeconds, cfg.ShellTimeoutMaxSeconds)
	}
}

func TestLoadConfigBackfillsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "model: custom-model\nshell_timeout_seconds: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "custom-model" {
		t.Fatalf("model = %q", cfg.Model)
	}
	if cfg.ShellTimeoutSeconds != 120 {
		t.Fatalf("zero timeout not backfilled: %d", cfg.ShellTimeoutSeconds)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOAF_MODEL", "env-model")
	t.Setenv("LOAF_CONTEXT_WINDOW", "4096")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "env-model" {
		t.Fatalf("model = %q", cfg.Model)
	}
	if cfg.ModelContextWindowTokens != 4096 {
		t.Fatalf("window = %d", cfg.ModelContextWindowTokens)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Model = "saved-model"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Model != "saved-model" {
		t.Fatalf("model = %q", loaded.Model)
	}
}
