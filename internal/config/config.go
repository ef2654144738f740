package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration, loaded from <data-dir>/config.yaml.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Model                    string  `yaml:"model"`
	ModelContextWindowTokens int     `yaml:"model_context_window_tokens"`
	CompactionHighWatermark  float64 `yaml:"compaction_high_watermark"`
	CompactionTarget         float64 `yaml:"compaction_target"`

	ShellTimeoutSeconds    int    `yaml:"shell_timeout_seconds"`
	ShellTimeoutMaxSeconds int    `yaml:"shell_timeout_max_seconds"`
	LogLevel               string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:                  DefaultDataDir(),
		Model:                    "gpt-5.1",
		ModelContextWindowTokens: 200000,
		CompactionHighWatermark:  0.82,
		CompactionTarget:         0.58,
		ShellTimeoutSeconds:      120,
		ShellTimeoutMaxSeconds:   1200,
		LogLevel:                 "info",
	}
}

// DefaultDataDir is ~/.loaf (or %USERPROFILE%\.loaf), falling back to the
// temp dir when no home is resolvable.
func DefaultDataDir() string {
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".loaf")
	}
	return filepath.Join(os.TempDir(), ".loaf")
}

// LoadConfig reads path, tolerating a missing file, and backfills zero values
// with defaults. Env overrides are applied last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.ModelContextWindowTokens <= 0 {
		cfg.ModelContextWindowTokens = 200000
	}
	if cfg.CompactionHighWatermark <= 0 {
		cfg.CompactionHighWatermark = 0.82
	}
	if cfg.CompactionTarget <= 0 {
		cfg.CompactionTarget = 0.58
	}
	if cfg.ShellTimeoutSeconds <= 0 {
		cfg.ShellTimeoutSeconds = 120
	}
	if cfg.ShellTimeoutMaxSeconds <= 0 {
		cfg.ShellTimeoutMaxSeconds = 1200
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers LOAF_* environment overrides on top of the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LOAF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOAF_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LOAF_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ModelContextWindowTokens = n
		}
	}
	if v := os.Getenv("LOAF_SHELL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShellTimeoutSeconds = int(d / time.Second)
		}
	}
	if v := os.Getenv("LOAF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Save writes cfg to path, creating parent directories.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
