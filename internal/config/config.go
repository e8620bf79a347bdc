package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL         string
	PollInterval      time.Duration
	InactivityTimeout time.Duration
	PageSize          int
	StateDir          string
	LogLevel          string
	LogFormat         string
	MetricsAddr       string
}

// fileConfig is the on-disk YAML shape. Durations are strings in Go duration
// syntax ("10s", "15m").
type fileConfig struct {
	ServerURL         string `yaml:"server_url"`
	PollInterval      string `yaml:"poll_interval"`
	InactivityTimeout string `yaml:"inactivity_timeout"`
	PageSize          *int   `yaml:"page_size"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	MetricsAddr       string `yaml:"metrics_addr"`
}

// DefaultConfig returns the built-in defaults. StateDir resolves from
// STUDYBOARD_STATE_DIR, falling back to ~/.studyboard.
func DefaultConfig() *Config {
	stateDir := os.Getenv("STUDYBOARD_STATE_DIR")
	if stateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			stateDir = filepath.Join(home, ".studyboard")
		}
	}

	return &Config{
		ServerURL:         getEnv("STUDYBOARD_SERVER_URL", ""),
		PollInterval:      10 * time.Second,
		InactivityTimeout: 15 * time.Minute,
		PageSize:          20,
		StateDir:          stateDir,
		LogLevel:          getEnv("STUDYBOARD_LOG_LEVEL", "info"),
		LogFormat:         getEnv("STUDYBOARD_LOG_FORMAT", "text"),
		MetricsAddr:       getEnv("STUDYBOARD_METRICS_ADDR", ""),
	}
}

// Load builds the config: defaults, then <state_dir>/config.yaml if present,
// then env overrides, then validation.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if cfg.StateDir != "" {
		path := filepath.Join(cfg.StateDir, "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := applyFile(cfg, data); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ServerURL != "" {
		cfg.ServerURL = fc.ServerURL
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if fc.InactivityTimeout != "" {
		d, err := time.ParseDuration(fc.InactivityTimeout)
		if err != nil {
			return fmt.Errorf("invalid inactivity_timeout: %w", err)
		}
		cfg.InactivityTimeout = d
	}
	if fc.PageSize != nil {
		cfg.PageSize = *fc.PageSize
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = fc.LogFormat
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("STUDYBOARD_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("STUDYBOARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STUDYBOARD_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("STUDYBOARD_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("STUDYBOARD_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STUDYBOARD_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("STUDYBOARD_INACTIVITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STUDYBOARD_INACTIVITY_TIMEOUT: %w", err)
		}
		cfg.InactivityTimeout = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required (STUDYBOARD_SERVER_URL)")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required (STUDYBOARD_STATE_DIR)")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity_timeout must be positive, got %v", c.InactivityTimeout)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100, got %d", c.PageSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
