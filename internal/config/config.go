// Package config provides daemon configuration for timewall.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for daemon-level knobs. User policy (quota, block list, idle
// thresholds) lives in the settings partition of the store instead.
const (
	DefaultListenAddr       = "127.0.0.1:47320"
	DefaultHeartbeatSeconds = 30
	DefaultDebounceMillis   = 50
	DefaultMaxConns         = 4
)

// Config holds daemon configuration loaded from config.yaml.
type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	DBPath           string `yaml:"db_path"`
	LogLevel         string `yaml:"log_level"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
	DebounceMillis   int    `yaml:"debounce_millis"`
	MaxConns         int    `yaml:"max_conns"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:       DefaultListenAddr,
		DBPath:           DBPath(),
		LogLevel:         "info",
		HeartbeatSeconds: DefaultHeartbeatSeconds,
		DebounceMillis:   DefaultDebounceMillis,
		MaxConns:         DefaultMaxConns,
	}
}

// DataDir returns the timewall data directory (~/.timewall).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".timewall")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// DBPath returns the default database path.
func DBPath() string {
	return filepath.Join(DataDir(), "timewall.db")
}

// Load reads config.yaml, filling missing fields from defaults.
// A missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DBPath()
	}
	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if cfg.DebounceMillis <= 0 {
		cfg.DebounceMillis = DefaultDebounceMillis
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	return cfg, nil
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// DebounceWindow returns the tab-event debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureConfig writes a default config file if none exists.
func EnsureConfig() error {
	path := ConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureAll creates the data directory and a default config file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureConfig()
}
