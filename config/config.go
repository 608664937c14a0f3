package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Config holds user-configurable defaults and integrations.
type Config struct {
	Controller ControllerConfig `json:"controller"`
	KeepClosed bool             `json:"keep_closed"`
	Sort       SortConfig       `json:"sort"`
	Locale     string           `json:"locale"`
	Prometheus PrometheusConfig `json:"prometheus"`
	LogFile    string           `json:"log_file"`
}

type ControllerConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type SortConfig struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		Controller: ControllerConfig{URL: "http://127.0.0.1:9090"},
		KeepClosed: false,
		Locale:     "en",
		Prometheus: PrometheusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9188",
		},
	}
}

// Path returns ~/.config/xconn/config.json (or XDG_CONFIG_HOME).
// Returns empty string if home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "xconn", "config.json")
}

// Load loads config from the default path; returns defaults on error.
func Load() Config {
	cfg, err := LoadFile(Path())
	if err != nil && !os.IsNotExist(err) {
		log.Printf("xconn: warning: config: %v", err)
	}
	return cfg
}

// LoadFile reads path over the defaults. Missing fields keep their defaults;
// on error the defaults are returned along with the error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	path := Path()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveFile(path, cfg)
}

// SaveFile writes cfg to path, creating parent directories. The file holds
// the controller secret, so it is private to the user.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
