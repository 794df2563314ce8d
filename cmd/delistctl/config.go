package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the config file inside the data directory.
const ConfigFileName = "config.yaml"

// Config is the operator configuration. Everything has a default; the file
// is optional. Secrets never live here, only paths and retention policy.
type Config struct {
	// DataDir holds the database, key material and telemetry log.
	DataDir string `yaml:"data_dir"`
	// CatalogDir holds the bundled broker definitions (one JSON per broker).
	CatalogDir string `yaml:"catalog_dir"`
	// EventRetentionDays bounds the background task event log.
	EventRetentionDays int `yaml:"event_retention_days"`
}

func defaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	base := filepath.Join(home, ".delistctl")
	return &Config{
		DataDir:            base,
		CatalogDir:         filepath.Join(base, "brokers"),
		EventRetentionDays: 90,
	}, nil
}

// loadConfig reads the config file at path, falling back to defaults for
// anything unset. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg, err := defaultConfig()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(cfg.DataDir, ConfigFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.CatalogDir != "" {
		cfg.CatalogDir = file.CatalogDir
	}
	if file.EventRetentionDays > 0 {
		cfg.EventRetentionDays = file.EventRetentionDays
	}
	return cfg, nil
}

// writeDefaultConfig materializes the defaults so the operator has a file to
// edit. Existing files are left alone.
func writeDefaultConfig(cfg *Config) error {
	path := filepath.Join(cfg.DataDir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
