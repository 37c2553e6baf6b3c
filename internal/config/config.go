// Package config loads the host configuration for a warmpool service from a
// YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration surface.
type Config struct {
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`

	// Queue is the pool-level queue name. Optional; a dispatch may supply its
	// own queue name instead.
	Queue string `yaml:"queue"`

	// PreforkSize is the warm idle-set size. Negative values clamp to zero.
	PreforkSize int `yaml:"prefork_size"`

	// Async disables diagnostic capture of worker output.
	Async bool `yaml:"async"`

	// OutputResults forwards worker output to the service's own streams.
	OutputResults bool `yaml:"output_results"`

	// WorkerCommand overrides worker invocation construction entirely.
	WorkerCommand string `yaml:"worker_command"`

	// WorkerEntrypoint is the worker shim executable; ignored when
	// WorkerCommand is set.
	WorkerEntrypoint string `yaml:"worker_entrypoint"`

	// WorkerArgs are appended to the entrypoint invocation.
	WorkerArgs []string `yaml:"worker_args"`

	// StorePath is the SQLite payload store location.
	StorePath string `yaml:"store_path"`

	API APIConfig `yaml:"api"`
}

// APIConfig configures the HTTP status surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:    "INFO",
		PreforkSize: 0,
		StorePath:   filepath.Join(".", "warmpool", "payloads.db"),
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8099",
		},
	}
}

// Load reads and parses configuration from a YAML file, applies defaults,
// and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.PreforkSize < 0 {
		cfg.PreforkSize = 0
	}
	if cfg.StorePath == "" {
		cfg.StorePath = Defaults().StorePath
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = Defaults().API.Listen
	}
}

func validate(cfg *Config) error {
	if cfg.WorkerCommand == "" && cfg.WorkerEntrypoint == "" {
		return fmt.Errorf("one of worker_command or worker_entrypoint is required")
	}
	if cfg.WorkerCommand != "" && cfg.WorkerEntrypoint != "" {
		return fmt.Errorf("worker_command and worker_entrypoint are mutually exclusive")
	}
	return nil
}
