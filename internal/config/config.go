// Package config holds the simulation settings shared by the ksched commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/me/ksched/internal/kernel"
	"github.com/me/ksched/pkg/model"
)

// Clock names accepted in configuration.
const (
	ClockVirtual = "virtual"
	ClockWall    = "wall"
)

// SimConfig holds configuration for a simulation run or the monitor server.
type SimConfig struct {
	Policy     model.Policy `yaml:"policy"`      // priority or mlfqs, fixed at boot
	Clock      string       `yaml:"clock"`       // virtual (deterministic) or wall
	MaxThreads int          `yaml:"max_threads"` // live control block limit
	LogLevel   string       `yaml:"log_level"`   // debug, info, warn, error
	LogFormat  string       `yaml:"log_format"`  // text, json
	DBPath     string       `yaml:"db_path"`     // SQLite path (default ~/.ksched/ksched.db, ":memory:" for testing)
	Addr       string       `yaml:"addr"`        // monitor listen address
}

// DefaultSimConfig returns sensible defaults.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Policy:     model.PolicyPriority,
		Clock:      ClockVirtual,
		MaxThreads: kernel.DefaultConfig().MaxThreads,
		LogLevel:   "info",
		LogFormat:  "text",
		Addr:       ":8080",
	}
}

// Load reads a YAML config file over the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (SimConfig, error) {
	cfg := DefaultSimConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field holds a supported value.
func (c SimConfig) Validate() error {
	var fields []model.FieldError
	if !c.Policy.Valid() {
		fields = append(fields, model.FieldError{Field: "policy", Message: fmt.Sprintf("unknown policy %q", c.Policy)})
	}
	if c.Clock != ClockVirtual && c.Clock != ClockWall {
		fields = append(fields, model.FieldError{Field: "clock", Message: fmt.Sprintf("unknown clock %q", c.Clock)})
	}
	if c.MaxThreads < 2 {
		fields = append(fields, model.FieldError{Field: "max_threads", Message: "must leave room for main and idle"})
	}
	if len(fields) > 0 {
		return model.NewValidationError("invalid configuration", fields...)
	}
	return nil
}

// KernelConfig converts the boot-time part of c.
func (c SimConfig) KernelConfig() kernel.Config {
	return kernel.Config{
		MLFQS:      c.Policy == model.PolicyMLFQS,
		MaxThreads: c.MaxThreads,
	}
}

// NewClock returns the timer interrupt source selected by c.
func (c SimConfig) NewClock() kernel.Clock {
	if c.Clock == ClockWall {
		return kernel.NewWallClock()
	}
	return kernel.NewVirtualClock()
}

// ResolveDBPath returns DBPath, defaulting to ~/.ksched/ksched.db and creating
// its directory.
func (c SimConfig) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ksched")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ksched.db"), nil
}
