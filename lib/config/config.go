// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the
// reconstruction service.
//
// Configuration is loaded from a single YAML file passed via the
// --config flag. There are no fallbacks or automatic discovery, and
// environment variables do not override config values. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// Config is the service configuration.
type Config struct {
	// SocketPath is the Unix socket the service listens on.
	SocketPath string `yaml:"socket_path"`

	// StateDir is the directory for per-session input spools and
	// producer scratch files.
	StateDir string `yaml:"state_dir"`

	// MaxSessions caps the number of live sessions.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout is how long a session may go without activity
	// before eviction ("1h").
	IdleTimeout string `yaml:"idle_timeout"`

	// SweepInterval is how often the reaper scans for idle
	// sessions ("5m").
	SweepInterval string `yaml:"sweep_interval"`

	// RunTimeout bounds one reconstruction run ("10m"). Empty or
	// "0" disables the bound.
	RunTimeout string `yaml:"run_timeout"`

	// MemoryPreflight enables the pre-run memory estimate check.
	MemoryPreflight bool `yaml:"memory_preflight"`

	// Producer configures the reconstruction executable.
	Producer ProducerConfig `yaml:"producer"`

	// Session holds the default per-session parameters, applied to
	// config fields clients leave unset.
	Session SessionDefaults `yaml:"session"`

	// Parsed durations, populated by Validate.
	idleTimeout   time.Duration
	sweepInterval time.Duration
	runTimeout    time.Duration
}

// ProducerConfig configures the reconstruction executable.
type ProducerConfig struct {
	// Path is the reconstruction binary. Required to serve generate
	// requests.
	Path string `yaml:"path"`

	// ScratchDir holds per-run output files. Defaults to
	// <state_dir>/scratch.
	ScratchDir string `yaml:"scratch_dir"`
}

// SessionDefaults are the per-session parameter defaults.
type SessionDefaults struct {
	MaxInputs            int     `yaml:"max_inputs"`
	Resolution           int     `yaml:"resolution"`
	ResizeMethod         string  `yaml:"resize_method"`
	ConfidencePercentile float64 `yaml:"confidence_percentile"`
	MaxPoints            int64   `yaml:"max_points"`
	ShowCameras          bool    `yaml:"show_cameras"`
}

// Default returns the default configuration. These defaults make a
// development instance work with no config file at all; production
// deployments override at least the paths.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".cache", "reconstruct")

	return &Config{
		SocketPath:      "/run/reconstruct/service.sock",
		StateDir:        defaultState,
		MaxSessions:     100,
		IdleTimeout:     "1h",
		SweepInterval:   "5m",
		RunTimeout:      "10m",
		MemoryPreflight: true,
		Session: SessionDefaults{
			MaxInputs:            100,
			Resolution:           504,
			ResizeMethod:         "upper_bound_resize",
			ConfidencePercentile: 10.0,
			MaxPoints:            10_000_000,
			ShowCameras:          true,
		},
	}
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors and parses the
// duration fields. Must be called before the duration accessors.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must be set")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.Session.MaxInputs <= 0 {
		return fmt.Errorf("session.max_inputs must be positive, got %d", c.Session.MaxInputs)
	}
	if c.Session.Resolution <= 0 {
		return fmt.Errorf("session.resolution must be positive, got %d", c.Session.Resolution)
	}

	var err error
	if c.idleTimeout, err = parseDuration("idle_timeout", c.IdleTimeout); err != nil {
		return err
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.sweepInterval, err = parseDuration("sweep_interval", c.SweepInterval); err != nil {
		return err
	}
	if c.sweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.runTimeout, err = parseDuration("run_timeout", c.RunTimeout); err != nil {
		return err
	}

	if c.Producer.ScratchDir == "" {
		c.Producer.ScratchDir = filepath.Join(c.StateDir, "scratch")
	}
	return nil
}

// IdleTimeoutDuration returns the parsed idle timeout.
func (c *Config) IdleTimeoutDuration() time.Duration { return c.idleTimeout }

// SweepIntervalDuration returns the parsed sweep interval.
func (c *Config) SweepIntervalDuration() time.Duration { return c.sweepInterval }

// RunTimeoutDuration returns the parsed run timeout. Zero disables
// the bound.
func (c *Config) RunTimeoutDuration() time.Duration { return c.runTimeout }

// SessionDefaults converts the configured defaults into the protocol
// representation the session store consumes.
func (c *Config) SessionDefaults() wire.SessionConfig {
	showCameras := c.Session.ShowCameras
	return wire.SessionConfig{
		MaxInputs:            c.Session.MaxInputs,
		Resolution:           c.Session.Resolution,
		ResizeMethod:         c.Session.ResizeMethod,
		ConfidencePercentile: c.Session.ConfidencePercentile,
		MaxPoints:            c.Session.MaxPoints,
		ShowCameras:          &showCameras,
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return parsed, nil
}
