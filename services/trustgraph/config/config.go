// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates trustgraph configuration.
//
// Configuration lives in a YAML file, by default
// ~/.trustgraph/trustgraph.yaml, which is created with defaults on first
// use. TRUSTGRAPH_ROOT and TRUSTGRAPH_SOURCES (comma separated) override
// the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/trustgraph/pkg/logging"
	"github.com/AleutianAI/trustgraph/pkg/validation"
	"github.com/AleutianAI/trustgraph/services/trustgraph/score"
)

// ErrInvalidConfig is returned when configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment overrides.
const (
	EnvRoot    = "TRUSTGRAPH_ROOT"
	EnvSources = "TRUSTGRAPH_SOURCES"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config is the full trustgraph configuration.
type Config struct {
	// Root is the identity trust is measured from.
	// Required for sync and queries; may be empty in a fresh file.
	Root string `yaml:"root" validate:"omitempty,hexkey"`

	// Sources are relay websocket URLs.
	Sources []string `yaml:"sources" validate:"required,min=1,dive,wsurl"`

	// MaxHops is the default query depth.
	MaxHops int `yaml:"max_hops" validate:"min=1,max=10"`

	// SyncDepth is the default number of BFS rounds.
	SyncDepth int `yaml:"sync_depth" validate:"min=1,max=6"`

	// Timeout bounds each batch request.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// BatchSize bounds identities per request.
	BatchSize int `yaml:"batch_size" validate:"min=1,max=1000"`

	// BatchConcurrency bounds batches in flight per round.
	BatchConcurrency int `yaml:"batch_concurrency" validate:"min=1,max=64"`

	// RequestsPerSecond caps REQs per relay. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	Storage   StorageConfig   `yaml:"storage"`
	Weights   score.Weights   `yaml:"weights"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory badger sqlite"`

	// Path is the badger directory or sqlite file. Supports ~.
	Path string `yaml:"path" validate:"required_unless=Backend memory"`

	// Namespace partitions a shared database. Empty uses the backend default.
	Namespace string `yaml:"namespace,omitempty"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
}

// ServerConfig configures the HTTP oracle.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Sources: []string{
			"wss://relay.damus.io",
			"wss://nos.lol",
			"wss://relay.nostr.band",
		},
		MaxHops:           3,
		SyncDepth:         2,
		Timeout:           10 * time.Second,
		BatchSize:         100,
		BatchConcurrency:  4,
		RequestsPerSecond: 10,
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "~/.trustgraph/graph",
		},
		Weights: score.DefaultWeights(),
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
		},
		Server: ServerConfig{Addr: "127.0.0.1:8089"},
	}
}

// DefaultPath returns ~/.trustgraph/trustgraph.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".trustgraph", "trustgraph.yaml"), nil
}

// Load reads, overrides from the environment, and validates a config file.
//
// Description:
//
//	An empty path selects DefaultPath. A missing file is created with
//	Default() first. Fields absent from the file keep their defaults.
//
// Inputs:
//
//	path - Config file path, or "".
//
// Outputs:
//
//	Config - The effective configuration.
//	string - The path that was read.
//	error - Wraps ErrInvalidConfig for validation failures; I/O and YAML
//	        errors are returned wrapped as-is.
func Load(path string) (Config, string, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, "", err
		}
		path = p
	}
	path = logging.ExpandPath(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, Default()); err != nil {
			return Config{}, path, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, path, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, path, fmt.Errorf("%s: %w", path, err)
	}
	ApplyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

// Parse decodes YAML on top of Default(). It does not validate.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	// Weights from the file replace the default map instead of merging
	cfg.Weights.DistanceWeights = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Weights.DistanceWeights == nil {
		cfg.Weights.DistanceWeights = score.DefaultWeights().DistanceWeights
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment via getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvRoot)); v != "" {
		cfg.Root = v
	}
	if v := strings.TrimSpace(getenv(EnvSources)); v != "" {
		var sources []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
		if len(sources) > 0 {
			cfg.Sources = sources
		}
	}
}

// Validate checks struct tags and weight ranges. The root identity is
// canonicalized to lowercase in place.
func (c *Config) Validate() error {
	if key, err := validation.SanitizeHexKey(c.Root); err == nil {
		c.Root = key
	}
	if err := validation.Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	w := c.Weights
	if w.MutualBonus < 0 || w.PathBonus < 0 || w.MaxPathBonus < 0 {
		return fmt.Errorf("%w: weight bonuses must not be negative", ErrInvalidConfig)
	}
	for hops, weight := range w.DistanceWeights {
		if hops < 0 || weight < 0 {
			return fmt.Errorf("%w: distance weight %d=%v out of range", ErrInvalidConfig, hops, weight)
		}
	}
	return nil
}

// StoragePath returns Storage.Path with ~ expanded.
func (c Config) StoragePath() string {
	return logging.ExpandPath(c.Storage.Path)
}
