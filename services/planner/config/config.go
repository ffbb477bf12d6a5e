// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the planner service configuration from embedded
// defaults, an optional YAML file, and environment overrides.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed planner_defaults.yaml
var defaultConfigYAML []byte

// MaxYAMLFileSize caps config file reads to prevent accidental huge loads.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full planner service configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Pricing PricingConfig `yaml:"pricing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// ShutdownGraceSeconds is how long to wait for in-flight requests
	// during graceful shutdown.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// StoreConfig holds embedded store settings.
type StoreConfig struct {
	// DataDir is the Badger database directory.
	DataDir string `yaml:"data_dir"`

	// ReportTTLHours is how long generated reports stay readable via
	// share links before expiring.
	ReportTTLHours int `yaml:"report_ttl_hours"`
}

// EngineConfig holds phase-execution settings.
type EngineConfig struct {
	// PhaseTimeoutSeconds is the wall-clock budget for a single phase.
	PhaseTimeoutSeconds int `yaml:"phase_timeout_seconds"`

	// ToolTimeoutSeconds is the budget for a single tool invocation.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`

	// MaxPhaseRetries is the number of times a failed phase is re-run
	// before the run is marked failed.
	MaxPhaseRetries int `yaml:"max_phase_retries"`

	// MaxLoopIterations bounds the model/tool loop within one phase.
	MaxLoopIterations int `yaml:"max_loop_iterations"`

	// HeartbeatIntervalSeconds is the SSE heartbeat cadence.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
}

// PricingConfig holds live price lookup settings.
type PricingConfig struct {
	// Enabled controls whether live lookups run at all. When false the
	// sourcing phase keeps the model's estimates.
	Enabled bool `yaml:"enabled"`

	// MaxLookupItems is the cap on materials sent to live lookup.
	MaxLookupItems int `yaml:"max_lookup_items"`

	// ChunkSize is how many lookups run concurrently per batch.
	ChunkSize int `yaml:"chunk_size"`

	// PerCallTimeoutSeconds bounds a single price lookup call.
	PerCallTimeoutSeconds int `yaml:"per_call_timeout_seconds"`

	// TotalBudgetSeconds bounds the whole batch.
	TotalBudgetSeconds int `yaml:"total_budget_seconds"`

	// AbortFailureRatio aborts remaining lookups once this fraction of
	// attempts has failed.
	AbortFailureRatio float64 `yaml:"abort_failure_ratio"`

	// RequestsPerSecond paces outbound search API calls.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// =============================================================================
// Derived Durations
// =============================================================================

// PhaseTimeout returns the per-phase wall-clock budget.
func (e EngineConfig) PhaseTimeout() time.Duration {
	return time.Duration(e.PhaseTimeoutSeconds) * time.Second
}

// ToolTimeout returns the per-tool-call budget.
func (e EngineConfig) ToolTimeout() time.Duration {
	return time.Duration(e.ToolTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the SSE heartbeat cadence.
func (e EngineConfig) HeartbeatInterval() time.Duration {
	return time.Duration(e.HeartbeatIntervalSeconds) * time.Second
}

// PerCallTimeout returns the single-lookup budget.
func (p PricingConfig) PerCallTimeout() time.Duration {
	return time.Duration(p.PerCallTimeoutSeconds) * time.Second
}

// TotalBudget returns the whole-batch budget.
func (p PricingConfig) TotalBudget() time.Duration {
	return time.Duration(p.TotalBudgetSeconds) * time.Second
}

// ReportTTL returns how long reports stay readable.
func (s StoreConfig) ReportTTL() time.Duration {
	return time.Duration(s.ReportTTLHours) * time.Hour
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the effective configuration.
//
// Description:
//
//	Starts from the embedded defaults, overlays the YAML file named by
//	PLANNER_CONFIG when set, then applies environment overrides for the
//	settings operators most often change (port, data dir).
//
// Outputs:
//   - *Config: The validated configuration. Never nil on success.
//   - error: Non-nil if parsing or validation failed.
func Load() (*Config, error) {
	cfg, err := Parse(defaultConfigYAML)
	if err != nil {
		return nil, fmt.Errorf("config: embedded defaults: %w", err)
	}

	if path := os.Getenv("PLANNER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if len(data) > MaxYAMLFileSize {
			return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, len(data), MaxYAMLFileSize)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		slog.Info("config file loaded", slog.String("path", path))
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	slog.Info("planner config loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("data_dir", cfg.Store.DataDir),
		slog.Int("phase_timeout_s", cfg.Engine.PhaseTimeoutSeconds),
		slog.Bool("pricing_enabled", cfg.Pricing.Enabled),
	)

	return cfg, nil
}

// Parse unmarshals and validates a Config from YAML bytes. Exposed so tests
// can load configs without touching the environment.
func Parse(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty YAML data")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownGraceSeconds <= 0 {
		cfg.Server.ShutdownGraceSeconds = 10
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "/var/lib/planner/badger"
	}
	if cfg.Store.ReportTTLHours <= 0 {
		cfg.Store.ReportTTLHours = 720
	}
	if cfg.Engine.PhaseTimeoutSeconds <= 0 {
		cfg.Engine.PhaseTimeoutSeconds = 300
	}
	if cfg.Engine.ToolTimeoutSeconds <= 0 {
		cfg.Engine.ToolTimeoutSeconds = 30
	}
	if cfg.Engine.MaxPhaseRetries < 0 {
		cfg.Engine.MaxPhaseRetries = 1
	}
	if cfg.Engine.MaxLoopIterations <= 0 {
		cfg.Engine.MaxLoopIterations = 20
	}
	if cfg.Engine.HeartbeatIntervalSeconds <= 0 {
		cfg.Engine.HeartbeatIntervalSeconds = 15
	}
	if cfg.Pricing.MaxLookupItems <= 0 {
		cfg.Pricing.MaxLookupItems = 8
	}
	if cfg.Pricing.ChunkSize <= 0 {
		cfg.Pricing.ChunkSize = 4
	}
	if cfg.Pricing.PerCallTimeoutSeconds <= 0 {
		cfg.Pricing.PerCallTimeoutSeconds = 3
	}
	if cfg.Pricing.TotalBudgetSeconds <= 0 {
		cfg.Pricing.TotalBudgetSeconds = 10
	}
	if cfg.Pricing.AbortFailureRatio <= 0 {
		cfg.Pricing.AbortFailureRatio = 0.6
	}
	if cfg.Pricing.RequestsPerSecond <= 0 {
		cfg.Pricing.RequestsPerSecond = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLANNER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		} else {
			slog.Warn("ignoring invalid PLANNER_PORT", slog.String("value", v))
		}
	}
	if v := os.Getenv("PLANNER_DATA_DIR"); v != "" {
		cfg.Store.DataDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_PRICING_ENABLED"); v != "" {
		cfg.Pricing.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Engine.ToolTimeoutSeconds > cfg.Engine.PhaseTimeoutSeconds {
		return fmt.Errorf("engine.tool_timeout_seconds (%d) exceeds phase timeout (%d)",
			cfg.Engine.ToolTimeoutSeconds, cfg.Engine.PhaseTimeoutSeconds)
	}
	if cfg.Pricing.AbortFailureRatio > 1.0 {
		return fmt.Errorf("pricing.abort_failure_ratio must be <= 1.0, got %g", cfg.Pricing.AbortFailureRatio)
	}
	if cfg.Pricing.ChunkSize > cfg.Pricing.MaxLookupItems {
		cfg.Pricing.ChunkSize = cfg.Pricing.MaxLookupItems
	}
	return nil
}
