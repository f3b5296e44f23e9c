// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config implements the RushTI settings file, connection
// descriptor file, and the effective-settings merge that resolves them
// together with per-run flags and a workflow's own settings block into
// one record the rest of the run is driven by.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultsSection seeds the effective-settings merge below the workflow
// file's own settings block.
type DefaultsSection struct {
	MaxWorkers int `yaml:"max_workers"`
	Retries    int `yaml:"retries"`
}

// OptimizationSection configures the runtime estimator (C6) and the
// contention optimizer (C10).
type OptimizationSection struct {
	MinRangeRatio      float64 `yaml:"min_range_ratio"`
	IQRMultiplier      float64 `yaml:"iqr_multiplier"`
	LookbackRuns       int     `yaml:"lookback_runs"`
	Alpha              float64 `yaml:"alpha"`
	MinSamples         int     `yaml:"min_samples"`
	TimeOfDayWeighting bool    `yaml:"time_of_day_weighting"`
}

// LoggingSection configures the ambient slog logger (internal/log).
type LoggingSection struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// StatsSection configures the stats store (C4).
type StatsSection struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// CheckpointSection configures the checkpoint store and autosaver (C5).
type CheckpointSection struct {
	Dir              string        `yaml:"dir"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

// ExclusiveModeSection is the settings-file-wide default for the
// scheduler's exclusive mode (see internal/scheduler's Config.Exclusive).
// A workflow's own `exclusive: true` can also turn it on, but only the
// per-run --exclusive flag can turn it off once enabled here.
type ExclusiveModeSection struct {
	Enabled bool `yaml:"enabled"`
}

// RemoteIntegrationSection configures the HTTP transport (pkg/httpclient)
// and per-instance circuit breaker (C8) wrapping calls to the analytics
// server.
type RemoteIntegrationSection struct {
	TimeoutSeconds             int    `yaml:"timeout_seconds"`
	RetryAttempts              int    `yaml:"retry_attempts"`
	RetryBackoffMs             int    `yaml:"retry_backoff_ms"`
	MaxBackoffMs               int    `yaml:"max_backoff_ms"`
	UserAgent                  string `yaml:"user_agent"`
	AllowNonIdempotentRetry    bool   `yaml:"allow_non_idempotent_retry"`
	BreakerConsecutiveFailures uint32 `yaml:"breaker_consecutive_failures"`
	BreakerOpenTimeoutSeconds  int    `yaml:"breaker_open_timeout_seconds"`
}

// Settings is the settings file's full shape: the sections spec.md §6
// enumerates, each with a fixed key set. Unknown sections and unknown
// keys within a known section are reported as warnings by LoadSettings, never as
// errors — an operator's typo in an optional knob shouldn't block a run.
type Settings struct {
	Defaults          DefaultsSection          `yaml:"defaults"`
	Optimization      OptimizationSection      `yaml:"optimization"`
	Logging           LoggingSection           `yaml:"logging"`
	Stats             StatsSection             `yaml:"stats"`
	Checkpoint        CheckpointSection        `yaml:"checkpoint"`
	ExclusiveMode     ExclusiveModeSection     `yaml:"exclusive_mode"`
	RemoteIntegration RemoteIntegrationSection `yaml:"remote_integration"`
}

var knownSections = map[string]struct{}{
	"defaults":           {},
	"optimization":       {},
	"logging":            {},
	"stats":              {},
	"checkpoint":         {},
	"exclusive_mode":     {},
	"remote_integration": {},
}

var knownKeysBySection = map[string]map[string]struct{}{
	"defaults":     {"max_workers": {}, "retries": {}},
	"optimization": {"min_range_ratio": {}, "iqr_multiplier": {}, "lookback_runs": {}, "alpha": {}, "min_samples": {}, "time_of_day_weighting": {}},
	"logging":      {"level": {}, "format": {}, "add_source": {}},
	"stats":        {"path": {}, "retention": {}},
	"checkpoint":   {"dir": {}, "autosave_interval": {}},
	"exclusive_mode": {"enabled": {}},
	"remote_integration": {
		"timeout_seconds": {}, "retry_attempts": {}, "retry_backoff_ms": {}, "max_backoff_ms": {},
		"user_agent": {}, "allow_non_idempotent_retry": {}, "breaker_consecutive_failures": {}, "breaker_open_timeout_seconds": {},
	},
}

// LoadSettings reads and parses the settings file at path, returning the
// typed Settings plus a list of human-readable warnings for any
// unrecognized section or key.
func LoadSettings(path string) (*Settings, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}

	warnings := validateKnownKeys(raw)

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, nil, fmt.Errorf("decoding settings file %s: %w", path, err)
	}
	return &settings, warnings, nil
}

func validateKnownKeys(raw map[string]any) []string {
	var warnings []string
	for section, value := range raw {
		if _, ok := knownSections[section]; !ok {
			warnings = append(warnings, fmt.Sprintf("settings file: unknown section %q", section))
			continue
		}
		body, ok := value.(map[string]any)
		if !ok {
			continue
		}
		known := knownKeysBySection[section]
		for key := range body {
			if _, ok := known[key]; !ok {
				warnings = append(warnings, fmt.Sprintf("settings file: unknown key %q in section %q", key, section))
			}
		}
	}
	return warnings
}
