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

package config

import (
	"log/slog"
	"time"

	"github.com/rushti/rushti/internal/estimate"
	"github.com/rushti/rushti/internal/harness"
	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/optimizer"
	"github.com/rushti/rushti/internal/workflow"
	"github.com/rushti/rushti/pkg/httpclient"
)

// Flags carries the per-run command-line overrides. A nil pointer means
// "not set on the command line"; zero values (e.g. --max-workers 0) are
// not distinguishable from unset, so the CLI only populates a field when
// the flag was actually passed.
type Flags struct {
	MaxWorkers *int
	Retries    *int
	Exclusive  *bool
}

// Effective is the fully-resolved settings record for one run: per-run
// flags, layered over the workflow file's own `settings` block, layered
// over the settings file's `defaults`/`exclusive_mode` sections, layered
// over built-in defaults (spec.md §6's precedence, highest first).
type Effective struct {
	MaxWorkers            int
	Retries               int
	Exclusive             bool
	StageWorkers          map[string]int
	OptimizationAlgorithm workflow.Algorithm
}

// Resolve computes the Effective settings record for a run. fileSettings
// may be nil when no settings file was given.
func Resolve(flags Flags, wfSettings workflow.Settings, fileSettings *Settings) Effective {
	eff := Effective{
		MaxWorkers:            1,
		Retries:               0,
		Exclusive:             false,
		StageWorkers:          wfSettings.StageWorkers,
		OptimizationAlgorithm: workflow.AlgorithmLongestFirst,
	}

	if fileSettings != nil {
		if fileSettings.Defaults.MaxWorkers > 0 {
			eff.MaxWorkers = fileSettings.Defaults.MaxWorkers
		}
		if fileSettings.Defaults.Retries > 0 {
			eff.Retries = fileSettings.Defaults.Retries
		}
		if fileSettings.ExclusiveMode.Enabled {
			eff.Exclusive = true
		}
	}

	if wfSettings.MaxWorkers > 0 {
		eff.MaxWorkers = wfSettings.MaxWorkers
	}
	if wfSettings.Retries > 0 {
		eff.Retries = wfSettings.Retries
	}
	if wfSettings.Exclusive {
		eff.Exclusive = true
	}
	if wfSettings.OptimizationAlgorithm != "" {
		eff.OptimizationAlgorithm = wfSettings.OptimizationAlgorithm
	}

	if flags.MaxWorkers != nil {
		eff.MaxWorkers = *flags.MaxWorkers
	}
	if flags.Retries != nil {
		eff.Retries = *flags.Retries
	}
	if flags.Exclusive != nil {
		eff.Exclusive = *flags.Exclusive
	}

	return eff
}

// LogAttrs returns the effective settings as structured log fields, so a
// run's startup log line records exactly what precedence resolved to.
func (e Effective) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("max_workers", e.MaxWorkers),
		slog.Int("retries", e.Retries),
		slog.Bool("exclusive", e.Exclusive),
		slog.String("optimization_algorithm", string(e.OptimizationAlgorithm)),
		slog.Int("stage_workers_count", len(e.StageWorkers)),
	}
}

// LogConfig builds the ambient logger's configuration from the settings
// file's logging section, falling back to internal/log's own defaults
// when no settings file was loaded.
func (s *Settings) LogConfig() *log.Config {
	cfg := log.DefaultConfig()
	if s == nil {
		return cfg
	}
	if s.Logging.Level != "" {
		cfg.Level = s.Logging.Level
	}
	if s.Logging.Format != "" {
		cfg.Format = log.Format(s.Logging.Format)
	}
	cfg.AddSource = s.Logging.AddSource
	return cfg
}

// StatsPath returns the stats.db path to open, defaulting to spec.md §6's
// persisted-state layout.
func (s *Settings) StatsPath() string {
	if s != nil && s.Stats.Path != "" {
		return s.Stats.Path
	}
	return "data/stats.db"
}

// StatsRetention returns how long stats rows are kept before purge.
func (s *Settings) StatsRetention() time.Duration {
	if s != nil && s.Stats.Retention > 0 {
		return s.Stats.Retention
	}
	return 0
}

// CheckpointDir returns the checkpoint directory, defaulting to
// spec.md §6's persisted-state layout.
func (s *Settings) CheckpointDir() string {
	if s != nil && s.Checkpoint.Dir != "" {
		return s.Checkpoint.Dir
	}
	return "checkpoints"
}

// AutosaveInterval returns the checkpoint autosaver's periodic-flush
// interval.
func (s *Settings) AutosaveInterval() time.Duration {
	if s != nil && s.Checkpoint.AutosaveInterval > 0 {
		return s.Checkpoint.AutosaveInterval
	}
	return 60 * time.Second
}

// HTTPClientConfig builds the remote client transport's configuration
// from the remote_integration section, falling back to pkg/httpclient's
// own defaults for any unset field.
func (s *Settings) HTTPClientConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	if s == nil {
		return cfg
	}
	ri := s.RemoteIntegration
	if ri.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(ri.TimeoutSeconds) * time.Second
	}
	if ri.RetryAttempts > 0 {
		cfg.RetryAttempts = ri.RetryAttempts
	}
	if ri.RetryBackoffMs > 0 {
		cfg.RetryBackoff = time.Duration(ri.RetryBackoffMs) * time.Millisecond
	}
	if ri.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(ri.MaxBackoffMs) * time.Millisecond
	}
	if ri.UserAgent != "" {
		cfg.UserAgent = ri.UserAgent
	}
	cfg.AllowNonIdempotentRetry = ri.AllowNonIdempotentRetry
	return cfg
}

// BreakerConfig builds the per-instance circuit breaker's configuration
// from the remote_integration section.
func (s *Settings) BreakerConfig() harness.BreakerConfig {
	cfg := harness.DefaultBreakerConfig()
	if s == nil {
		return cfg
	}
	ri := s.RemoteIntegration
	if ri.BreakerConsecutiveFailures > 0 {
		cfg.ConsecutiveFailures = ri.BreakerConsecutiveFailures
	}
	if ri.BreakerOpenTimeoutSeconds > 0 {
		cfg.OpenTimeout = time.Duration(ri.BreakerOpenTimeoutSeconds) * time.Second
	}
	return cfg
}

// EstimatorConfig builds the runtime estimator's configuration from the
// optimization section.
func (s *Settings) EstimatorConfig() estimate.Config {
	cfg := estimate.DefaultConfig()
	if s == nil {
		return cfg
	}
	opt := s.Optimization
	if opt.LookbackRuns > 0 {
		cfg.LookbackRuns = opt.LookbackRuns
	}
	if opt.Alpha > 0 {
		cfg.Alpha = opt.Alpha
	}
	if opt.MinSamples > 0 {
		cfg.MinSamples = opt.MinSamples
	}
	cfg.TimeOfDayWeighting = opt.TimeOfDayWeighting
	return cfg
}

// OptimizerConfig builds the contention optimizer's configuration from
// the optimization section.
func (s *Settings) OptimizerConfig() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	if s == nil {
		return cfg
	}
	opt := s.Optimization
	if opt.MinRangeRatio > 0 {
		cfg.MinRangeRatio = opt.MinRangeRatio
	}
	if opt.IQRMultiplier > 0 {
		cfg.IQRMultiplier = opt.IQRMultiplier
	}
	return cfg
}
