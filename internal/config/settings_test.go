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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings_ParsesAllSections(t *testing.T) {
	path := writeSettingsFile(t, `
defaults:
  max_workers: 8
  retries: 2
optimization:
  min_range_ratio: 4
  iqr_multiplier: 8
  lookback_runs: 15
  alpha: 0.4
  min_samples: 3
  time_of_day_weighting: true
logging:
  level: debug
  format: text
  add_source: true
stats:
  path: /tmp/stats.db
  retention: 168h
checkpoint:
  dir: /tmp/checkpoints
  autosave_interval: 10s
exclusive_mode:
  enabled: true
remote_integration:
  timeout_seconds: 45
  retry_attempts: 5
  user_agent: rushti/2.0
`)

	settings, warnings, err := LoadSettings(path)
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, 8, settings.Defaults.MaxWorkers)
	require.Equal(t, 2, settings.Defaults.Retries)
	require.Equal(t, 4.0, settings.Optimization.MinRangeRatio)
	require.True(t, settings.Optimization.TimeOfDayWeighting)
	require.Equal(t, "debug", settings.Logging.Level)
	require.Equal(t, "/tmp/stats.db", settings.Stats.Path)
	require.True(t, settings.ExclusiveMode.Enabled)
	require.Equal(t, 45, settings.RemoteIntegration.TimeoutSeconds)
	require.Equal(t, "rushti/2.0", settings.RemoteIntegration.UserAgent)
}

func TestLoadSettings_UnknownSectionProducesWarningNotError(t *testing.T) {
	path := writeSettingsFile(t, `
defaults:
  max_workers: 4
unknown_section:
  foo: bar
`)

	settings, warnings, err := LoadSettings(path)
	require.NoError(t, err)
	require.NotNil(t, settings)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "unknown_section")
}

func TestLoadSettings_UnknownKeyProducesWarningNotError(t *testing.T) {
	path := writeSettingsFile(t, `
defaults:
  max_workers: 4
  typo_field: 99
`)

	settings, warnings, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, 4, settings.Defaults.MaxWorkers)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "typo_field")
	require.Contains(t, warnings[0], "defaults")
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSettingsDerivedConfigs_FallBackToDefaultsWhenNil(t *testing.T) {
	var settings *Settings

	require.Equal(t, "data/stats.db", settings.StatsPath())
	require.Equal(t, "checkpoints", settings.CheckpointDir())
	require.Greater(t, settings.AutosaveInterval().Seconds(), 0.0)
	require.NotEmpty(t, settings.HTTPClientConfig().UserAgent)
	require.Greater(t, settings.BreakerConfig().ConsecutiveFailures, uint32(0))
	require.Greater(t, settings.EstimatorConfig().LookbackRuns, 0)
	require.Greater(t, settings.OptimizerConfig().MinRangeRatio, 0.0)
}

func TestSettingsDerivedConfigs_OverrideFromRemoteIntegrationSection(t *testing.T) {
	path := writeSettingsFile(t, `
remote_integration:
  timeout_seconds: 10
  retry_attempts: 1
  retry_backoff_ms: 50
  max_backoff_ms: 500
  user_agent: custom-agent
  allow_non_idempotent_retry: true
  breaker_consecutive_failures: 2
  breaker_open_timeout_seconds: 15
`)
	settings, _, err := LoadSettings(path)
	require.NoError(t, err)

	httpCfg := settings.HTTPClientConfig()
	require.Equal(t, 10, int(httpCfg.Timeout.Seconds()))
	require.Equal(t, 1, httpCfg.RetryAttempts)
	require.True(t, httpCfg.AllowNonIdempotentRetry)
	require.Equal(t, "custom-agent", httpCfg.UserAgent)

	breakerCfg := settings.BreakerConfig()
	require.Equal(t, uint32(2), breakerCfg.ConsecutiveFailures)
	require.Equal(t, 15, int(breakerCfg.OpenTimeout.Seconds()))
}
