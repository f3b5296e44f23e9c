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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rushti/rushti/internal/workflow"
)

func TestResolve_BuiltinDefaultsWhenNothingElseSet(t *testing.T) {
	eff := Resolve(Flags{}, workflow.Settings{}, nil)
	require.Equal(t, 1, eff.MaxWorkers)
	require.Equal(t, 0, eff.Retries)
	require.False(t, eff.Exclusive)
	require.Equal(t, workflow.AlgorithmLongestFirst, eff.OptimizationAlgorithm)
}

func TestResolve_SettingsFileLayerBeatsBuiltinDefaults(t *testing.T) {
	fileSettings := &Settings{Defaults: DefaultsSection{MaxWorkers: 6, Retries: 3}}
	eff := Resolve(Flags{}, workflow.Settings{}, fileSettings)
	require.Equal(t, 6, eff.MaxWorkers)
	require.Equal(t, 3, eff.Retries)
}

func TestResolve_WorkflowSettingsBeatSettingsFile(t *testing.T) {
	fileSettings := &Settings{Defaults: DefaultsSection{MaxWorkers: 6}}
	wfSettings := workflow.Settings{MaxWorkers: 12, OptimizationAlgorithm: workflow.AlgorithmShortestFirst}
	eff := Resolve(Flags{}, wfSettings, fileSettings)
	require.Equal(t, 12, eff.MaxWorkers)
	require.Equal(t, workflow.AlgorithmShortestFirst, eff.OptimizationAlgorithm)
}

func TestResolve_FlagsBeatEverything(t *testing.T) {
	fileSettings := &Settings{Defaults: DefaultsSection{MaxWorkers: 6}, ExclusiveMode: ExclusiveModeSection{Enabled: true}}
	wfSettings := workflow.Settings{MaxWorkers: 12}
	maxWorkers := 20
	exclusive := false
	eff := Resolve(Flags{MaxWorkers: &maxWorkers, Exclusive: &exclusive}, wfSettings, fileSettings)
	require.Equal(t, 20, eff.MaxWorkers)
	require.False(t, eff.Exclusive, "an explicit --exclusive=false flag overrides the settings file's exclusive_mode")
}

func TestResolve_ExclusiveIsStickyAcrossLayersUnlessFlagOverrides(t *testing.T) {
	fileSettings := &Settings{ExclusiveMode: ExclusiveModeSection{Enabled: true}}
	eff := Resolve(Flags{}, workflow.Settings{}, fileSettings)
	require.True(t, eff.Exclusive)
}

func TestResolve_CarriesStageWorkersFromWorkflow(t *testing.T) {
	wfSettings := workflow.Settings{StageWorkers: map[string]int{"load": 2}}
	eff := Resolve(Flags{}, wfSettings, nil)
	require.Equal(t, 2, eff.StageWorkers["load"])
}

func TestEffective_LogAttrsIncludesAllFields(t *testing.T) {
	eff := Resolve(Flags{}, workflow.Settings{}, nil)
	attrs := eff.LogAttrs()
	require.Len(t, attrs, 5)
}
