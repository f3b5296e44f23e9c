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

// Package workflow implements the RushTI workflow loader (C2): parsing the
// line-oriented and JSON workflow file formats into a common Workflow
// value, with schema validation shared by both formats.
package workflow

import (
	"time"

	"github.com/rushti/rushti/internal/task"
)

// Mode classifies a line-format workflow. JSON workflows are always "opt".
type Mode string

const (
	ModeOpt  Mode = "opt"
	ModeNorm Mode = "norm"
)

// Algorithm names a ready-set ordering algorithm.
type Algorithm string

const (
	AlgorithmLongestFirst  Algorithm = "longest_first"
	AlgorithmShortestFirst Algorithm = "shortest_first"
)

// Metadata is the descriptive header carried by a workflow document.
type Metadata struct {
	Workflow    string `json:"workflow" yaml:"workflow"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
}

// Settings is the workflow-file `settings` block. Zero values mean
// "unset"; the effective-settings merge (internal/config) fills gaps from
// the settings file and built-in defaults.
type Settings struct {
	MaxWorkers            int            `json:"max_workers,omitempty" yaml:"max_workers,omitempty" validate:"omitempty,min=1"`
	Retries               int            `json:"retries,omitempty" yaml:"retries,omitempty" validate:"omitempty,min=0"`
	ResultFile            string         `json:"result_file,omitempty" yaml:"result_file,omitempty"`
	Mode                  Mode           `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=norm opt"`
	Exclusive             bool           `json:"exclusive,omitempty" yaml:"exclusive,omitempty"`
	OptimizationAlgorithm Algorithm      `json:"optimization_algorithm,omitempty" yaml:"optimization_algorithm,omitempty" validate:"omitempty,oneof=longest_first shortest_first"`
	StageOrder            []string       `json:"stage_order,omitempty" yaml:"stage_order,omitempty"`
	StageWorkers          map[string]int `json:"stage_workers,omitempty" yaml:"stage_workers,omitempty"`
}

// TaskDocument is the JSON-wire shape of one task, before it is lifted
// into a *task.Task. Parameters arrives as a raw string map; reserved keys
// are rejected there rather than folded silently into Parameters.
type TaskDocument struct {
	ID                        string            `json:"id" validate:"required"`
	Instance                  string            `json:"instance" validate:"required"`
	Process                   string            `json:"process" validate:"required"`
	Parameters                map[string]string `json:"parameters,omitempty"`
	Predecessors              []string          `json:"predecessors,omitempty"`
	Stage                     string            `json:"stage,omitempty"`
	RequirePredecessorSuccess bool              `json:"require_predecessor_success,omitempty"`
	SucceedOnMinorErrors      bool              `json:"succeed_on_minor_errors,omitempty"`
	SafeRetry                 bool              `json:"safe_retry,omitempty"`
	TimeoutSeconds            int               `json:"timeout,omitempty" validate:"omitempty,min=0"`
	CancelAtTimeout           bool              `json:"cancel_at_timeout,omitempty"`
}

// Document is the JSON wire format: version/metadata/settings/tasks.
type Document struct {
	Version  string         `json:"version" validate:"required"`
	Metadata Metadata       `json:"metadata"`
	Settings Settings       `json:"settings"`
	Tasks    []TaskDocument `json:"tasks" validate:"required,min=1,dive"`
}

// TaskModel is the format-agnostic intermediate representation both
// decoders build before validation and before lifting to *task.Task. Using
// one shape for both formats lets validateDocument and the line/JSON round
// trip share a single code path.
type TaskModel struct {
	ID                        string
	Instance                  string
	Process                   string
	Parameters                map[string]string
	Predecessors              []string
	Stage                     string
	RequirePredecessorSuccess bool
	SucceedOnMinorErrors      bool
	SafeRetry                 bool
	TimeoutSeconds            int
	CancelAtTimeout           bool
}

func (m *TaskModel) toTask() *task.Task {
	return &task.Task{
		ID:                        m.ID,
		Instance:                  m.Instance,
		Process:                   m.Process,
		Parameters:                m.Parameters,
		Predecessors:              m.Predecessors,
		Stage:                     m.Stage,
		RequirePredecessorSuccess: m.RequirePredecessorSuccess,
		SucceedOnMinorErrors:      m.SucceedOnMinorErrors,
		SafeRetry:                 m.SafeRetry,
		Timeout:                   time.Duration(m.TimeoutSeconds) * time.Second,
		CancelAtTimeout:           m.CancelAtTimeout,
	}
}

// Workflow is the loader's common output, independent of source format.
type Workflow struct {
	Version  string
	Metadata Metadata
	Settings Settings
	Tasks    []*task.Task
	Mode     Mode
}
