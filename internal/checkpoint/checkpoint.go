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

// Package checkpoint implements the RushTI checkpoint store (C5): an
// atomic, single-file JSON snapshot of a run's progress, used to resume a
// killed or interrupted run without re-executing already-completed tasks.
package checkpoint

import (
	"time"
)

// Outcome is the recorded result of one completed task id.
type Outcome struct {
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	RetryCount int           `json:"retry_count"`
	Error      string        `json:"error,omitempty"`
}

// Checkpoint is a single run's snapshot: the workflow identity, the hash
// of the workflow file it was built from, and the four disjoint id-sets
// that partition every task id in the workflow.
type Checkpoint struct {
	Workflow     string             `json:"workflow"`
	WorkflowHash string             `json:"workflow_hash"`
	StartedAt    time.Time          `json:"started_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Completed    map[string]Outcome `json:"completed"`
	InProgress   []string           `json:"in_progress"`
	Pending      []string           `json:"pending"`
	Skipped      map[string]string  `json:"skipped"` // id -> skip reason
}

// New returns an empty checkpoint for workflow, hashed to workflowHash,
// with every id in pending.
func New(workflow, workflowHash string, ids []string) *Checkpoint {
	now := time.Now()
	pending := make([]string, len(ids))
	copy(pending, ids)
	return &Checkpoint{
		Workflow:     workflow,
		WorkflowHash: workflowHash,
		StartedAt:    now,
		UpdatedAt:    now,
		Completed:    make(map[string]Outcome),
		InProgress:   []string{},
		Pending:      pending,
		Skipped:      make(map[string]string),
	}
}

// MarkRunning moves id from pending to in_progress.
func (c *Checkpoint) MarkRunning(id string) {
	c.Pending = removeString(c.Pending, id)
	if !containsString(c.InProgress, id) {
		c.InProgress = append(c.InProgress, id)
	}
	c.UpdatedAt = time.Now()
}

// MarkCompleted moves id from in_progress (or pending) to completed,
// recording its outcome.
func (c *Checkpoint) MarkCompleted(id string, outcome Outcome) {
	c.InProgress = removeString(c.InProgress, id)
	c.Pending = removeString(c.Pending, id)
	c.Completed[id] = outcome
	c.UpdatedAt = time.Now()
}

// MarkSkipped moves id from pending (or in_progress) to skipped.
func (c *Checkpoint) MarkSkipped(id, reason string) {
	c.Pending = removeString(c.Pending, id)
	c.InProgress = removeString(c.InProgress, id)
	c.Skipped[id] = reason
	c.UpdatedAt = time.Now()
}

// Partitions reports the total number of ids tracked across all four
// sets, used to assert the invariant that they partition the id universe.
func (c *Checkpoint) Partitions() int {
	return len(c.Completed) + len(c.InProgress) + len(c.Pending) + len(c.Skipped)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
