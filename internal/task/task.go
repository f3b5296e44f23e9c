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

// Package task defines the RushTI task record and the parameter-expansion
// rules that turn one task definition into one or more dispatchable
// instances.
package task

import "time"

// ReservedKeys are parameter keys lifted onto Task fields rather than left
// in Parameters. They are normalized to lowercase during loading (§9 of the
// specification: "reserved keys are normalized to lowercase during
// parsing").
var ReservedKeys = map[string]struct{}{
	"id":       {},
	"instance": {},
	"process":  {},
}

// IsReserved reports whether key (case-insensitively) names a reserved field.
func IsReserved(key string) bool {
	_, ok := ReservedKeys[normalizeKey(key)]
	return ok
}

func normalizeKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Task is an invocation record: a single named call against an analytics
// server instance, plus the scheduling metadata the DAG and harness need
// to run it. A Task is immutable once constructed by the loader (C2); the
// scheduler never mutates it.
type Task struct {
	// ID uniquely identifies this task within its workflow. Multiple
	// Instances (post wildcard-expansion) can share one ID; the DAG
	// resolves dependencies at the ID level and dispatch at the instance
	// level.
	ID string

	// Instance is the logical analytics server name this task targets.
	// It resolves to a connection via the connection descriptor file.
	Instance string

	// Process is the stored procedure name invoked on the server.
	Process string

	// Parameters is the mapping handed to the process, excluding reserved
	// keys. Keys ending in "*" are wildcards resolved through Expand.
	Parameters map[string]string

	// Predecessors lists the task IDs that must reach a terminal state
	// before this task may start.
	Predecessors []string

	// Stage optionally groups this task for ordering and/or a per-stage
	// concurrency cap.
	Stage string

	// RequirePredecessorSuccess, if true, causes this task to be skipped
	// (not run) when any predecessor failed.
	RequirePredecessorSuccess bool

	// SucceedOnMinorErrors, if true, treats a "completed with minor
	// errors" server status as success.
	SucceedOnMinorErrors bool

	// SafeRetry, if true, declares this task side-effect-safe to re-run
	// after an interrupted execution; it governs resume behavior (C5).
	SafeRetry bool

	// Timeout is the per-attempt wall-clock budget. Zero means no timer
	// is armed.
	Timeout time.Duration

	// CancelAtTimeout, if true, causes the harness to issue a remote
	// cancel RPC when the timer fires.
	CancelAtTimeout bool
}

// HasWildcards reports whether any parameter key ends in "*".
func (t *Task) HasWildcards() bool {
	for k := range t.Parameters {
		if isWildcardKey(k) {
			return true
		}
	}
	return false
}

func isWildcardKey(key string) bool {
	return len(key) > 1 && key[len(key)-1] == '*'
}
