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

package task

import (
	"context"
	"fmt"
	"sort"
)

// Resolver evaluates a wildcard's query expression against the analytics
// server and returns the list of element names it expands to. The remote
// client (C9) supplies the concrete implementation; the query language
// itself is a gojq expression evaluated against the server's JSON response.
type Resolver func(ctx context.Context, instance, queryExpr string) ([]string, error)

// Invocation is one concrete, dispatchable expansion of a Task. Multiple
// Invocations can share a Task's ID; the DAG tracks dependency resolution
// at the ID level and dispatch/completion at the Invocation level via Key.
type Invocation struct {
	// Task is the originating task definition, shared by every sibling
	// invocation of the same ID.
	Task *Task

	// Key uniquely identifies this invocation for completion tracking.
	// For an unexpanded task it equals the task ID; for an expanded task
	// it is "<id>#<ordinal>".
	Key string

	// Parameters is the fully resolved parameter map for this
	// invocation: static parameters plus one concrete value per wildcard,
	// with the "*" suffix stripped from the key.
	Parameters map[string]string
}

// Expand resolves every wildcard parameter on t against resolve and
// returns the Cartesian product of invocations. A task with no wildcard
// parameters expands to exactly one invocation. If any wildcard resolves
// to zero elements, the Cartesian product is empty and Expand returns no
// invocations — the task is silently dropped, per the zero-element
// wildcard boundary behavior.
func Expand(ctx context.Context, t *Task, resolve Resolver) ([]*Invocation, error) {
	wildcardKeys := make([]string, 0)
	for k := range t.Parameters {
		if isWildcardKey(k) {
			wildcardKeys = append(wildcardKeys, k)
		}
	}

	if len(wildcardKeys) == 0 {
		params := make(map[string]string, len(t.Parameters))
		for k, v := range t.Parameters {
			params[k] = v
		}
		return []*Invocation{{Task: t, Key: t.ID, Parameters: params}}, nil
	}

	// Deterministic key/value ordering so expansion ordinals are stable
	// across repeated runs against the same inputs.
	sort.Strings(wildcardKeys)

	baseKeys := make([]string, len(wildcardKeys))
	valueSets := make([][]string, len(wildcardKeys))
	for i, wk := range wildcardKeys {
		baseKeys[i] = wk[:len(wk)-1]
		values, err := resolve(ctx, t.Instance, t.Parameters[wk])
		if err != nil {
			return nil, fmt.Errorf("expanding wildcard %q for task %q: %w", wk, t.ID, err)
		}
		valueSets[i] = values
	}

	staticParams := make(map[string]string)
	for k, v := range t.Parameters {
		if !isWildcardKey(k) {
			staticParams[k] = v
		}
	}

	combos := cartesianProduct(valueSets)
	invocations := make([]*Invocation, 0, len(combos))
	for idx, combo := range combos {
		params := make(map[string]string, len(staticParams)+len(combo))
		for k, v := range staticParams {
			params[k] = v
		}
		for i, v := range combo {
			params[baseKeys[i]] = v
		}
		invocations = append(invocations, &Invocation{
			Task:       t,
			Key:        fmt.Sprintf("%s#%d", t.ID, idx),
			Parameters: params,
		})
	}
	return invocations, nil
}

// cartesianProduct returns the Cartesian product of sets, preserving the
// order of sets and, within each set, the order of its elements. If any
// set is empty, the product is empty (nil).
func cartesianProduct(sets [][]string) [][]string {
	if len(sets) == 0 {
		return nil
	}
	for _, s := range sets {
		if len(s) == 0 {
			return nil
		}
	}

	result := [][]string{{}}
	for _, set := range sets {
		next := make([][]string, 0, len(result)*len(set))
		for _, prefix := range result {
			for _, v := range set {
				combo := make([]string, len(prefix)+1)
				copy(combo, prefix)
				combo[len(prefix)] = v
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}
