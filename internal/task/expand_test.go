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

package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushti/rushti/internal/task"
)

func TestExpand_NoWildcards(t *testing.T) {
	tk := &task.Task{
		ID:         "extract_eu",
		Instance:   "prod-1",
		Process:    "rep_sales",
		Parameters: map[string]string{"region": "EU"},
	}

	invocations, err := task.Expand(context.Background(), tk, nil)
	require.NoError(t, err)
	require.Len(t, invocations, 1)
	assert.Equal(t, "extract_eu", invocations[0].Key)
	assert.Equal(t, "EU", invocations[0].Parameters["region"])
}

func TestExpand_SingleWildcard(t *testing.T) {
	tk := &task.Task{
		ID:         "extract_region",
		Instance:   "prod-1",
		Process:    "rep_sales",
		Parameters: map[string]string{"pRegion*": "all_regions()"},
	}

	resolve := func(ctx context.Context, instance, expr string) ([]string, error) {
		assert.Equal(t, "prod-1", instance)
		assert.Equal(t, "all_regions()", expr)
		return []string{"EU", "US", "APAC"}, nil
	}

	invocations, err := task.Expand(context.Background(), tk, resolve)
	require.NoError(t, err)
	require.Len(t, invocations, 3)

	seen := make(map[string]bool)
	for _, inv := range invocations {
		seen[inv.Parameters["pRegion"]] = true
		assert.Equal(t, tk, inv.Task)
		_, hasWildcardKey := inv.Parameters["pRegion*"]
		assert.False(t, hasWildcardKey, "wildcard suffix must be stripped")
	}
	assert.True(t, seen["EU"] && seen["US"] && seen["APAC"])

	// All instances share the task id as a prefix of their key.
	for _, inv := range invocations {
		assert.Contains(t, inv.Key, tk.ID)
	}
}

func TestExpand_CartesianProductAcrossTwoWildcards(t *testing.T) {
	tk := &task.Task{
		ID:       "extract_combo",
		Instance: "prod-1",
		Process:  "rep_sales",
		Parameters: map[string]string{
			"pRegion*": "regions()",
			"pYear*":   "years()",
		},
	}

	resolve := func(ctx context.Context, instance, expr string) ([]string, error) {
		switch expr {
		case "regions()":
			return []string{"EU", "US"}, nil
		case "years()":
			return []string{"2024", "2025"}, nil
		default:
			return nil, errors.New("unexpected expr")
		}
	}

	invocations, err := task.Expand(context.Background(), tk, resolve)
	require.NoError(t, err)
	assert.Len(t, invocations, 4)

	combos := make(map[string]bool)
	for _, inv := range invocations {
		combos[inv.Parameters["pRegion"]+"/"+inv.Parameters["pYear"]] = true
	}
	assert.Len(t, combos, 4)
}

func TestExpand_EmptyWildcardDropsTask(t *testing.T) {
	tk := &task.Task{
		ID:         "extract_empty",
		Instance:   "prod-1",
		Process:    "rep_sales",
		Parameters: map[string]string{"pRegion*": "nothing()"},
	}

	resolve := func(ctx context.Context, instance, expr string) ([]string, error) {
		return nil, nil
	}

	invocations, err := task.Expand(context.Background(), tk, resolve)
	require.NoError(t, err)
	assert.Empty(t, invocations)
}

func TestExpand_ResolverErrorPropagates(t *testing.T) {
	tk := &task.Task{
		ID:         "extract_fail",
		Instance:   "prod-1",
		Process:    "rep_sales",
		Parameters: map[string]string{"pRegion*": "broken()"},
	}

	resolveErr := errors.New("remote query failed")
	resolve := func(ctx context.Context, instance, expr string) ([]string, error) {
		return nil, resolveErr
	}

	_, err := task.Expand(context.Background(), tk, resolve)
	require.Error(t, err)
	assert.ErrorIs(t, err, resolveErr)
}

func TestExpand_StaticParametersPreservedAcrossExpansion(t *testing.T) {
	tk := &task.Task{
		ID:       "extract_mixed",
		Instance: "prod-1",
		Process:  "rep_sales",
		Parameters: map[string]string{
			"pRegion*": "regions()",
			"pFormat":  "csv",
		},
	}

	resolve := func(ctx context.Context, instance, expr string) ([]string, error) {
		return []string{"EU", "US"}, nil
	}

	invocations, err := task.Expand(context.Background(), tk, resolve)
	require.NoError(t, err)
	require.Len(t, invocations, 2)
	for _, inv := range invocations {
		assert.Equal(t, "csv", inv.Parameters["pFormat"])
	}
}
