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

package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_PartitionsAllIDsIntoPending(t *testing.T) {
	c := New("daily_load", "hash1", []string{"a", "b", "c"})
	require.Len(t, c.Pending, 3)
	require.Empty(t, c.Completed)
	require.Empty(t, c.InProgress)
	require.Empty(t, c.Skipped)
	require.Equal(t, 3, c.Partitions())
}

func TestMarkRunning_MovesFromPendingToInProgress(t *testing.T) {
	c := New("wf", "hash1", []string{"a", "b"})
	c.MarkRunning("a")
	require.Equal(t, []string{"b"}, c.Pending)
	require.Equal(t, []string{"a"}, c.InProgress)
}

func TestMarkCompleted_MovesFromInProgressToCompleted(t *testing.T) {
	c := New("wf", "hash1", []string{"a"})
	c.MarkRunning("a")
	c.MarkCompleted("a", Outcome{Success: true, Duration: 2 * time.Second, RetryCount: 0})

	require.Empty(t, c.InProgress)
	require.Contains(t, c.Completed, "a")
	require.True(t, c.Completed["a"].Success)
	require.Equal(t, 1, c.Partitions())
}

func TestMarkSkipped_MovesFromPendingToSkipped(t *testing.T) {
	c := New("wf", "hash1", []string{"a", "b"})
	c.MarkSkipped("b", "predecessor failed")

	require.Equal(t, []string{"a"}, c.Pending)
	require.Equal(t, "predecessor failed", c.Skipped["b"])
	require.Equal(t, 2, c.Partitions())
}

func TestPartitions_InvariantHoldsThroughoutLifecycle(t *testing.T) {
	c := New("wf", "hash1", []string{"a", "b", "c", "d"})
	c.MarkRunning("a")
	c.MarkRunning("b")
	c.MarkCompleted("a", Outcome{Success: true})
	c.MarkSkipped("c", "skipped due to failed dependency")

	require.Equal(t, 4, c.Partitions())
	require.Equal(t, []string{"d"}, c.Pending)
	require.Equal(t, []string{"b"}, c.InProgress)
}
