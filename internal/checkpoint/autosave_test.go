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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAutosaver_SavesOnTouch(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "wf")
	c := New("wf", "hash1", []string{"a"})

	var saves int32
	snapshot := func() *Checkpoint {
		atomic.AddInt32(&saves, 1)
		return c
	}

	a := NewAutosaver(store, snapshot, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Touch()
	require.Eventually(t, func() bool {
		return store.Exists()
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.GreaterOrEqual(t, atomic.LoadInt32(&saves), int32(1))
}

func TestAutosaver_SavesOnIntervalTick(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "wf")
	c := New("wf", "hash1", []string{"a"})

	a := NewAutosaver(store, func() *Checkpoint { return c }, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	require.Eventually(t, func() bool {
		return store.Exists()
	}, time.Second, 10*time.Millisecond)

	cancel()
}

func TestAutosaver_FinalSaveOnShutdown(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "wf")

	var gen int32
	c := New("wf", "hash1", []string{"a"})
	snapshot := func() *Checkpoint {
		atomic.AddInt32(&gen, 1)
		return c
	}

	a := NewAutosaver(store, snapshot, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	require.True(t, store.Exists())
}
