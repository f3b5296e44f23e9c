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
	"log/slog"
	"sync"
	"time"

	"github.com/rushti/rushti/internal/log"
)

// DefaultInterval is the wall-clock cadence at which Autosaver flushes a
// checkpoint even when no task has completed in the meantime.
const DefaultInterval = 60 * time.Second

// Autosaver drives the checkpoint save cadence described by the scheduler:
// a save on every task completion, plus a save on a wall-clock interval so
// a long-running task doesn't leave the checkpoint stale. Callers notify
// completions with Touch; Autosaver coalesces a burst of completions
// within the same tick into a single write.
type Autosaver struct {
	store    *Store
	snapshot func() *Checkpoint
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	dirty   bool
	stopped chan struct{}
	touch   chan struct{}
}

// NewAutosaver returns an Autosaver that persists snapshots taken from
// snapshot() via store, waking either on Touch or every interval.
func NewAutosaver(store *Store, snapshot func() *Checkpoint, interval time.Duration, logger *slog.Logger) *Autosaver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Autosaver{
		store:    store,
		snapshot: snapshot,
		interval: interval,
		logger:   logger,
		stopped:  make(chan struct{}),
		touch:    make(chan struct{}, 1),
	}
}

// Touch asks Run for an immediate save — called after every task
// completion. It never blocks: a Touch arriving while another is still
// pending is folded into that pending save.
func (a *Autosaver) Touch() {
	select {
	case a.touch <- struct{}{}:
	default:
	}
}

// Run blocks, saving on every Touch and every interval tick, until ctx is
// done. A final save runs before Run returns, so the last completion
// before shutdown is never lost.
func (a *Autosaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.saveNow(ctx)
			close(a.stopped)
			return
		case <-a.touch:
			a.saveNow(ctx)
		case <-ticker.C:
			a.saveNow(ctx)
		}
	}
}

func (a *Autosaver) saveNow(ctx context.Context) {
	snap := a.snapshot()
	if snap == nil {
		return
	}
	if err := a.store.Save(snap); err != nil {
		if a.logger != nil {
			a.logger.WarnContext(ctx, "checkpoint write failed", log.EventKey, "checkpoint_write_failed", "error", err)
		}
	}
}
