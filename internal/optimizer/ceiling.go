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

package optimizer

import (
	"context"
	"fmt"

	"github.com/rushti/rushti/internal/stats"
	"github.com/rushti/rushti/internal/workflow"
)

const (
	singleRunCorrelationThreshold = 0.7
	singleRunEfficiencyThreshold  = 0.75
)

// checkConcurrencyCeiling implements step 7: prefer multi_run evidence
// (wall clock observed at ≥2 distinct max_workers levels across history)
// over single_run evidence (this run's per-task concurrent_count/duration
// correlation plus a low efficiency score) when deciding whether more
// concurrency is hurting (ceiling) or could still help (scale_up).
func (o *Optimizer) checkConcurrencyCeiling(ctx context.Context, wf *workflow.Workflow, runID string, rows []*stats.TaskResult) (ConcurrencySignal, string, int, error) {
	aggregates, err := o.stats.WorkerAggregates(ctx, wf.Metadata.Workflow)
	if err != nil {
		return SignalNone, "", 0, fmt.Errorf("loading worker aggregates: %w", err)
	}
	if len(aggregates) >= 2 {
		signal, capLevel := multiRunSignal(aggregates)
		return signal, "multi_run", capLevel, nil
	}

	signal, capLevel, err := o.singleRunSignal(ctx, wf, runID, rows)
	if err != nil {
		return SignalNone, "", 0, err
	}
	return signal, "single_run", capLevel, nil
}

// multiRunSignal picks the max_workers level with the lowest average wall
// clock. If that's below the highest tested level, more workers made
// things worse at some point: a ceiling at the best level. If the best
// level is the highest tested, wall clock was still improving when testing
// stopped: a scale-up signal to try even higher.
func multiRunSignal(aggregates []stats.WorkerAggregate) (ConcurrencySignal, int) {
	best := aggregates[0]
	maxLevel := aggregates[0].MaxWorkers
	for _, a := range aggregates[1:] {
		if a.AvgWallClockMs < best.AvgWallClockMs {
			best = a
		}
		if a.MaxWorkers > maxLevel {
			maxLevel = a.MaxWorkers
		}
	}

	if best.MaxWorkers >= maxLevel {
		return SignalScaleUp, best.MaxWorkers
	}
	return SignalCeiling, best.MaxWorkers
}

// singleRunSignal implements the single-run confidence tier: Pearson
// correlation between per-task concurrent_count and duration ≥0.7, and
// efficiency (effective_parallelism / max_workers) below 0.75, together
// indicate the configured concurrency is contending against itself rather
// than buying throughput.
func (o *Optimizer) singleRunSignal(ctx context.Context, wf *workflow.Workflow, runID string, rows []*stats.TaskResult) (ConcurrencySignal, int, error) {
	if len(rows) < 2 {
		return SignalNone, 0, nil
	}

	concurrency := make([]float64, len(rows))
	durations := make([]float64, len(rows))
	var totalDurationMs float64
	for i, r := range rows {
		concurrency[i] = float64(r.ConcurrentCount)
		durations[i] = float64(r.DurationMs)
		totalDurationMs += float64(r.DurationMs)
	}

	run, err := o.stats.GetRun(ctx, runID)
	if err != nil {
		return SignalNone, 0, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if run.WallClockMs == nil || *run.WallClockMs <= 0 {
		return SignalNone, 0, nil
	}

	maxWorkers := wf.Settings.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	effectiveParallelism := totalDurationMs / float64(*run.WallClockMs)
	efficiency := effectiveParallelism / float64(maxWorkers)
	correlation := pearsonCorrelation(concurrency, durations)

	if correlation >= singleRunCorrelationThreshold && efficiency < singleRunEfficiencyThreshold {
		capLevel := maxWorkers - 1
		if capLevel < 1 {
			capLevel = 1
		}
		return SignalCeiling, capLevel, nil
	}
	return SignalNone, 0, nil
}
