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

// Package optimizer implements the RushTI contention-aware optimizer
// (C10): an offline analyzer over a workflow's historical runs that
// detects a "contention driver" parameter, synthesizes predecessor chains
// ordering the heaviest work first, and recommends a max_workers setting.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rushti/rushti/internal/estimate"
	"github.com/rushti/rushti/internal/stats"
	"github.com/rushti/rushti/internal/task"
	"github.com/rushti/rushti/internal/workflow"
)

// Config tunes the optimizer's thresholds, both defaulted per spec.md §4.10.
type Config struct {
	// MinRangeRatio is how far ahead the leading varying key's group-mean
	// range must be over the runner-up's to be accepted as the driver.
	MinRangeRatio float64

	// IQRMultiplier (k) sets the upper outlier fence at Q3 + k*IQR over the
	// driver's group means.
	IQRMultiplier float64
}

// DefaultConfig returns the optimizer's built-in thresholds.
func DefaultConfig() Config {
	return Config{MinRangeRatio: 5, IQRMultiplier: 10}
}

// Optimizer analyzes a workflow's execution history.
type Optimizer struct {
	stats     *stats.Store
	estimator *estimate.Estimator
	cfg       Config
}

// New returns an Optimizer reading history from store via estimator.
func New(store *stats.Store, estimator *estimate.Estimator, cfg Config) *Optimizer {
	if cfg.MinRangeRatio <= 0 {
		cfg.MinRangeRatio = DefaultConfig().MinRangeRatio
	}
	if cfg.IQRMultiplier <= 0 {
		cfg.IQRMultiplier = DefaultConfig().IQRMultiplier
	}
	return &Optimizer{stats: store, estimator: estimator, cfg: cfg}
}

// ConcurrencySignal classifies the evidence the ceiling check found.
type ConcurrencySignal string

const (
	SignalNone    ConcurrencySignal = ""
	SignalCeiling ConcurrencySignal = "ceiling"
	SignalScaleUp ConcurrencySignal = "scale_up"
)

// Result is the optimizer's output: the emitted workflow plus the
// decisions behind it, for the CLI to report.
type Result struct {
	Workflow *workflow.Workflow

	Driver                string
	DriverRange           float64
	RunnerUpRange         float64
	HeavyGroups           []string
	LightGroups           []string
	ChainCount            int
	RecommendedMaxWorkers int
	ConcurrencySignal     ConcurrencySignal
	ConcurrencyConfidence string // "multi_run" or "single_run"
	Notes                 []string
}

type taskObservation struct {
	task            *task.Task
	signature       string
	ewma            time.Duration
	durationMs      int64
	concurrentCount int
}

// Analyze runs the full eight-step algorithm over wf, using task_results
// from runID (the most recent successful run of wf) to identify varying
// parameter keys and per-task observed concurrency, and the estimator's
// signature-keyed EWMA (reusing C6) as each task's typical-duration proxy.
func (o *Optimizer) Analyze(ctx context.Context, wf *workflow.Workflow, runID string) (*Result, error) {
	rows, err := o.stats.RunRows(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s for optimization: %w", runID, err)
	}

	byID := make(map[string]*task.Task, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byID[t.ID] = t
	}

	observations := make([]*taskObservation, 0, len(rows))
	for _, row := range rows {
		t, ok := byID[row.TaskID]
		if !ok {
			continue
		}
		est := o.estimator.Estimate(ctx, wf.Metadata.Workflow, row.Signature)
		observations = append(observations, &taskObservation{
			task:            t,
			signature:       row.Signature,
			ewma:            est.EWMA,
			durationMs:      row.DurationMs,
			concurrentCount: row.ConcurrentCount,
		})
	}

	res := &Result{Notes: []string{}}

	driver, driverRange, runnerUpRange, groups := o.pickDriver(observations)
	res.Driver = driver
	res.DriverRange = driverRange
	res.RunnerUpRange = runnerUpRange

	var heavy, light []driverGroup
	if driver != "" {
		if len(groups) >= 4 {
			heavy, light = splitByOutlierFence(groups, o.cfg.IQRMultiplier)
			for _, g := range heavy {
				res.HeavyGroups = append(res.HeavyGroups, g.value)
			}
			for _, g := range light {
				res.LightGroups = append(res.LightGroups, g.value)
			}
		} else {
			res.Notes = append(res.Notes, fmt.Sprintf(
				"driver %q has only %d distinct values; outlier detection needs at least 4, no chains emitted", driver, len(groups)))
		}
	}

	chains := buildChains(observations, driver, heavy)
	res.ChainCount = len(chains)

	workerRec := recommendWorkers(chains, heavy, light)

	signal, confidence, ceilingCap, err := o.checkConcurrencyCeiling(ctx, wf, runID, rows)
	if err != nil {
		res.Notes = append(res.Notes, fmt.Sprintf("concurrency-ceiling check skipped: %s", err))
	}
	res.ConcurrencySignal = signal
	res.ConcurrencyConfidence = confidence

	switch signal {
	case SignalCeiling:
		if ceilingCap > 0 && ceilingCap < workerRec {
			workerRec = ceilingCap
		}
	case SignalScaleUp:
		if ceilingCap > workerRec {
			workerRec = ceilingCap
		}
	}
	if workerRec < 1 {
		workerRec = 1
	}
	res.RecommendedMaxWorkers = workerRec

	out := cloneWorkflow(wf)
	out.Settings.MaxWorkers = workerRec

	switch {
	case driver != "" && len(chains) > 0:
		applyChains(out, chains)
		reorderDriverMajor(out, driver, groups)
	case driver == "" && signal != SignalNone:
		res.Notes = append(res.Notes, "no contention driver detected; emitting worker recommendation only")
	case driver == "" && signal == SignalNone && len(observations) > 0:
		out.Settings.OptimizationAlgorithm = workflow.AlgorithmLongestFirst
		res.Notes = append(res.Notes, "no driver or concurrency signal detected; falling back to longest_first ordering")
	}

	res.Workflow = out
	return res, nil
}

func cloneWorkflow(wf *workflow.Workflow) *workflow.Workflow {
	out := &workflow.Workflow{
		Version:  wf.Version,
		Metadata: wf.Metadata,
		Settings: wf.Settings,
		Mode:     workflow.ModeOpt,
		Tasks:    make([]*task.Task, len(wf.Tasks)),
	}
	for i, t := range wf.Tasks {
		clone := *t
		clone.Predecessors = append([]string(nil), t.Predecessors...)
		params := make(map[string]string, len(t.Parameters))
		for k, v := range t.Parameters {
			params[k] = v
		}
		clone.Parameters = params
		out.Tasks[i] = &clone
	}
	return out
}

// recommendWorkers implements step 6: chain_slots + ceil(light_total_work /
// critical_path), where chain_slots is the fan-out cardinality (one worker
// per independent chain) and critical_path is the sum of heavy-group means
// (the longest any one chain must run serially).
func recommendWorkers(chains []chain, heavy, light []driverGroup) int {
	chainSlots := len(chains)
	if chainSlots == 0 {
		chainSlots = 1
	}

	var criticalPath time.Duration
	for _, g := range heavy {
		criticalPath += g.meanEWMA
	}

	var lightTotal time.Duration
	for _, g := range light {
		lightTotal += g.meanEWMA * time.Duration(g.count)
	}

	if criticalPath <= 0 || lightTotal <= 0 {
		return chainSlots
	}
	extra := int(math.Ceil(float64(lightTotal) / float64(criticalPath)))
	return chainSlots + extra
}
