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

// Package estimate implements the RushTI runtime estimator (C6): an EWMA
// over each task signature's historical durations, with outlier
// dampening and a confidence score, used by the scheduler to order the
// ready set.
package estimate

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rushti/rushti/internal/stats"
)

// Estimate is the per-signature runtime estimate handed to the
// scheduler's ordering algorithms.
type Estimate struct {
	EWMA        time.Duration
	SampleCount int
	Confidence  float64
	Estimated   bool // true when synthesized from the workflow-level default
}

const (
	// DefaultAlpha is the EWMA smoothing factor absent an override.
	DefaultAlpha = 0.3

	// DefaultLookbackRuns bounds how many historical successful durations
	// feed the EWMA for a single signature.
	DefaultLookbackRuns = 20

	// DefaultFallback is used when no signature has any history at all.
	DefaultFallback = 10 * time.Second

	outlierThreshold = 3.0
	outlierCap       = 2.0
)

// Config controls the estimator's behavior.
type Config struct {
	LookbackRuns       int
	Alpha              float64
	MinSamples         int
	TimeOfDayWeighting bool
}

// DefaultConfig returns the estimator's built-in defaults.
func DefaultConfig() Config {
	return Config{
		LookbackRuns: DefaultLookbackRuns,
		Alpha:        DefaultAlpha,
		MinSamples:   1,
	}
}

// Estimator computes and caches runtime estimates for a single run. A new
// Estimator should be created per run; caching is disabled entirely when
// TimeOfDayWeighting is set, since time-of-day weighting makes a cached
// value stale the moment the clock advances.
type Estimator struct {
	store *stats.Store
	cfg   Config

	mu    sync.Mutex
	cache map[string]*Estimate

	defMu     sync.Mutex
	defCached *Estimate
}

// New returns an Estimator reading history from store.
func New(store *stats.Store, cfg Config) *Estimator {
	if cfg.LookbackRuns <= 0 {
		cfg.LookbackRuns = DefaultLookbackRuns
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	return &Estimator{
		store: store,
		cfg:   cfg,
		cache: make(map[string]*Estimate),
	}
}

// Estimate returns the runtime estimate for signature under workflow. On
// read failure from the stats store, it degrades to the workflow-level
// default rather than propagating the error into the scheduler — per the
// graceful-degradation rule, estimation failures must never block
// dispatch.
func (e *Estimator) Estimate(ctx context.Context, workflow, signature string) *Estimate {
	if !e.cfg.TimeOfDayWeighting {
		e.mu.Lock()
		if cached, ok := e.cache[signature]; ok {
			e.mu.Unlock()
			return cached
		}
		e.mu.Unlock()
	}

	durations, err := e.store.LastDurations(ctx, signature, e.cfg.LookbackRuns)
	var est *Estimate
	if err != nil || len(durations) == 0 {
		est = e.defaultEstimate(ctx, workflow)
	} else {
		est = computeEWMA(durations, e.cfg.Alpha)
	}

	if !e.cfg.TimeOfDayWeighting {
		e.mu.Lock()
		e.cache[signature] = est
		e.mu.Unlock()
	}
	return est
}

// computeEWMA implements spec §4.6: ewma₀ = d₀ (the newest duration);
// for each subsequent dₖ, dampen outliers beyond 3x the running EWMA down
// to a 2x cap before folding it in. Durations are consumed in the order
// given (newest-first, per stats.Store.LastDurations), so the result is
// order-sensitive but deterministic given the sample sequence.
func computeEWMA(durations []time.Duration, alpha float64) *Estimate {
	n := len(durations)
	ewma := float64(durations[0])
	for i := 1; i < n; i++ {
		d := float64(durations[i])
		if ewma > 0 && d > outlierThreshold*ewma {
			d = outlierCap * ewma
		}
		ewma = alpha*d + (1-alpha)*ewma
	}

	confidence := confidenceFor(durations)

	return &Estimate{
		EWMA:        time.Duration(ewma),
		SampleCount: n,
		Confidence:  confidence,
		Estimated:   false,
	}
}

// confidenceFor implements spec §4.6's confidence formula:
// min(1, n/10)*0.5 + (1 - min(1, cv))*0.5, where cv = stdev/mean. A
// single sample has no variance signal, so it is pinned at 0.30.
func confidenceFor(durations []time.Duration) float64 {
	n := len(durations)
	if n == 1 {
		return 0.30
	}

	sum := 0.0
	for _, d := range durations {
		sum += float64(d)
	}
	mean := sum / float64(n)

	var variance float64
	for _, d := range durations {
		diff := float64(d) - mean
		variance += diff * diff
	}
	variance /= float64(n)
	stdev := math.Sqrt(variance)

	cv := 0.0
	if mean > 0 {
		cv = stdev / mean
	}

	sampleTerm := math.Min(1, float64(n)/10) * 0.5
	varianceTerm := (1 - math.Min(1, cv)) * 0.5
	return sampleTerm + varianceTerm
}

// defaultEstimate computes the workflow-level fallback: the mean of the
// fastest 25% of EWMA values across every signature that has history,
// floored at one sample, falling back to DefaultFallback if the workflow
// has no history at all. Cached per run unless TimeOfDayWeighting is set.
func (e *Estimator) defaultEstimate(ctx context.Context, workflow string) *Estimate {
	if !e.cfg.TimeOfDayWeighting {
		e.defMu.Lock()
		if e.defCached != nil {
			cached := e.defCached
			e.defMu.Unlock()
			return cached
		}
		e.defMu.Unlock()
	}

	est := e.computeDefaultEstimate(ctx, workflow)

	if !e.cfg.TimeOfDayWeighting {
		e.defMu.Lock()
		e.defCached = est
		e.defMu.Unlock()
	}
	return est
}

// BelowMinSamples reports whether est has fewer samples than the
// estimator's configured minimum, the signal the scheduler's ordering
// algorithms use to sort a task to the middle of the ready set instead of
// trusting its estimate.
func (e *Estimator) BelowMinSamples(est *Estimate) bool {
	return est.Estimated || est.SampleCount < e.cfg.MinSamples
}

func (e *Estimator) computeDefaultEstimate(ctx context.Context, workflow string) *Estimate {
	signatures, err := e.store.Signatures(ctx, workflow)
	if err != nil || len(signatures) == 0 {
		return &Estimate{EWMA: DefaultFallback, SampleCount: 0, Confidence: 0, Estimated: true}
	}

	var ewmas []float64
	for _, sig := range signatures {
		durations, err := e.store.LastDurations(ctx, sig, e.cfg.LookbackRuns)
		if err != nil || len(durations) == 0 {
			continue
		}
		ewmas = append(ewmas, float64(computeEWMA(durations, e.cfg.Alpha).EWMA))
	}

	if len(ewmas) == 0 {
		return &Estimate{EWMA: DefaultFallback, SampleCount: 0, Confidence: 0, Estimated: true}
	}

	sort.Float64s(ewmas)
	quartile := len(ewmas) / 4
	if quartile < 1 {
		quartile = 1
	}
	fastest := ewmas[:quartile]

	var sum float64
	for _, v := range fastest {
		sum += v
	}
	mean := sum / float64(len(fastest))

	return &Estimate{
		EWMA:        time.Duration(mean),
		SampleCount: len(ewmas),
		Confidence:  0,
		Estimated:   true,
	}
}
