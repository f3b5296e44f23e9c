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

package scheduler

import (
	"context"
	"sort"

	"github.com/rushti/rushti/internal/task"
	"github.com/rushti/rushti/internal/workflow"
)

// orderReady sorts ready into dispatch order per algorithm, using the
// estimator's per-signature EWMA as the runtime proxy. Any instance the
// estimator can't confidently size (BelowMinSamples) sorts to the middle
// of the set rather than to either extreme — an unproven
// estimate shouldn't be trusted to anchor the schedule. Ordering never
// fails: an estimator error degrades to the ready set's original order,
// since ordering is a heuristic, not a correctness requirement.
func (s *Scheduler) orderReady(ctx context.Context, ready []*task.Invocation) []*task.Invocation {
	if s.cfg.Algorithm != workflow.AlgorithmShortestFirst && s.cfg.Algorithm != workflow.AlgorithmLongestFirst {
		return ready
	}
	if len(ready) < 2 {
		return ready
	}

	type scored struct {
		inv        *task.Invocation
		ewmaMillis int64
		confident  bool
	}

	scoredSet := make([]scored, len(ready))
	for i, inv := range ready {
		sig := task.Signature(inv.Task.Instance, inv.Task.Process, inv.Parameters)
		est := s.estimator.Estimate(ctx, s.workflowName, sig)
		scoredSet[i] = scored{
			inv:        inv,
			ewmaMillis: est.EWMA.Milliseconds(),
			confident:  !s.estimator.BelowMinSamples(est),
		}
	}

	// Partition into confident/unconfident: unconfident entries keep
	// their relative (original) order and sit in the middle of the
	// dispatch sequence, between the confidently-sorted halves.
	var confident, unconfident []scored
	for _, sc := range scoredSet {
		if sc.confident {
			confident = append(confident, sc)
		} else {
			unconfident = append(unconfident, sc)
		}
	}

	less := func(i, j int) bool { return confident[i].ewmaMillis < confident[j].ewmaMillis }
	if s.cfg.Algorithm == workflow.AlgorithmLongestFirst {
		less = func(i, j int) bool { return confident[i].ewmaMillis > confident[j].ewmaMillis }
	}
	sort.SliceStable(confident, less)

	mid := len(confident) / 2
	out := make([]*task.Invocation, 0, len(ready))
	for _, sc := range confident[:mid] {
		out = append(out, sc.inv)
	}
	for _, sc := range unconfident {
		out = append(out, sc.inv)
	}
	for _, sc := range confident[mid:] {
		out = append(out, sc.inv)
	}
	return out
}
