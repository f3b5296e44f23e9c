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
	"sort"
	"time"

	"github.com/rushti/rushti/internal/workflow"
)

// driverGroup is every observation sharing one value of the driver
// parameter key.
type driverGroup struct {
	value    string
	tasks    []*taskObservation
	meanEWMA time.Duration
	count    int
}

// chain is one independent predecessor chain: the heaviest driver group's
// task for a given fan-out combination runs first, then the next heaviest,
// and so on.
type chain struct {
	fanOutKey string
	tasks     []*taskObservation // heaviest first
}

// varyingParameterKeys returns every parameter key that takes more than one
// distinct value across observations (step 2).
func varyingParameterKeys(observations []*taskObservation) []string {
	values := make(map[string]map[string]struct{})
	for _, obs := range observations {
		for k, v := range obs.task.Parameters {
			if values[k] == nil {
				values[k] = make(map[string]struct{})
			}
			values[k][v] = struct{}{}
		}
	}

	var keys []string
	for k, vs := range values {
		if len(vs) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// pickDriver implements step 3: group observations by each varying key's
// value, compute the group-mean-EWMA range for that key, and accept the
// key with the largest range only if it leads the runner-up by at least
// MinRangeRatio. Returns the winning key's own groups for the later steps.
func (o *Optimizer) pickDriver(observations []*taskObservation) (driver string, driverRange, runnerUpRange float64, groups []driverGroup) {
	keys := varyingParameterKeys(observations)
	if len(keys) == 0 {
		return "", 0, 0, nil
	}

	type candidate struct {
		key    string
		rng    float64
		groups []driverGroup
	}

	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		g := groupBy(observations, key)
		if len(g) < 2 {
			continue
		}
		rng := groupRange(g)
		candidates = append(candidates, candidate{key: key, rng: rng, groups: g})
	}
	if len(candidates) == 0 {
		return "", 0, 0, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rng > candidates[j].rng })

	top := candidates[0]
	if top.rng <= 0 {
		return "", 0, 0, nil
	}
	if len(candidates) == 1 {
		return top.key, top.rng, 0, top.groups
	}

	runnerUp := candidates[1].rng
	if runnerUp > 0 && top.rng < o.cfg.MinRangeRatio*runnerUp {
		return "", top.rng, runnerUp, nil
	}
	return top.key, top.rng, runnerUp, top.groups
}

func groupBy(observations []*taskObservation, key string) []driverGroup {
	byValue := make(map[string][]*taskObservation)
	var order []string
	for _, obs := range observations {
		v, ok := obs.task.Parameters[key]
		if !ok {
			continue
		}
		if _, seen := byValue[v]; !seen {
			order = append(order, v)
		}
		byValue[v] = append(byValue[v], obs)
	}

	groups := make([]driverGroup, 0, len(order))
	for _, v := range order {
		tasks := byValue[v]
		var sum time.Duration
		for _, t := range tasks {
			sum += t.ewma
		}
		groups = append(groups, driverGroup{
			value:    v,
			tasks:    tasks,
			meanEWMA: sum / time.Duration(len(tasks)),
			count:    len(tasks),
		})
	}
	return groups
}

func groupRange(groups []driverGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	min, max := groups[0].meanEWMA, groups[0].meanEWMA
	for _, g := range groups[1:] {
		if g.meanEWMA < min {
			min = g.meanEWMA
		}
		if g.meanEWMA > max {
			max = g.meanEWMA
		}
	}
	return float64(max - min)
}

// splitByOutlierFence implements step 4: compute the IQR upper fence over
// the driver's group means and partition into heavy (above fence) and
// light (at or below) groups.
func splitByOutlierFence(groups []driverGroup, k float64) (heavy, light []driverGroup) {
	means := make([]float64, len(groups))
	for i, g := range groups {
		means[i] = float64(g.meanEWMA)
	}
	fence := upperFence(means, k)

	for _, g := range groups {
		if float64(g.meanEWMA) > fence {
			heavy = append(heavy, g)
		} else {
			light = append(light, g)
		}
	}
	return heavy, light
}

// fanOutCombo builds the composite key identifying a task's values across
// every varying parameter key other than the driver — the "remaining"
// parameters step 5 groups chains by.
func fanOutCombo(obs *taskObservation, driver string, otherKeys []string) string {
	combo := ""
	for _, k := range otherKeys {
		combo += k + "=" + obs.task.Parameters[k] + "|"
	}
	return combo
}

// buildChains implements step 5: for each fan-out combination of the
// non-driver varying keys, link the heavy-group tasks sharing that
// combination from heaviest to lightest via predecessor edges. The number
// of chains returned equals the fan-out cardinality.
func buildChains(observations []*taskObservation, driver string, heavy []driverGroup) []chain {
	if driver == "" || len(heavy) == 0 {
		return nil
	}

	otherKeys := varyingParameterKeys(observations)
	filtered := otherKeys[:0:0]
	for _, k := range otherKeys {
		if k != driver {
			filtered = append(filtered, k)
		}
	}
	otherKeys = filtered

	// Sort heavy groups heaviest-first so each combo's slice comes out in
	// heaviest-to-lightest order regardless of original group order.
	sortedHeavy := append([]driverGroup(nil), heavy...)
	sort.Slice(sortedHeavy, func(i, j int) bool { return sortedHeavy[i].meanEWMA > sortedHeavy[j].meanEWMA })

	byCombo := make(map[string][]*taskObservation)
	var comboOrder []string
	for _, g := range sortedHeavy {
		for _, obs := range g.tasks {
			combo := fanOutCombo(obs, driver, otherKeys)
			if _, ok := byCombo[combo]; !ok {
				comboOrder = append(comboOrder, combo)
			}
			byCombo[combo] = append(byCombo[combo], obs)
		}
	}

	chains := make([]chain, 0, len(comboOrder))
	for _, combo := range comboOrder {
		chains = append(chains, chain{fanOutKey: combo, tasks: byCombo[combo]})
	}
	return chains
}

// applyChains materializes each chain as explicit predecessor edges on the
// cloned workflow's tasks: task i+1 depends on task i, heaviest first.
// Edges are ordering hints, not success gates, so require_predecessor_success
// is left as the task already had it.
func applyChains(wf *workflow.Workflow, chains []chain) {
	for _, c := range chains {
		for i := 1; i < len(c.tasks); i++ {
			prev := c.tasks[i-1].task.ID
			cur := c.tasks[i].task
			if !containsString(cur.Predecessors, prev) {
				cur.Predecessors = append(cur.Predecessors, prev)
			}
		}
	}
}

// reorderDriverMajor implements the "driver-major, heaviest group first"
// half of step 8: tasks are re-sorted so every task in the heaviest driver
// group comes first, then the next heaviest, and so on; tasks whose driver
// parameter wasn't observed in this run keep their original relative order
// at the end.
func reorderDriverMajor(wf *workflow.Workflow, driver string, groups []driverGroup) {
	if driver == "" || len(groups) == 0 {
		return
	}

	sorted := append([]driverGroup(nil), groups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].meanEWMA > sorted[j].meanEWMA })

	rank := make(map[string]int, len(sorted))
	for i, g := range sorted {
		rank[g.value] = i
	}

	byID := make(map[string]*struct {
		rank int
		has  bool
	}, len(wf.Tasks))
	for _, t := range wf.Tasks {
		v, ok := t.Parameters[driver]
		entry := &struct {
			rank int
			has  bool
		}{rank: len(sorted), has: false}
		if ok {
			if r, ok := rank[v]; ok {
				entry.rank = r
				entry.has = true
			}
		}
		byID[t.ID] = entry
	}

	originalIndex := make(map[string]int, len(wf.Tasks))
	for i, t := range wf.Tasks {
		originalIndex[t.ID] = i
	}

	sort.SliceStable(wf.Tasks, func(i, j int) bool {
		ri, rj := byID[wf.Tasks[i].ID].rank, byID[wf.Tasks[j].ID].rank
		if ri != rj {
			return ri < rj
		}
		return originalIndex[wf.Tasks[i].ID] < originalIndex[wf.Tasks[j].ID]
	})
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
