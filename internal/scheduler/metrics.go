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

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the scheduler's Prometheus instrumentation. One Metrics
// is shared across a run; RunningTasks/ReadyTasks are gauges sampled at
// dispatch decisions, TasksTotal counts terminal outcomes by result.
type Metrics struct {
	RunningTasks prometheus.Gauge
	ReadyTasks   prometheus.Gauge
	TasksTotal   *prometheus.CounterVec
}

// NewMetrics registers the scheduler's metrics against reg. Passing a
// fresh *prometheus.Registry (rather than the global default registerer)
// keeps repeated test runs from colliding on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rushti_scheduler_running_tasks",
			Help: "Number of task instances currently dispatched and executing.",
		}),
		ReadyTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rushti_scheduler_ready_tasks",
			Help: "Number of task instances whose predecessors are satisfied but which have not yet been dispatched.",
		}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rushti_scheduler_tasks_total",
			Help: "Total task instance executions by terminal result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.RunningTasks, m.ReadyTasks, m.TasksTotal)
	return m
}
