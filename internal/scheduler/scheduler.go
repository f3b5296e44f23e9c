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

// Package scheduler implements the RushTI concurrent DAG scheduler (C7):
// the ready-set/dispatch loop that turns a built dag.DAG into running
// task instances, honouring global and per-stage concurrency caps,
// cooperative cancellation, and predecessor-failure propagation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rushti/rushti/internal/checkpoint"
	"github.com/rushti/rushti/internal/dag"
	"github.com/rushti/rushti/internal/estimate"
	"github.com/rushti/rushti/internal/harness"
	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/stats"
	"github.com/rushti/rushti/internal/task"
	"github.com/rushti/rushti/internal/workflow"
)

// Config holds the scheduler's per-run concurrency and ordering settings,
// resolved from the effective settings (internal/config).
type Config struct {
	MaxWorkers   int
	StageWorkers map[string]int
	Retries      int
	Algorithm    workflow.Algorithm

	// Exclusive forces the run to a single in-flight task regardless of
	// MaxWorkers/StageWorkers, per the workflow settings' "exclusive"
	// flag (spec.md §6). See DESIGN.md for the Open Question decision
	// behind this interpretation.
	Exclusive bool
}

func (c Config) effectiveMaxWorkers() int64 {
	if c.Exclusive {
		return 1
	}
	if c.MaxWorkers < 1 {
		return 1
	}
	return int64(c.MaxWorkers)
}

func (c Config) effectiveStageWorkers(stage string) int64 {
	if c.Exclusive {
		return 1
	}
	if n, ok := c.StageWorkers[stage]; ok && n > 0 {
		return int64(n)
	}
	return 0
}

// Harness is the subset of *harness.Harness the scheduler depends on.
type Harness interface {
	Run(ctx context.Context, t *task.Task, instance string, parameters map[string]string, retries int) harness.Result
}

type taskAgg struct {
	total      int
	done       int
	success    bool
	duration   time.Duration
	retryCount int
	errMsg     string
}

// Scheduler dispatches a dag.DAG's ready instances through a Harness,
// recording progress to a checkpoint and a stats store as it goes.
type Scheduler struct {
	dag       *dag.DAG
	harness   Harness
	estimator *estimate.Estimator
	stats     *stats.Store
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	cfg          Config
	runID        string
	workflowName string

	globalSem *semaphore.Weighted

	stageMu   sync.Mutex
	stageSems map[string]*semaphore.Weighted

	cpMu sync.Mutex
	cp   *checkpoint.Checkpoint
	save func() // best-effort autosave touch, nil-safe

	aggMu sync.Mutex
	agg   map[string]*taskAgg

	running atomic.Int64
}

// New builds a Scheduler. cp and touch may be nil (e.g. in tests that
// don't exercise checkpointing); metrics, tracer, and logger fall back to
// no-op/default implementations when nil.
func New(
	d *dag.DAG,
	h Harness,
	est *estimate.Estimator,
	statsStore *stats.Store,
	cp *checkpoint.Checkpoint,
	touch func(),
	cfg Config,
	metrics *Metrics,
	tracer trace.Tracer,
	logger *slog.Logger,
	runID, workflowName string,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if touch == nil {
		touch = func() {}
	}
	return &Scheduler{
		dag:          d,
		harness:      h,
		estimator:    est,
		stats:        statsStore,
		metrics:      metrics,
		tracer:       tracer,
		logger:       logger,
		cfg:          cfg,
		runID:        runID,
		workflowName: workflowName,
		globalSem:    semaphore.NewWeighted(cfg.effectiveMaxWorkers()),
		stageSems:    make(map[string]*semaphore.Weighted),
		cp:           cp,
		save:         touch,
		agg:          make(map[string]*taskAgg),
	}
}

func (s *Scheduler) stageSemaphore(stage string) *semaphore.Weighted {
	if stage == "" {
		return nil
	}
	weight := s.cfg.effectiveStageWorkers(stage)
	if weight <= 0 {
		return nil
	}

	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	sem, ok := s.stageSems[stage]
	if !ok {
		sem = semaphore.NewWeighted(weight)
		s.stageSems[stage] = sem
	}
	return sem
}

// Run dispatches every ready instance until the DAG completes or ctx is
// cancelled. Cancellation stops new dispatch immediately; in-flight tasks
// are given the chance to honour it at their own next suspension point
// (the harness's attempt loop), and Run waits for them to drain before
// returning. The checkpoint is saved a final time before Run returns,
// regardless of outcome.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{}, 1)
	signalDone := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	for !s.dag.IsComplete() {
		select {
		case <-gctx.Done():
			goto drain
		default:
		}

		ready := s.dag.ReadyInstances()
		if s.metrics != nil {
			s.metrics.ReadyTasks.Set(float64(len(ready)))
		}
		ordered := s.orderReady(ctx, ready)

		dispatched := false
		for _, inv := range ordered {
			stage := inv.Task.Stage
			stageSem := s.stageSemaphore(stage)
			if stageSem != nil && !stageSem.TryAcquire(1) {
				continue
			}
			if !s.globalSem.TryAcquire(1) {
				if stageSem != nil {
					stageSem.Release(1)
				}
				continue
			}
			dispatched = true

			s.dag.MarkRunning(inv.Key)
			s.checkpointMarkRunning(inv.Task.ID)

			inv := inv
			g.Go(func() error {
				defer s.globalSem.Release(1)
				if stageSem != nil {
					defer stageSem.Release(1)
				}
				defer signalDone()
				return s.dispatchOne(gctx, inv)
			})
		}

		if !dispatched {
			select {
			case <-done:
			case <-gctx.Done():
				goto drain
			}
		} else {
			select {
			case <-done:
			default:
			}
		}
	}

drain:
	waitErr := g.Wait()
	s.save()
	if waitErr != nil {
		return fmt.Errorf("scheduler: fatal error: %w", waitErr)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) checkpointMarkRunning(id string) {
	if s.cp == nil {
		return
	}
	s.cpMu.Lock()
	s.cp.MarkRunning(id)
	s.cpMu.Unlock()
	s.save()
}

func (s *Scheduler) checkpointMarkCompleted(id string, outcome checkpoint.Outcome) {
	if s.cp == nil {
		return
	}
	s.cpMu.Lock()
	s.cp.MarkCompleted(id, outcome)
	s.cpMu.Unlock()
	s.save()
}

func (s *Scheduler) checkpointMarkSkipped(id, reason string) {
	if s.cp == nil {
		return
	}
	s.cpMu.Lock()
	s.cp.MarkSkipped(id, reason)
	s.cpMu.Unlock()
	s.save()
}

// dispatchOne runs a single invocation through the harness and folds its
// result back into the DAG, checkpoint, and stats store. It recovers from
// a panic in the harness call and reports it as the scheduler's one fatal,
// non-task error — everything else (including every task outcome, success
// or failure) is ordinary data, not a reason to abort the run.
func (s *Scheduler) dispatchOne(ctx context.Context, inv *task.Invocation) (fatalErr error) {
	defer func() {
		if r := recover(); r != nil {
			fatalErr = fmt.Errorf("scheduler: panic dispatching task %q: %v", inv.Task.ID, r)
		}
	}()

	concurrent := int(s.running.Add(1))
	defer s.running.Add(-1)
	if s.metrics != nil {
		s.metrics.RunningTasks.Set(float64(concurrent))
	}

	ctx, span := s.startSpan(ctx, inv)
	defer span.End()

	start := time.Now()
	res := s.harness.Run(ctx, inv.Task, inv.Task.Instance, inv.Parameters, s.cfg.Retries)

	if s.metrics != nil {
		s.metrics.RunningTasks.Set(float64(s.running.Load()))
		s.metrics.TasksTotal.WithLabelValues(resultLabel(res)).Inc()
	}
	span.SetAttributes(attribute.Bool("task.success", res.Success))
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}

	s.dag.MarkComplete(inv.Key, res.Success)
	s.recordStats(ctx, inv, res, start, concurrent)
	s.foldOutcome(inv.Task.ID, res)

	if success, ok := s.dag.Result(inv.Task.ID); ok && !success {
		s.propagateFailure(inv.Task.ID)
	}
	return nil
}

func (s *Scheduler) startSpan(ctx context.Context, inv *task.Invocation) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "rushti.task", trace.WithAttributes(
		attribute.String("task.id", inv.Task.ID),
		attribute.String("task.instance", inv.Task.Instance),
		attribute.String("task.process", inv.Task.Process),
	))
}

func resultLabel(res harness.Result) string {
	if res.Success {
		return "success"
	}
	if res.Err == nil {
		return "remote-failure"
	}
	if classifier, ok := res.Err.(interface{ ErrorType() string }); ok {
		return classifier.ErrorType()
	}
	return "error"
}

func (s *Scheduler) recordStats(ctx context.Context, inv *task.Invocation, res harness.Result, start time.Time, concurrent int) {
	if s.stats == nil {
		return
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	s.stats.RecordTaskResult(ctx, &stats.TaskResult{
		RunID:           s.runID,
		Workflow:        s.workflowName,
		TaskID:          inv.Task.ID,
		Signature:       task.Signature(inv.Task.Instance, inv.Task.Process, inv.Parameters),
		Instance:        inv.Task.Instance,
		Process:         inv.Task.Process,
		Stage:           inv.Task.Stage,
		Success:         res.Success,
		StartedAt:       start,
		EndedAt:         start.Add(res.Duration),
		DurationMs:      res.Duration.Milliseconds(),
		RetryCount:      res.Attempts - 1,
		Error:           errMsg,
		ConcurrentCount: concurrent,
	}, inv.Parameters, inv.Task.Predecessors)
}

// foldOutcome aggregates a completed invocation's result into its task
// id's checkpoint outcome. A task id can expand into many instances; the
// checkpoint tracks one outcome per id, so the record is only written
// once every sibling instance has finished — success is an AND across
// instances, duration is the slowest instance (the id's own wall clock),
// and retry count/error are taken from whichever instance needed the most
// retries or failed first.
func (s *Scheduler) foldOutcome(id string, res harness.Result) {
	s.aggMu.Lock()
	a, ok := s.agg[id]
	if !ok {
		a = &taskAgg{total: len(s.dag.Instances(id)), success: true}
		s.agg[id] = a
	}
	a.done++
	if !res.Success {
		a.success = false
		if a.errMsg == "" && res.Err != nil {
			a.errMsg = res.Err.Error()
		}
	}
	if res.Duration > a.duration {
		a.duration = res.Duration
	}
	if retries := res.Attempts - 1; retries > a.retryCount {
		a.retryCount = retries
	}
	complete := a.done >= a.total
	snapshot := *a
	s.aggMu.Unlock()

	if complete {
		s.checkpointMarkCompleted(id, checkpoint.Outcome{
			Success:    snapshot.success,
			Duration:   snapshot.duration,
			RetryCount: snapshot.retryCount,
			Error:      snapshot.errMsg,
		})
	}
}

// propagateFailure walks the DAG from a freshly-failed id, skipping every
// successor that requires predecessor success (recursively — a skipped
// node's own successors are re-evaluated the same way), and leaving every
// other successor to run normally.
func (s *Scheduler) propagateFailure(failedID string) {
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, succ := range s.dag.Successors(id) {
			if visited[succ] {
				continue
			}
			visited[succ] = true
			if !s.dag.RequiresPredecessorSuccess(succ) {
				continue
			}
			if s.dag.Status(succ).IsTerminal() {
				continue
			}
			s.dag.MarkSkipped(succ, "predecessor_failed")
			s.checkpointMarkSkipped(succ, "predecessor_failed")
			s.logger.Info("task skipped: predecessor failed",
				log.String("task_id", succ), log.String("run_id", s.runID))
			walk(succ)
		}
	}
	walk(failedID)
}
