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

// Package run implements the rushti run command: load, build, resume-plan,
// and dispatch a workflow end to end.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rushti/rushti/internal/checkpoint"
	"github.com/rushti/rushti/internal/cli"
	"github.com/rushti/rushti/internal/config"
	"github.com/rushti/rushti/internal/dag"
	"github.com/rushti/rushti/internal/estimate"
	"github.com/rushti/rushti/internal/harness"
	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/remote"
	"github.com/rushti/rushti/internal/scheduler"
	"github.com/rushti/rushti/internal/stats"
	"github.com/rushti/rushti/internal/tracing"
	"github.com/rushti/rushti/internal/workflow"
)

type flags struct {
	settingsPath    string
	connectionsPath string
	maxWorkers      int
	maxWorkersSet   bool
	retries         int
	retriesSet      bool
	exclusive       bool
	exclusiveSet    bool
	resume          bool
	resumeFrom      []string
	force           bool
	dryRun          bool
}

// NewCommand builds the run subcommand.
func NewCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "run <workflow>",
		Short:         "Run a workflow's tasks to completion",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-workers") {
				f.maxWorkersSet = true
			}
			if cmd.Flags().Changed("retries") {
				f.retriesSet = true
			}
			if cmd.Flags().Changed("exclusive") {
				f.exclusiveSet = true
			}
			return runWorkflow(cmd.Context(), args[0], f)
		},
	}

	cmd.Flags().StringVar(&f.settingsPath, "settings", "", "path to the settings file")
	cmd.Flags().StringVar(&f.connectionsPath, "connections", "", "path to the connection descriptor file")
	cmd.Flags().IntVar(&f.maxWorkers, "max-workers", 0, "global concurrency cap (overrides workflow and settings file)")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "per-task retry budget (overrides workflow and settings file)")
	cmd.Flags().BoolVar(&f.exclusive, "exclusive", false, "force single in-flight task regardless of max-workers")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "resume from an existing checkpoint for this workflow, if one exists")
	cmd.Flags().StringSliceVar(&f.resumeFrom, "resume-from", nil, "explicitly authorize resuming an unsafe in-progress task id (repeatable)")
	cmd.Flags().BoolVar(&f.force, "force", false, "resume despite a workflow-file hash mismatch or unsafe in-progress tasks")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "load, validate, and print the dispatch plan without executing anything")

	return cmd
}

func runWorkflow(ctx context.Context, workflowPath string, f flags) error {
	var settings *config.Settings
	if f.settingsPath != "" {
		loaded, warnings, err := config.LoadSettings(f.settingsPath)
		if err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "loading settings file", Cause: err}
		}
		settings = loaded
		for _, w := range warnings {
			fmt.Println("warning:", w)
		}
	}

	logger := log.New(settings.LogConfig())

	wf, err := workflow.New().Load(workflowPath)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "loading workflow", Cause: err}
	}

	var conns []remote.Connection
	if f.connectionsPath != "" {
		conns, err = config.LoadConnections(f.connectionsPath)
		if err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "loading connection descriptor", Cause: err}
		}
	}

	cfgFlags := config.Flags{}
	if f.maxWorkersSet {
		cfgFlags.MaxWorkers = &f.maxWorkers
	}
	if f.retriesSet {
		cfgFlags.Retries = &f.retries
	}
	if f.exclusiveSet {
		cfgFlags.Exclusive = &f.exclusive
	}
	eff := config.Resolve(cfgFlags, wf.Settings, settings)
	logger.LogAttrs(ctx, slog.LevelInfo, "effective settings resolved", eff.LogAttrs()...)

	workflowHash, err := checkpoint.HashFile(workflowPath)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "hashing workflow file", Cause: err}
	}

	d := dag.New()
	for _, t := range wf.Tasks {
		if err := d.AddTask(t); err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "building DAG", Cause: err}
		}
	}
	if len(wf.Settings.StageOrder) > 0 {
		if err := d.ApplyStageOrdering(wf.Settings.StageOrder); err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "applying stage ordering", Cause: err}
		}
	}
	if err := d.Validate(); err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "validating DAG", Cause: err}
	}

	statsStore, err := stats.Open(ctx, settings.StatsPath(), settings.StatsRetention(), logger)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "opening stats store", Cause: err}
	}
	defer statsStore.Close()

	estimator := estimate.New(statsStore, settings.EstimatorConfig())
	pool := remote.NewPool(ctx, conns, settings.HTTPClientConfig(), logger)
	h := harness.New(func(instance string) (harness.RemoteClient, error) {
		return pool.Get(instance)
	}, settings.BreakerConfig(), logger)

	if err := d.Expand(ctx, pool.Resolver); err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "expanding wildcard tasks", Cause: err}
	}

	cpStore := checkpoint.NewStore(settings.CheckpointDir(), wf.Metadata.Workflow)
	cp, err := reconcileCheckpoint(d, cpStore, wf, workflowHash, f)
	if err != nil {
		// Every resume-time failure (missing/corrupt checkpoint, hash
		// mismatch, unsafe in-progress tasks) halts before dispatch with
		// exit 3, per spec.md §6's propagation rules.
		return &cli.ExitError{Code: cli.ExitResumeBlocked, Message: "resume blocked", Cause: err}
	}

	if f.dryRun {
		printDryRun(d, eff)
		return nil
	}

	runID := uuid.NewString()
	if err := statsStore.RecordRunStart(ctx, &stats.Run{
		RunID: runID, Workflow: wf.Metadata.Workflow, StartedAt: time.Now(),
		Status: "running", MaxWorkers: eff.MaxWorkers, TaskfilePath: workflowPath, TaskfileHash: workflowHash,
	}); err != nil {
		logger.Warn("recording run start failed", log.Error(err))
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	autosaver := checkpoint.NewAutosaver(cpStore, func() *checkpoint.Checkpoint { return cp }, settings.AutosaveInterval(), logger)
	autosaveCtx, stopAutosave := context.WithCancel(runCtx)
	go autosaver.Run(autosaveCtx)

	metrics := scheduler.NewMetrics(prometheus.NewRegistry())
	schedCfg := scheduler.Config{
		MaxWorkers: eff.MaxWorkers, StageWorkers: eff.StageWorkers,
		Retries: eff.Retries, Algorithm: eff.OptimizationAlgorithm, Exclusive: eff.Exclusive,
	}
	sched := scheduler.New(d, h, estimator, statsStore, cp, autosaver.Touch, schedCfg, metrics, tracing.Tracer(), logger, runID, wf.Metadata.Workflow)

	start := time.Now()
	runErr := sched.Run(runCtx)
	stopAutosave()
	if saveErr := cpStore.Save(cp); saveErr != nil {
		logger.Warn("final checkpoint save failed", log.Error(saveErr))
	}

	successCount, failureCount := countOutcomes(d)
	taskCount := len(d.IDs())
	status := "completed"
	if runErr != nil || failureCount > 0 {
		status = "failed"
	}
	statsStore.RecordRunEnd(ctx, runID, status, time.Since(start), taskCount, successCount, failureCount)

	if runErr != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "scheduler", Cause: runErr}
	}
	if failureCount > 0 {
		return &cli.ExitError{Code: cli.ExitTaskFailed, Message: fmt.Sprintf("%d of %d tasks failed", failureCount, taskCount)}
	}

	if err := cpStore.Delete(); err != nil {
		logger.Warn("deleting completed checkpoint failed", log.Error(err))
	}
	return nil
}

// reconcileCheckpoint loads and reconciles an existing checkpoint when
// --resume is set, re-injecting already-settled ids into d so the
// scheduler never re-dispatches them; otherwise it starts a fresh
// checkpoint covering every id in the workflow.
func reconcileCheckpoint(d *dag.DAG, cpStore *checkpoint.Store, wf *workflow.Workflow, workflowHash string, f flags) (*checkpoint.Checkpoint, error) {
	if !f.resume || !cpStore.Exists() {
		return checkpoint.New(wf.Metadata.Workflow, workflowHash, d.IDs()), nil
	}

	loaded, err := cpStore.Load()
	if err != nil {
		return nil, err
	}

	safeRetry := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		safeRetry[t.ID] = t.SafeRetry
	}
	resumeFrom := make(map[string]bool, len(f.resumeFrom))
	for _, id := range f.resumeFrom {
		resumeFrom[id] = true
	}

	plan, err := checkpoint.BuildPlan(loaded, workflowHash, safeRetry, resumeFrom, f.force)
	if err != nil {
		return nil, err
	}

	for id, outcome := range plan.Completed {
		for _, inv := range d.Instances(id) {
			d.MarkComplete(inv.Key, outcome.Success)
		}
	}
	for id, reason := range plan.Skipped {
		d.MarkSkipped(id, reason)
	}

	return loaded, nil
}

func countOutcomes(d *dag.DAG) (successCount, failureCount int) {
	for _, id := range d.IDs() {
		if success, ok := d.Result(id); ok {
			if success {
				successCount++
			} else {
				failureCount++
			}
		}
	}
	return successCount, failureCount
}

func printDryRun(d *dag.DAG, eff config.Effective) {
	fmt.Printf("dry run: %d task ids, max_workers=%d, exclusive=%v, algorithm=%s\n",
		len(d.IDs()), eff.MaxWorkers, eff.Exclusive, eff.OptimizationAlgorithm)
	for _, id := range d.IDs() {
		t, _ := d.Task(id)
		instances := d.Instances(id)
		fmt.Printf("  %s  instance=%s process=%s predecessors=%v instances=%d\n",
			id, t.Instance, t.Process, t.Predecessors, len(instances))
	}
}

