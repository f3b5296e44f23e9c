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

// Package optimize implements the rushti optimize command: an offline
// analysis of a workflow's execution history producing a reordered,
// chain-annotated workflow file and a max_workers recommendation.
package optimize

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushti/rushti/internal/cli"
	"github.com/rushti/rushti/internal/estimate"
	"github.com/rushti/rushti/internal/optimizer"
	"github.com/rushti/rushti/internal/stats"
	"github.com/rushti/rushti/internal/workflow"
)

// NewCommand builds the optimize subcommand.
func NewCommand() *cobra.Command {
	var (
		statsPath string
		outPath   string
		runID     string
	)

	cmd := &cobra.Command{
		Use:           "optimize <workflow>",
		Short:         "Analyze a workflow's run history and emit a contention-optimized reordering",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd.Context(), args[0], statsPath, outPath, runID)
		},
	}

	cmd.Flags().StringVar(&statsPath, "from-stats", "data/stats.db", "path to the stats database to analyze")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "path to write the optimized workflow file (required)")
	cmd.Flags().StringVar(&runID, "run", "", "run id to analyze (default: the workflow's most recent completed run)")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runOptimize(ctx context.Context, workflowPath, statsPath, outPath, runID string) error {
	wf, err := workflow.New().Load(workflowPath)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "loading workflow", Cause: err}
	}

	statsStore, err := stats.Open(ctx, statsPath, 0, nil)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "opening stats store", Cause: err}
	}
	defer statsStore.Close()

	if runID == "" {
		runID, err = statsStore.LatestSuccessfulRun(ctx, wf.Metadata.Workflow)
		if err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "finding a completed run to analyze; pass --run explicitly", Cause: err}
		}
	}

	estimator := estimate.New(statsStore, estimate.DefaultConfig())
	opt := optimizer.New(statsStore, estimator, optimizer.DefaultConfig())

	result, err := opt.Analyze(ctx, wf, runID)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "analyzing run history", Cause: err}
	}

	if err := workflow.WriteFile(outPath, result.Workflow); err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "writing optimized workflow", Cause: err}
	}

	fmt.Printf("analyzed run %s\n", runID)
	if result.Driver != "" {
		fmt.Printf("driver parameter: %s (range %.1fx runner-up %.1fx)\n", result.Driver, result.DriverRange, result.RunnerUpRange)
		fmt.Printf("heavy groups: %v\n", result.HeavyGroups)
		fmt.Printf("light groups: %v\n", result.LightGroups)
		fmt.Printf("chains built: %d\n", result.ChainCount)
	} else {
		fmt.Println("no contention driver detected; falling back to", result.Workflow.Settings.OptimizationAlgorithm)
	}
	fmt.Printf("recommended max_workers: %d\n", result.RecommendedMaxWorkers)
	if result.ConcurrencySignal != optimizer.SignalNone {
		fmt.Printf("concurrency signal: %s (%s confidence)\n", result.ConcurrencySignal, result.ConcurrencyConfidence)
	}
	for _, note := range result.Notes {
		fmt.Println("note:", note)
	}
	fmt.Printf("wrote %s\n", outPath)
	return nil
}
