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

// Package stats implements the rushti stats command: read-only reporting
// over the stats store, for operators inspecting history without running
// anything.
package stats

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushti/rushti/internal/cli"
	"github.com/rushti/rushti/internal/estimate"
	rstats "github.com/rushti/rushti/internal/stats"
)

const lastDurationsLimit = 20

// NewCommand builds the stats command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Inspect recorded task and run history",
	}
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newShowCommand() *cobra.Command {
	var (
		statsPath string
		signature string
		workflow  string
	)

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Show recorded durations for a task signature or a workflow's run history",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if signature == "" && workflow == "" {
				return &cli.ExitError{Code: cli.ExitFatalError, Message: "one of --signature or --workflow is required"}
			}
			return runShow(cmd.Context(), statsPath, signature, workflow)
		},
	}

	cmd.Flags().StringVar(&statsPath, "from-stats", "data/stats.db", "path to the stats database")
	cmd.Flags().StringVar(&signature, "signature", "", "show recent durations and estimate for a task signature")
	cmd.Flags().StringVar(&workflow, "workflow", "", "show signatures and per-worker-level aggregates for a workflow")

	return cmd
}

func runShow(ctx context.Context, statsPath, signature, workflow string) error {
	store, err := rstats.Open(ctx, statsPath, 0, nil)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "opening stats store", Cause: err}
	}
	defer store.Close()

	if signature != "" {
		return showSignature(ctx, store, signature)
	}
	return showWorkflow(ctx, store, workflow)
}

func showSignature(ctx context.Context, store *rstats.Store, signature string) error {
	durations, err := store.LastDurations(ctx, signature, lastDurationsLimit)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "querying durations", Cause: err}
	}
	if len(durations) == 0 {
		fmt.Printf("no recorded durations for signature %s\n", signature)
		return nil
	}

	fmt.Printf("signature: %s (%d of last %d)\n", signature, len(durations), lastDurationsLimit)
	for _, d := range durations {
		fmt.Printf("  %s\n", d)
	}

	estimator := estimate.New(store, estimate.DefaultConfig())
	est := estimator.Estimate(ctx, "", signature)
	fmt.Printf("EWMA: %s (confidence %.2f, samples %d)\n", est.EWMA, est.Confidence, est.SampleCount)
	return nil
}

func showWorkflow(ctx context.Context, store *rstats.Store, workflow string) error {
	sigs, err := store.Signatures(ctx, workflow)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "querying signatures", Cause: err}
	}
	fmt.Printf("workflow: %s — %d distinct signatures\n", workflow, len(sigs))
	for _, sig := range sigs {
		fmt.Printf("  %s\n", sig)
	}

	aggregates, err := store.WorkerAggregates(ctx, workflow)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "querying worker aggregates", Cause: err}
	}
	if len(aggregates) == 0 {
		return nil
	}
	fmt.Println("max_workers  runs  avg_wall_clock_ms  avg_task_duration_ms")
	for _, a := range aggregates {
		fmt.Printf("%-12d %-5d %-18.1f %-.1f\n", a.MaxWorkers, a.RunCount, a.AvgWallClockMs, a.AvgDurationMs)
	}
	return nil
}
