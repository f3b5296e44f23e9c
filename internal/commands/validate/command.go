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

// Package validate implements the rushti validate command: syntax,
// schema, and DAG-level checks with no remote calls and no side effects.
package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushti/rushti/internal/cli"
	"github.com/rushti/rushti/internal/dag"
	"github.com/rushti/rushti/internal/workflow"
)

// NewCommand builds the validate subcommand.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validate <workflow>",
		Short:         "Validate a workflow file's syntax, schema, and dependency graph",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0])
		},
	}
	return cmd
}

func runValidate(path string) error {
	wf, err := workflow.New().Load(path)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "workflow is invalid", Cause: err}
	}

	d := dag.New()
	for _, t := range wf.Tasks {
		if err := d.AddTask(t); err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "workflow is invalid", Cause: err}
		}
	}
	if len(wf.Settings.StageOrder) > 0 {
		if err := d.ApplyStageOrdering(wf.Settings.StageOrder); err != nil {
			return &cli.ExitError{Code: cli.ExitFatalError, Message: "workflow is invalid", Cause: err}
		}
	}
	if err := d.Validate(); err != nil {
		return &cli.ExitError{Code: cli.ExitFatalError, Message: "workflow is invalid", Cause: err}
	}

	fmt.Printf("OK: %s — %d tasks, syntax and schema valid, no dependency cycle\n", wf.Metadata.Workflow, len(wf.Tasks))
	return nil
}
