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

package main

import (
	"context"

	"github.com/rushti/rushti/internal/cli"
	"github.com/rushti/rushti/internal/commands/optimize"
	"github.com/rushti/rushti/internal/commands/run"
	statscmd "github.com/rushti/rushti/internal/commands/stats"
	"github.com/rushti/rushti/internal/commands/validate"
	"github.com/rushti/rushti/internal/tracing"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)

	ctx := context.Background()
	if tp, err := tracing.NewProvider(ctx, "rushti", version, tracing.DefaultConfig()); err == nil && tp != nil {
		defer tp.Shutdown(ctx)
	}

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())
	rootCmd.AddCommand(optimize.NewCommand())
	rootCmd.AddCommand(statscmd.NewCommand())

	cli.HandleExitError(rootCmd.Execute())
}
