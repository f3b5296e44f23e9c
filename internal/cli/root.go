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

// Package cli assembles the rushti root command: the thin cobra skeleton
// spec.md §6 calls for, wiring subcommands onto a shared exit-code
// contract rather than any interactive shell of its own.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records build-time version metadata, called from main via ldflags.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// Exit codes per spec.md §6.
const (
	ExitSuccess       = 0
	ExitTaskFailed    = 1
	ExitFatalError    = 2
	ExitResumeBlocked = 3
)

// ExitError is an error that carries the process exit code it should
// produce, so subcommands can signal spec.md's four-way exit contract
// without main() inspecting error strings.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// NewRootCommand builds the rushti root command and registers the global
// flags shared by every subcommand.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rushti",
		Short: "rushti runs stored-procedure workflows against a remote analytics server",
		Long: `rushti loads a DAG of stored-procedure tasks, schedules them against a pool
of remote analytics server instances with bounded concurrency, and
checkpoints progress so an interrupted run can resume without re-running
completed work.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return cmd
}

// HandleExitError prints err (if any) to stderr and exits with its carried
// code, or with ExitFatalError for any error that isn't an *ExitError.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Message != "" || exitErr.Cause != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(ExitFatalError)
}
