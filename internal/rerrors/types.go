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

package rerrors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a load-time schema or input validation failure.
// Use this for invalid-format / schema-violation errors from the workflow loader.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType identifies this error for programmatic handling.
func (e *ValidationError) ErrorType() string { return "schema-violation" }

// IsRetryable reports that validation failures are never retryable.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a task id, instance, or signature is referenced but unknown.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "task", "instance", "signature", "checkpoint")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType identifies this error for programmatic handling.
func (e *NotFoundError) ErrorType() string { return "not-found" }

// IsRetryable reports that not-found errors are never retryable.
func (e *NotFoundError) IsRetryable() bool { return false }

// CycleError represents a dependency cycle detected while validating a DAG.
// Participants lists a minimal offending cycle, in traversal order.
type CycleError struct {
	Participants []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected among tasks: %s", strings.Join(e.Participants, " -> "))
}

// ErrorType identifies this error for programmatic handling.
func (e *CycleError) ErrorType() string { return "cycle" }

// IsRetryable reports that cycle errors are never retryable.
func (e *CycleError) IsRetryable() bool { return false }

// ConfigError represents a settings-file or effective-configuration problem.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "settings.max_workers")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies this error for programmatic handling.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable reports that config errors are never retryable.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents a per-attempt task timeout (see the execution harness).
type TimeoutError struct {
	// Operation describes what timed out (e.g., a task id or "remote call")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies this error for programmatic handling.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable reports that a timeout is retryable up to the task's retry budget.
func (e *TimeoutError) IsRetryable() bool { return true }

// TransportError represents an HTTP/network-layer failure talking to the
// analytics server, as distinct from a remote-failure status returned by
// the server itself.
type TransportError struct {
	// Instance is the logical server instance the call targeted
	Instance string

	// Cause is the underlying network/HTTP error
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling instance %q: %v", e.Instance, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies this error for programmatic handling.
func (e *TransportError) ErrorType() string { return "transport-error" }

// IsRetryable reports that transport errors are retryable up to the task's retry budget.
func (e *TransportError) IsRetryable() bool { return true }

// CheckpointError represents a resume-time checkpoint problem: missing file,
// corrupt JSON, workflow-file hash mismatch, or an in-progress task without
// safe_retry that requires an explicit operator decision.
type CheckpointError struct {
	// Reason is one of "checkpoint-missing", "checkpoint-corrupt",
	// "workflow-hash-mismatch", "unsafe-in-progress"
	Reason string

	// Detail gives additional human-readable context
	Detail string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies this error for programmatic handling.
func (e *CheckpointError) ErrorType() string { return e.Reason }

// IsRetryable reports that resume-time checkpoint errors are never
// automatically retryable; they require an operator decision (--resume-from
// or --force).
func (e *CheckpointError) IsRetryable() bool { return false }

// RemoteFailureError represents a non-success terminal status reported by
// the analytics server itself, as distinct from a transport-layer failure
// reaching it.
type RemoteFailureError struct {
	// Instance and Process identify what was run.
	Instance, Process string

	// Status is the server's terminal status string.
	Status string

	// ServerErrorRef is the server's own error reference, if any.
	ServerErrorRef string
}

// Error implements the error interface.
func (e *RemoteFailureError) Error() string {
	if e.ServerErrorRef != "" {
		return fmt.Sprintf("process %q on instance %q reported status %q (ref %s)", e.Process, e.Instance, e.Status, e.ServerErrorRef)
	}
	return fmt.Sprintf("process %q on instance %q reported status %q", e.Process, e.Instance, e.Status)
}

// ErrorType identifies this error for programmatic handling.
func (e *RemoteFailureError) ErrorType() string { return "remote-failure" }

// IsRetryable reports that remote failures are retryable up to the task's
// retry budget.
func (e *RemoteFailureError) IsRetryable() bool { return true }

// CancelledError represents a task execution that stopped because the
// scheduler signalled cooperative shutdown, not because the task itself
// failed.
type CancelledError struct {
	// TaskID identifies the task instance that was cancelled.
	TaskID string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %q cancelled", e.TaskID)
}

// ErrorType identifies this error for programmatic handling.
func (e *CancelledError) ErrorType() string { return "cancelled" }

// IsRetryable reports that a cancelled task is never retried automatically
// — cancellation reflects a run-level shutdown decision, not a transient
// per-task condition.
func (e *CancelledError) IsRetryable() bool { return false }
