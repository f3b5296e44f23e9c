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

package log

import (
	"log/slog"
	"time"
)

// RemoteCallRequest describes an outbound call to an analytics server
// instance, for logging purposes.
type RemoteCallRequest struct {
	// Operation is the remote operation invoked (e.g., "run_process", "expand_set", "cancel").
	Operation string

	// Instance is the logical server instance the call targets.
	Instance string

	// RunID is the batch run this call belongs to, if any.
	RunID string

	// TaskID is the task this call belongs to, if any.
	TaskID string

	// Metadata contains additional request metadata (e.g. process name, parameter count).
	Metadata map[string]interface{}
}

// RemoteCallResponse describes the outcome of a remote call, for logging purposes.
type RemoteCallResponse struct {
	// Success indicates whether the call completed without error.
	Success bool

	// Retryable indicates whether a failed call is retryable under the
	// harness's error taxonomy.
	Retryable bool

	// Error is the error message if the call failed.
	Error string

	// DurationMs is the wall-clock duration of the call in milliseconds.
	DurationMs int64

	// Metadata contains additional response metadata (e.g. row count, process state).
	Metadata map[string]interface{}
}

// LogRemoteCallRequest logs an outbound call before it is dispatched.
func LogRemoteCallRequest(logger *slog.Logger, req *RemoteCallRequest) {
	attrs := []any{
		EventKey, "remote_call_started",
		"operation", req.Operation,
		InstanceKey, req.Instance,
	}

	if req.RunID != "" {
		attrs = append(attrs, RunIDKey, req.RunID)
	}

	if req.TaskID != "" {
		attrs = append(attrs, TaskIDKey, req.TaskID)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Info("remote call started", attrs...)
}

// LogRemoteCallResponse logs the outcome of a remote call.
func LogRemoteCallResponse(logger *slog.Logger, req *RemoteCallRequest, resp *RemoteCallResponse) {
	attrs := []any{
		EventKey, "remote_call_completed",
		"operation", req.Operation,
		InstanceKey, req.Instance,
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	}

	if req.RunID != "" {
		attrs = append(attrs, RunIDKey, req.RunID)
	}

	if req.TaskID != "" {
		attrs = append(attrs, TaskIDKey, req.TaskID)
	}

	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error, "retryable", resp.Retryable)
	}

	for k, v := range resp.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "remote call completed"

	if !resp.Success {
		level = slog.LevelWarn
		message = "remote call failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// RemoteCallMiddleware wraps a function that performs a remote call with
// start/completion logging, so a run_process/expand_set/cancel invocation
// passed through Handler emits a consistent pair of log lines. The
// internal/remote Client does not go through it; it logs its own debug
// line per call.
type RemoteCallMiddleware struct {
	logger *slog.Logger
}

// NewRemoteCallMiddleware creates a new remote-call logging middleware.
func NewRemoteCallMiddleware(logger *slog.Logger) *RemoteCallMiddleware {
	return &RemoteCallMiddleware{
		logger: logger,
	}
}

// Handler wraps a function that performs a remote call. The isRetryable
// callback classifies a returned error for logging; it is only consulted
// when handler returns a non-nil error.
func (m *RemoteCallMiddleware) Handler(req *RemoteCallRequest, isRetryable func(error) bool, handler func() error) error {
	start := time.Now()

	LogRemoteCallRequest(m.logger, req)

	err := handler()

	duration := time.Since(start).Milliseconds()

	resp := &RemoteCallResponse{
		Success:    err == nil,
		DurationMs: duration,
	}

	if err != nil {
		resp.Error = err.Error()
		resp.Retryable = isRetryable(err)
	}

	LogRemoteCallResponse(m.logger, req, resp)

	return err
}
