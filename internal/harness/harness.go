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

// Package harness implements the RushTI execution harness (C8): the
// retry/timeout loop wrapped around a single task's remote process call.
package harness

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/rerrors"
	"github.com/rushti/rushti/internal/task"
)

// RemoteClient is the subset of remote.Client the harness depends on. It
// is satisfied by *remote.Client; the interface lives here, not in
// package remote, to keep the dependency direction harness -> remote.
type RemoteClient interface {
	RunProcess(ctx context.Context, process string, parameters map[string]string) (success bool, status string, serverErrorRef string, sessionID string, err error)
	Cancel(ctx context.Context, sessionID string) error
}

// ClientResolver returns the RemoteClient for a task's instance, or a
// transport error if the instance is not pooled/reachable. It is
// satisfied by (*remote.Pool).Get.
type ClientResolver func(instance string) (RemoteClient, error)

// Result is the harness's outcome for one task execution, matching
// spec.md §4.7's contract: success, terminal status, server error ref,
// attempt count, and wall-clock duration inclusive of retries.
type Result struct {
	Success        bool
	Status         string
	ServerErrorRef string
	Attempts       int
	Duration       time.Duration
	Err            error // nil on success; one of the rerrors taxonomy types otherwise
}

// BreakerConfig controls the per-instance circuit breaker wrapping each
// remote call.
type BreakerConfig struct {
	// ConsecutiveFailures is how many consecutive failures trip the
	// breaker open for an instance.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before half-opening.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the harness's built-in breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

type breakerResult struct {
	success        bool
	status         string
	serverErrorRef string
	sessionID      string
}

// Harness runs a task's attempt loop against its instance's remote
// client, wrapped in a per-instance circuit breaker.
type Harness struct {
	resolve ClientResolver
	cfg     BreakerConfig
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New returns a Harness dispatching through resolve, with per-instance
// breakers configured by cfg.
func New(resolve ClientResolver, cfg BreakerConfig, logger *slog.Logger) *Harness {
	if cfg.ConsecutiveFailures == 0 {
		cfg = DefaultBreakerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		resolve:  resolve,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (h *Harness) breakerFor(instance string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.breakers[instance]; ok {
		return b
	}
	logger := h.logger
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    instance,
		Timeout: h.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= h.cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				log.String("instance", name), log.String("from", from.String()), log.String("to", to.String()))
		},
	})
	h.breakers[instance] = b
	return b
}

// Run executes t's attempt loop and returns the harness result. retries is
// the workflow's configured retry budget (spec.md §6 settings.retries);
// attempts are bounded at retries+1. ctx cancellation (scheduler shutdown)
// produces a cancelled result rather than consuming a retry attempt.
func (h *Harness) Run(ctx context.Context, t *task.Task, instance string, parameters map[string]string, retries int) Result {
	start := time.Now()
	breaker := h.breakerFor(instance)

	attempts := 0
	maxAttempts := retries + 1

	for {
		if ctx.Err() != nil {
			return Result{Attempts: attempts, Duration: time.Since(start), Err: &rerrors.CancelledError{TaskID: t.ID}}
		}
		attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if t.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		}

		raw, err := breaker.Execute(func() (interface{}, error) {
			client, rerr := h.resolve(instance)
			if rerr != nil {
				return breakerResult{}, rerr
			}
			success, status, serverErrorRef, sessionID, rerr := client.RunProcess(attemptCtx, t.Process, parameters)
			if rerr != nil {
				return breakerResult{sessionID: sessionID}, rerr
			}
			return breakerResult{success: success, status: status, serverErrorRef: serverErrorRef, sessionID: sessionID}, nil
		})

		if cancel != nil {
			cancel()
		}

		res, _ := raw.(breakerResult)

		switch {
		case err == nil && res.success:
			return Result{Success: true, Status: res.status, ServerErrorRef: res.serverErrorRef, Attempts: attempts, Duration: time.Since(start)}

		case err == nil && !res.success:
			// Server returned a terminal, non-success status. A "minor
			// errors" status is promoted to success only if the task
			// opted in; either way it still consumes a retry attempt on
			// failure, matching the original implementation's treatment
			// of a minor-errors result that is not promoted.
			if t.SucceedOnMinorErrors && isMinorErrorsStatus(res.status) {
				return Result{Success: true, Status: res.status, ServerErrorRef: res.serverErrorRef, Attempts: attempts, Duration: time.Since(start)}
			}
			if attempts < maxAttempts {
				continue
			}
			return Result{
				Status: res.status, ServerErrorRef: res.serverErrorRef, Attempts: attempts, Duration: time.Since(start),
				Err: &rerrors.RemoteFailureError{Instance: instance, Process: t.Process, Status: res.status, ServerErrorRef: res.serverErrorRef},
			}

		default:
			timedOut := errors.Is(err, context.DeadlineExceeded)
			shutdownCancelled := ctx.Err() != nil && !timedOut
			if (timedOut || shutdownCancelled) && t.CancelAtTimeout && res.sessionID != "" {
				h.bestEffortCancel(instance, res.sessionID)
			}
			if shutdownCancelled {
				return Result{Attempts: attempts, Duration: time.Since(start), Err: &rerrors.CancelledError{TaskID: t.ID}}
			}
			if attempts < maxAttempts {
				continue
			}
			if timedOut {
				return Result{Attempts: attempts, Duration: time.Since(start), Err: &rerrors.TimeoutError{Operation: "run process " + t.Process, Duration: t.Timeout, Cause: err}}
			}
			return Result{Attempts: attempts, Duration: time.Since(start), Err: asTransportError(instance, err)}
		}
	}
}

func isMinorErrorsStatus(status string) bool {
	return status == "completed_with_minor_errors"
}

func asTransportError(instance string, err error) error {
	var transportErr *rerrors.TransportError
	if errors.As(err, &transportErr) {
		return transportErr
	}
	return &rerrors.TransportError{Instance: instance, Cause: err}
}

// bestEffortCancel issues a remote cancel on a background context (the
// attempt's own context already timed out), logging rather than
// propagating any failure — cancellation is always best-effort.
func (h *Harness) bestEffortCancel(instance, sessionID string) {
	client, err := h.resolve(instance)
	if err != nil {
		h.logger.Warn("cancel-at-timeout: instance unreachable", log.String("instance", instance), log.Error(err))
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Cancel(cancelCtx, sessionID); err != nil {
		h.logger.Warn("cancel-at-timeout failed", log.String("instance", instance), log.String("session_id", sessionID), log.Error(err))
	}
}
