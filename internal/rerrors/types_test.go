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

package rerrors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	rerrors "github.com/rushti/rushti/internal/rerrors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *rerrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &rerrors.ValidationError{
				Field:      "max_workers",
				Message:    "must be >= 1",
				Suggestion: "set settings.max_workers to a positive integer",
			},
			wantMsg: "validation failed on max_workers: must be >= 1",
		},
		{
			name: "without field",
			err: &rerrors.ValidationError{
				Message: "invalid format",
			},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
			if tt.err.ErrorType() != "schema-violation" {
				t.Errorf("ErrorType() = %q, want schema-violation", tt.err.ErrorType())
			}
			if tt.err.IsRetryable() {
				t.Error("ValidationError should never be retryable")
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *rerrors.NotFoundError
		wantMsg string
	}{
		{
			name:    "task not found",
			err:     &rerrors.NotFoundError{Resource: "task", ID: "extract_eu"},
			wantMsg: "task not found: extract_eu",
		},
		{
			name:    "instance not found",
			err:     &rerrors.NotFoundError{Resource: "instance", ID: "prod-1"},
			wantMsg: "instance not found: prod-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCycleError_Error(t *testing.T) {
	err := &rerrors.CycleError{Participants: []string{"a", "b", "c", "a"}}
	got := err.Error()
	for _, want := range []string{"a", "b", "c"} {
		if !strings.Contains(got, want) {
			t.Errorf("CycleError.Error() = %q, want to contain %q", got, want)
		}
	}
	if err.ErrorType() != "cycle" {
		t.Errorf("ErrorType() = %q, want cycle", err.ErrorType())
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *rerrors.ConfigError
		wantMsg string
	}{
		{
			name: "with key",
			err: &rerrors.ConfigError{
				Key:    "settings.stage_workers",
				Reason: "cap must be positive",
			},
			wantMsg: "config error at settings.stage_workers: cap must be positive",
		},
		{
			name: "without key",
			err: &rerrors.ConfigError{
				Reason: "file not found",
			},
			wantMsg: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("file read error")
	err := &rerrors.ConfigError{
		Key:    "config",
		Reason: "failed to load",
		Cause:  cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("ConfigError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *rerrors.TimeoutError
		want []string
	}{
		{
			name: "task timeout",
			err: &rerrors.TimeoutError{
				Operation: "task extract_eu",
				Duration:  30 * time.Second,
			},
			want: []string{"task extract_eu", "30s"},
		},
		{
			name: "remote call timeout",
			err: &rerrors.TimeoutError{
				Operation: "remote call",
				Duration:  2 * time.Minute,
			},
			want: []string{"remote call", "2m0s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("TimeoutError.Error() = %q, want to contain %q", got, want)
				}
			}
			if !tt.err.IsRetryable() {
				t.Error("TimeoutError should be retryable up to the retry budget")
			}
		})
	}
}

func TestTimeoutError_Unwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &rerrors.TimeoutError{
		Operation: "test",
		Duration:  5 * time.Second,
		Cause:     cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("TimeoutError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTransportError_Error(t *testing.T) {
	cause := errors.New("connection refused")
	err := &rerrors.TransportError{Instance: "prod-1", Cause: cause}

	got := err.Error()
	if !strings.Contains(got, "prod-1") || !strings.Contains(got, "connection refused") {
		t.Errorf("TransportError.Error() = %q, want instance and cause", got)
	}
	if err.Unwrap() != cause {
		t.Error("TransportError.Unwrap() should return the underlying cause")
	}
	if !err.IsRetryable() {
		t.Error("TransportError should be retryable up to the retry budget")
	}
}

func TestCheckpointError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *rerrors.CheckpointError
		wantMsg string
	}{
		{
			name:    "with detail",
			err:     &rerrors.CheckpointError{Reason: "workflow-hash-mismatch", Detail: "expected abc got def"},
			wantMsg: "workflow-hash-mismatch: expected abc got def",
		},
		{
			name:    "without detail",
			err:     &rerrors.CheckpointError{Reason: "checkpoint-missing"},
			wantMsg: "checkpoint-missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("CheckpointError.Error() = %q, want %q", got, tt.wantMsg)
			}
			if tt.err.IsRetryable() {
				t.Error("CheckpointError should never be automatically retryable")
			}
		})
	}
}

// Test error wrapping with fmt.Errorf
func TestErrorWrapping(t *testing.T) {
	t.Run("ValidationError can be wrapped", func(t *testing.T) {
		original := &rerrors.ValidationError{
			Field:   "max_workers",
			Message: "invalid",
		}
		wrapped := fmt.Errorf("loading workflow: %w", original)

		var target *rerrors.ValidationError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ValidationError in wrapped error")
		}
		if target.Field != "max_workers" {
			t.Errorf("unwrapped error Field = %q, want %q", target.Field, "max_workers")
		}
	})

	t.Run("NotFoundError can be wrapped", func(t *testing.T) {
		original := &rerrors.NotFoundError{
			Resource: "task",
			ID:       "test",
		}
		wrapped := fmt.Errorf("loading workflow: %w", original)

		var target *rerrors.NotFoundError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find NotFoundError in wrapped error")
		}
		if target.Resource != "task" {
			t.Errorf("unwrapped error Resource = %q, want %q", target.Resource, "task")
		}
	})

	t.Run("TransportError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("network timeout")
		transportErr := &rerrors.TransportError{
			Instance: "prod-1",
			Cause:    rootCause,
		}
		wrapped := fmt.Errorf("running task: %w", transportErr)

		var target *rerrors.TransportError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find TransportError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("TransportError.Unwrap() should return root cause")
		}
	})

	t.Run("ConfigError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("file not found")
		configErr := &rerrors.ConfigError{
			Key:    "settings_file",
			Reason: "missing required field",
			Cause:  rootCause,
		}
		wrapped := fmt.Errorf("loading config: %w", configErr)

		var target *rerrors.ConfigError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ConfigError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("ConfigError.Unwrap() should return root cause")
		}
	})

	t.Run("TimeoutError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("context deadline exceeded")
		timeoutErr := &rerrors.TimeoutError{
			Operation: "test",
			Duration:  5 * time.Second,
			Cause:     rootCause,
		}
		wrapped := fmt.Errorf("operation timeout: %w", timeoutErr)

		var target *rerrors.TimeoutError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find TimeoutError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("TimeoutError.Unwrap() should return root cause")
		}
	})
}

// Test errors.Is behavior
func TestErrorsIs(t *testing.T) {
	t.Run("errors.Is works with wrapped ValidationError", func(t *testing.T) {
		original := &rerrors.ValidationError{Field: "test"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})

	t.Run("errors.Is works with wrapped NotFoundError", func(t *testing.T) {
		original := &rerrors.NotFoundError{Resource: "test", ID: "123"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})
}
