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

package workflow

import (
	"fmt"

	"github.com/rushti/rushti/internal/rerrors"
)

// validateIDsUnique rejects a workflow with two tasks sharing an id.
func validateIDsUnique(tasks []*TaskModel) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return &rerrors.ValidationError{
				Field:   "id",
				Message: "task id is required",
			}
		}
		if seen[t.ID] {
			return &rerrors.ValidationError{
				Field:      "id",
				Message:    fmt.Sprintf("duplicate task id %q", t.ID),
				Suggestion: "ensure every task has a unique id",
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// validatePredecessorsExist rejects a workflow where a predecessor
// references an id that isn't defined anywhere in the task list.
func validatePredecessorsExist(tasks []*TaskModel) error {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, pred := range t.Predecessors {
			if !known[pred] {
				return &rerrors.ValidationError{
					Field:      "predecessors",
					Message:    fmt.Sprintf("task %q references unknown predecessor %q", t.ID, pred),
					Suggestion: "add the missing task or remove the predecessor reference",
				}
			}
		}
	}
	return nil
}

// validateMaxWorkers rejects a non-positive max_workers when the setting
// is present at all (zero means "unset" and is left to the effective
// settings merge).
func validateMaxWorkers(s Settings) error {
	if s.MaxWorkers < 0 {
		return &rerrors.ValidationError{
			Field:      "settings.max_workers",
			Message:    "max_workers must be at least 1 when set",
			Suggestion: "remove max_workers to use the default, or set it to a positive integer",
		}
	}
	return nil
}

// validateTasksNonEmpty rejects a workflow with no tasks.
func validateTasksNonEmpty(tasks []*TaskModel) error {
	if len(tasks) == 0 {
		return &rerrors.ValidationError{
			Field:      "tasks",
			Message:    "workflow must have at least one task",
			Suggestion: "add at least one task to the workflow",
		}
	}
	return nil
}

// validateNoCycle runs a depth-first search over the tasks' predecessor
// edges, surfacing a *rerrors.CycleError at load time rather than
// waiting for the scheduler to discover it.
func validateNoCycle(tasks []*TaskModel) error {
	adjacency := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		adjacency[t.ID] = t.Predecessors
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, pred := range adjacency[id] {
			switch color[pred] {
			case white:
				if err := visit(pred); err != nil {
					return err
				}
			case gray:
				return &rerrors.CycleError{Participants: cyclePathFrom(stack, pred)}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, t := range tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePathFrom(stack []string, repeated string) []string {
	for i, id := range stack {
		if id == repeated {
			cycle := append([]string{}, stack[i:]...)
			return append(cycle, repeated)
		}
	}
	return append(append([]string{}, stack...), repeated)
}

// validateDocument runs every composable validator against a parsed
// TaskModel list and settings block. Callers (the line and JSON decoders)
// call this once, after building a uniform TaskModel slice from their
// respective wire formats.
func validateDocument(tasks []*TaskModel, s Settings) error {
	if err := validateTasksNonEmpty(tasks); err != nil {
		return err
	}
	if err := validateIDsUnique(tasks); err != nil {
		return err
	}
	if err := validatePredecessorsExist(tasks); err != nil {
		return err
	}
	if err := validateMaxWorkers(s); err != nil {
		return err
	}
	if err := validateNoCycle(tasks); err != nil {
		return err
	}
	return nil
}
