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
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/rushti/rushti/internal/rerrors"
	"github.com/rushti/rushti/internal/task"
)

var jsonValidate = validator.New()

// parseJSONFormat decodes the structured JSON workflow document: version,
// metadata, settings, and a task array. Struct-tag validation runs first
// (required fields, positive integers), then the same composable
// validators the line decoder uses (unique ids, predecessor closure,
// max_workers, acyclicity) run over the lifted TaskModel slice.
func parseJSONFormat(content []byte) (*Workflow, error) {
	var doc Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, &rerrors.ValidationError{
			Field:      "format",
			Message:    fmt.Sprintf("invalid JSON workflow: %s", err),
			Suggestion: "check the document is well-formed JSON",
		}
	}

	if err := jsonValidate.Struct(&doc); err != nil {
		return nil, &rerrors.ValidationError{
			Field:   "schema",
			Message: err.Error(),
		}
	}

	for _, td := range doc.Tasks {
		for key := range td.Parameters {
			if task.IsReserved(key) {
				return nil, &rerrors.ValidationError{
					Field:      "parameters",
					Message:    fmt.Sprintf("task %q: parameter key %q collides with a reserved field", td.ID, key),
					Suggestion: "rename the parameter; id/instance/process are reserved",
				}
			}
		}
	}

	models := make([]*TaskModel, len(doc.Tasks))
	for i, td := range doc.Tasks {
		models[i] = &TaskModel{
			ID:                        td.ID,
			Instance:                  td.Instance,
			Process:                   td.Process,
			Parameters:                td.Parameters,
			Predecessors:              td.Predecessors,
			Stage:                     td.Stage,
			RequirePredecessorSuccess: td.RequirePredecessorSuccess,
			SucceedOnMinorErrors:      td.SucceedOnMinorErrors,
			SafeRetry:                 td.SafeRetry,
			TimeoutSeconds:            td.TimeoutSeconds,
			CancelAtTimeout:           td.CancelAtTimeout,
		}
	}

	if err := validateDocument(models, doc.Settings); err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, len(models))
	for i, m := range models {
		tasks[i] = m.toTask()
	}

	return &Workflow{
		Version:  doc.Version,
		Metadata: doc.Metadata,
		Settings: doc.Settings,
		Tasks:    tasks,
		Mode:     ModeOpt,
	}, nil
}
