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
	"os"

	"github.com/rushti/rushti/internal/task"
)

// ToDocument converts a Workflow back into its JSON wire shape. Used by the
// contention optimizer (C10) to emit a reordered/annotated workflow file
// alongside the one it analyzed.
func ToDocument(wf *Workflow) *Document {
	docTasks := make([]TaskDocument, len(wf.Tasks))
	for i, t := range wf.Tasks {
		docTasks[i] = taskToDocument(t)
	}
	return &Document{
		Version:  wf.Version,
		Metadata: wf.Metadata,
		Settings: wf.Settings,
		Tasks:    docTasks,
	}
}

func taskToDocument(t *task.Task) TaskDocument {
	return TaskDocument{
		ID:                        t.ID,
		Instance:                  t.Instance,
		Process:                   t.Process,
		Parameters:                t.Parameters,
		Predecessors:              t.Predecessors,
		Stage:                     t.Stage,
		RequirePredecessorSuccess: t.RequirePredecessorSuccess,
		SucceedOnMinorErrors:      t.SucceedOnMinorErrors,
		SafeRetry:                 t.SafeRetry,
		TimeoutSeconds:            int(t.Timeout.Seconds()),
		CancelAtTimeout:           t.CancelAtTimeout,
	}
}

// WriteFile marshals wf as indented JSON and writes it to path, always in
// the JSON wire format regardless of the source workflow's original format
// — the optimizer's output is always a fresh, machine-generated document.
func WriteFile(path string, wf *Workflow) error {
	doc := ToDocument(wf)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding workflow: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing workflow file %s: %w", path, err)
	}
	return nil
}
