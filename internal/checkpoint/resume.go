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

package checkpoint

import "github.com/rushti/rushti/internal/rerrors"

// Plan is the result of reconciling a loaded checkpoint against the
// current workflow: which ids are already settled and can be re-injected
// into the DAG without re-running, which ids should be retried from
// scratch, and which ids need an explicit operator decision before the
// scheduler may proceed.
type Plan struct {
	// Completed carries the outcome to re-inject for every id the
	// checkpoint already recorded as completed.
	Completed map[string]Outcome

	// Skipped carries the skip reason to re-inject for every id the
	// checkpoint already recorded as skipped.
	Skipped map[string]string

	// Retry lists ids that were in_progress with safe_retry=true, or
	// without it but authorized by resumeFrom or force: moved back to
	// pending and executed from scratch.
	Retry []string

	// NeedsDecision lists ids that were in_progress without safe_retry:
	// the caller must supply --resume-from or --force before dispatch.
	NeedsDecision []string
}

// BuildPlan reconciles a loaded checkpoint against the current workflow
// file hash and the safe-retry flag of each in-progress task id. A
// hash mismatch is a strict failure unless force is true. If any
// in-progress id lacks safe_retry and neither resumeFrom nor force
// selects it, the result's NeedsDecision is non-empty and the caller
// must halt before dispatching anything (exit code 3 per the scheduler's
// contract).
func BuildPlan(c *Checkpoint, currentWorkflowHash string, safeRetry map[string]bool, resumeFrom map[string]bool, force bool) (*Plan, error) {
	if !force && c.WorkflowHash != currentWorkflowHash {
		return nil, &rerrors.CheckpointError{
			Reason: "workflow-hash-mismatch",
			Detail: "checkpoint was saved against a different version of the workflow file; pass --force to resume anyway",
		}
	}

	plan := &Plan{
		Completed: c.Completed,
		Skipped:   c.Skipped,
		Retry:     []string{},
	}

	for _, id := range c.InProgress {
		switch {
		case safeRetry[id]:
			plan.Retry = append(plan.Retry, id)
		case force || resumeFrom[id]:
			plan.Retry = append(plan.Retry, id)
		default:
			plan.NeedsDecision = append(plan.NeedsDecision, id)
		}
	}

	if len(plan.NeedsDecision) > 0 {
		return plan, &rerrors.CheckpointError{
			Reason: "unsafe-in-progress",
			Detail: "in-progress tasks without safe_retry require --resume-from or --force: " + joinIDs(plan.NeedsDecision),
		}
	}

	return plan, nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
