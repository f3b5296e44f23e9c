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
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rushti/rushti/internal/rerrors"
	"github.com/rushti/rushti/internal/task"
)

const waitToken = "wait"

// parseLineFormat decodes the UTF-8 line-oriented workflow format: one
// statement per line, `#`-prefixed comments and blank lines ignored, each
// statement either the literal `wait` or a whitespace-separated sequence
// of key=value tokens with shell-style double-quote grouping.
func parseLineFormat(content []byte) (*Workflow, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var models []*TaskModel
	var groups [][]string // ids seen since the previous wait, one slice per group
	groups = append(groups, nil)
	sawExplicitID := false
	taskOrdinal := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == waitToken {
			groups = append(groups, nil)
			continue
		}

		tokens, err := tokenizeLine(line)
		if err != nil {
			return nil, &rerrors.ValidationError{
				Field:      "line",
				Message:    fmt.Sprintf("line %d: %s", lineNo, err),
				Suggestion: "check quoting: double quotes group a value, \\\" and \\\\ escape within them",
			}
		}

		fields := make(map[string]string, len(tokens))
		for _, tok := range tokens {
			key, value, ok := strings.Cut(tok, "=")
			if !ok {
				return nil, &rerrors.ValidationError{
					Field:   "line",
					Message: fmt.Sprintf("line %d: token %q is not key=value", lineNo, tok),
				}
			}
			fields[key] = value
		}

		taskOrdinal++
		model, hadID, err := buildTaskModel(fields, taskOrdinal)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if hadID {
			sawExplicitID = true
		}

		if len(groups) > 1 {
			if prevGroup := groups[len(groups)-2]; len(prevGroup) > 0 {
				model.Predecessors = mergePredecessors(model.Predecessors, prevGroup)
			}
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], model.ID)

		models = append(models, model)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading line workflow: %w", err)
	}

	mode := ModeNorm
	if sawExplicitID {
		mode = ModeOpt
	}

	if err := validateDocument(models, Settings{}); err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, len(models))
	for i, m := range models {
		tasks[i] = m.toTask()
	}

	return &Workflow{
		Tasks: tasks,
		Mode:  mode,
	}, nil
}

// buildTaskModel lifts a parsed key=value field map into a TaskModel,
// normalizing reserved keys (case-insensitive) and collecting every
// non-reserved key into Parameters. hadID reports whether the line
// supplied an explicit id= key, which drives opt/norm classification.
func buildTaskModel(fields map[string]string, ordinal int) (model *TaskModel, hadID bool, err error) {
	m := &TaskModel{Parameters: make(map[string]string)}

	for key, value := range fields {
		switch strings.ToLower(key) {
		case "id":
			m.ID = value
			hadID = true
		case "instance":
			m.Instance = value
		case "process":
			m.Process = value
		case "predecessors":
			m.Predecessors = splitPredecessors(value)
		case "stage":
			m.Stage = value
		case "require_predecessor_success":
			b, perr := parseBool(value)
			if perr != nil {
				return nil, false, fmt.Errorf("require_predecessor_success: %w", perr)
			}
			m.RequirePredecessorSuccess = b
		case "succeed_on_minor_errors":
			b, perr := parseBool(value)
			if perr != nil {
				return nil, false, fmt.Errorf("succeed_on_minor_errors: %w", perr)
			}
			m.SucceedOnMinorErrors = b
		case "safe_retry":
			b, perr := parseBool(value)
			if perr != nil {
				return nil, false, fmt.Errorf("safe_retry: %w", perr)
			}
			m.SafeRetry = b
		case "timeout":
			secs, perr := strconv.Atoi(value)
			if perr != nil {
				return nil, false, fmt.Errorf("timeout: %w", perr)
			}
			m.TimeoutSeconds = secs
		case "cancel_at_timeout":
			b, perr := parseBool(value)
			if perr != nil {
				return nil, false, fmt.Errorf("cancel_at_timeout: %w", perr)
			}
			m.CancelAtTimeout = b
		default:
			// Preserve the key's original case and any wildcard suffix;
			// only reserved keys are case-folded.
			m.Parameters[key] = value
		}
	}

	if m.ID == "" {
		m.ID = fmt.Sprintf("task_%d", ordinal)
	}
	return m, hadID, nil
}

func splitPredecessors(value string) []string {
	if value == "" || value == "0" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mergePredecessors(explicit, implicit []string) []string {
	seen := make(map[string]bool, len(explicit)+len(implicit))
	var out []string
	for _, id := range explicit {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range implicit {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", value)
	}
}

// tokenizeLine splits a statement into key=value tokens on whitespace,
// honoring shell-style double-quote grouping: a quoted span may contain
// whitespace, and `\"`/`\\` are unescaped to `"`/`\` within it.
func tokenizeLine(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasToken := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			hasToken = true
		case c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\'):
			cur.WriteByte(line[i+1])
			hasToken = true
			i++
		case (c == ' ' || c == '\t') && !inQuotes:
			if hasToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				hasToken = false
			}
		default:
			cur.WriteByte(c)
			hasToken = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote")
	}
	if hasToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
