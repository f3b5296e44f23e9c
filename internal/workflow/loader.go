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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader turns a workflow file on disk into a Workflow. The JSON and line
// decoders are both Loaders so callers and tests can pick a concrete
// format instead of relying on auto-detection.
type Loader interface {
	Load(path string) (*Workflow, error)
}

type jsonLoader struct{}

func (jsonLoader) Load(path string) (*Workflow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file %s: %w", path, err)
	}
	return parseJSONFormat(content)
}

type lineLoader struct{}

func (lineLoader) Load(path string) (*Workflow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file %s: %w", path, err)
	}
	return parseLineFormat(content)
}

// JSONLoader returns a Loader that always parses the JSON workflow format.
func JSONLoader() Loader { return jsonLoader{} }

// LineLoader returns a Loader that always parses the line workflow format.
func LineLoader() Loader { return lineLoader{} }

type autoLoader struct{}

// New returns a Loader that detects the workflow format by file extension,
// falling back to content-sniffing (whether the first non-space byte is
// `{`) for unrecognized extensions.
func New() Loader { return autoLoader{} }

func (autoLoader) Load(path string) (*Workflow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file %s: %w", path, err)
	}

	if isJSONFormat(path, content) {
		return parseJSONFormat(content)
	}
	return parseLineFormat(content)
}

func isJSONFormat(path string, content []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return true
	case ".txt", ".wf", ".rushti":
		return false
	}
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
