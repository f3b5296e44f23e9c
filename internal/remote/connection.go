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

// Package remote implements the RushTI remote client (C9): one pooled HTTP
// client per logical analytics-server instance, exposing the run-process,
// expand-set, and cancel operations the harness and DAG expander need.
package remote

import (
	"encoding/base64"
	"fmt"
)

// Connection is a single instance's connection descriptor, as read from
// the connection descriptor file. Instances named in the workflow but
// absent from this file cannot be resolved; instances present here but
// unused by the workflow are simply ignored.
type Connection struct {
	Instance       string
	Address        string
	Port           int
	User           string
	PasswordBase64 string
	Namespace      string
	SSL            bool
	SessionContext string
}

// Password decodes the at-rest base64 password. The descriptor file never
// stores a password in the clear.
func (c Connection) Password() (string, error) {
	if c.PasswordBase64 == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.PasswordBase64)
	if err != nil {
		return "", fmt.Errorf("decode password for instance %q: %w", c.Instance, err)
	}
	return string(raw), nil
}

// BaseURL returns the instance's HTTP(S) base URL.
func (c Connection) BaseURL() string {
	scheme := "http"
	if c.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Address, c.Port)
}
