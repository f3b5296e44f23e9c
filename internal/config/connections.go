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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushti/rushti/internal/remote"
)

// connectionFile is the connection descriptor file's wire shape: a flat
// list of per-instance records. Instances named in the workflow but
// absent here fail to resolve at dispatch time; instances present here
// but unused by the workflow are simply ignored (spec.md §6).
type connectionFile struct {
	Connections []connectionEntry `yaml:"connections"`
}

type connectionEntry struct {
	Instance       string `yaml:"instance"`
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"` // base64 at rest, decoded by remote.Connection.Password
	Namespace      string `yaml:"namespace"`
	SSL            bool   `yaml:"ssl"`
	SessionContext string `yaml:"session_context,omitempty"`
}

// LoadConnections reads the connection descriptor file at path into the
// remote.Connection records the remote client pool resolves instances
// against.
func LoadConnections(path string) ([]remote.Connection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading connection descriptor file %s: %w", path, err)
	}

	var file connectionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing connection descriptor file %s: %w", path, err)
	}

	conns := make([]remote.Connection, 0, len(file.Connections))
	for _, e := range file.Connections {
		conns = append(conns, remote.Connection{
			Instance:       e.Instance,
			Address:        e.Address,
			Port:           e.Port,
			User:           e.User,
			PasswordBase64: e.Password,
			Namespace:      e.Namespace,
			SSL:            e.SSL,
			SessionContext: e.SessionContext,
		})
	}
	return conns, nil
}
