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

package task

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature computes the 16-hex-character stats key for a task execution:
// a hash of instance|process|sorted(parameters). Two tasks (or two
// expanded instances) that target the same instance and process with the
// same parameter set share a signature, and therefore share runtime
// history in the stats store.
func Signature(instance, process string, parameters map[string]string) string {
	h := sha256.New()
	h.Write([]byte(instance))
	h.Write([]byte{'|'})
	h.Write([]byte(process))
	h.Write([]byte{'|'})
	h.Write([]byte(encodeParameters(parameters)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// encodeParameters renders parameters in a canonical, deterministic form:
// keys sorted ascending, joined as "k=v" pairs separated by commas. Commas
// or equals signs inside keys/values are not escaped because parameter
// keys and values in practice never contain them (loader-level
// restriction); this mirrors the spec's own open question about fan-out
// key collisions (§9) rather than inventing new escaping behavior.
func encodeParameters(parameters map[string]string) string {
	if len(parameters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(parameters))
	for k := range parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(parameters[k])
	}
	return b.String()
}
