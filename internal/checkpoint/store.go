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

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rushti/rushti/internal/rerrors"
)

// Store manages the on-disk checkpoint file for a single workflow run.
type Store struct {
	path string
}

// NewStore returns a Store for workflow's checkpoint file under dir,
// following the `checkpoint_<workflow>.json` naming convention.
func NewStore(dir, workflow string) *Store {
	return &Store{path: filepath.Join(dir, fmt.Sprintf("checkpoint_%s.json", workflow))}
}

// Path returns the checkpoint file's path.
func (s *Store) Path() string {
	return s.path
}

// HashFile returns the SHA-256 hash of the workflow file at path, as used
// to detect whether the workflow changed since the checkpoint was saved.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hashing workflow file %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Save atomically persists c: marshal to JSON, write to a sibling temp
// file, fsync it, then rename over the target path. The rename is the
// only state transition a concurrent reader can observe, so a reader
// never sees a partially-written checkpoint.
func (s *Store) Save(c *Checkpoint) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "creating checkpoint directory", Cause: err}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "marshaling checkpoint", Cause: err}
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "opening temp file", Cause: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "writing temp file", Cause: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "fsyncing temp file", Cause: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "closing temp file", Cause: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &rerrors.CheckpointError{Reason: "checkpoint-write-failed", Detail: "renaming temp file into place", Cause: err}
	}
	return nil
}

// Load reads and parses the checkpoint file. It returns a
// *rerrors.CheckpointError with Reason "checkpoint-missing" if the file
// does not exist, or "checkpoint-corrupt" if it cannot be parsed.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &rerrors.CheckpointError{Reason: "checkpoint-missing", Detail: s.path}
		}
		return nil, &rerrors.CheckpointError{Reason: "checkpoint-corrupt", Detail: "reading checkpoint file", Cause: err}
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &rerrors.CheckpointError{Reason: "checkpoint-corrupt", Detail: "parsing checkpoint JSON", Cause: err}
	}
	return &c, nil
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Delete removes the checkpoint file. Called on successful run
// completion; a failed run retains its checkpoint for resume.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting checkpoint file %s: %w", s.path, err)
	}
	return nil
}
