// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statefile provides the atomic (write-temp-then-rename, flock-
// guarded) JSON read/write primitive shared by every operator- and
// sync-managed state file described in spec.md §6 and §9. Generalizes the
// teacher window package's ConfigReader/Reader filesystem abstraction from
// read-only directory scanning into a read+write codec for a single named
// file. It does not validate contents; callers do.
package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockTimeout bounds how long a writer waits for the sibling .lock file
// before giving up, so a crashed holder can't wedge the whole process.
const lockTimeout = 5 * time.Second

// Load reads path and unmarshals it into v. A missing file is reported via
// the returned error wrapping os.ErrNotExist so callers can fall back to
// defaults or a last-good snapshot.
func Load(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// Save marshals v and writes it to path atomically: the JSON is written to
// a temporary file in the same directory, fsynced, then renamed over path.
// A flock on path+".lock" serializes concurrent writers (the dashboard and
// the sync process) so no reader ever observes a half-written file.
func Save(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return fmt.Errorf("statefile: creating dir %q: %w", dir, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("statefile: acquiring lock for %q: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("statefile: timed out acquiring lock for %q", path)
	}
	defer lock.Unlock()

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statefile: marshaling %q: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("statefile: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("statefile: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("statefile: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statefile: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("statefile: renaming into place: %w", err)
	}
	return nil
}
