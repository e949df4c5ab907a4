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

// Package cancellation tracks manually-cancelled event ids (spec.md §3
// Cancellations, §4.6 C6). Reads must be non-blocking; mutations come from
// the external dashboard (out of scope) via the same file.
package cancellation

import (
	"sync"
	"time"

	"github.com/pcosync/pcosync/internal/statefile"
)

// Record is the stored metadata for one cancelled event.
type Record struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
}

type doc map[string]Record

// Store holds the set of cancelled event ids, reloaded every cycle.
type Store struct {
	path string

	mu      sync.RWMutex
	current doc
}

// NewStore constructs a Store reading from path.
func NewStore(path string) *Store {
	return &Store{current: doc{}, path: path}
}

// Reload re-reads the cancellations file; a missing file means no
// cancellations.
func (s *Store) Reload() error {
	var d doc
	if err := statefile.Load(s.path, &d); err != nil {
		s.mu.Lock()
		s.current = doc{}
		s.mu.Unlock()
		return nil
	}
	if d == nil {
		d = doc{}
	}
	s.mu.Lock()
	s.current = d
	s.mu.Unlock()
	return nil
}

// IsCancelled reports, in O(1), whether eventID is cancelled.
func (s *Store) IsCancelled(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.current[eventID]
	return ok
}

// Records returns a snapshot copy of every cancelled event's metadata.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.current))
	for _, r := range s.current {
		out = append(out, r)
	}
	return out
}

// Cancel adds eventID to the cancelled set and persists it. Exposed for the
// Core API's cancel operation (§6); the dashboard itself is out of scope
// but this is the logical operation it calls.
func (s *Store) Cancel(r Record) error {
	s.mu.Lock()
	if s.current == nil {
		s.current = doc{}
	}
	s.current[r.ID] = r
	snapshot := cloneDoc(s.current)
	s.mu.Unlock()
	return statefile.Save(s.path, snapshot)
}

// Restore removes eventID from the cancelled set and persists the change.
func (s *Store) Restore(eventID string) error {
	s.mu.Lock()
	delete(s.current, eventID)
	snapshot := cloneDoc(s.current)
	s.mu.Unlock()
	return statefile.Save(s.path, snapshot)
}

func cloneDoc(d doc) doc {
	out := make(doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
