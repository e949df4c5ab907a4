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

// Package eventmemory keeps a rolling observation log of event names,
// tracking their last and next occurrence (spec.md §3 EventMemory, §4.5
// C5), pruned after 60 days of inactivity.
package eventmemory

import (
	"sort"
	"strings"
	"time"

	"github.com/pcosync/pcosync/internal/statefile"
)

// pruneAfter is the inactivity window after which a name with no upcoming
// occurrence is dropped.
const pruneAfter = 60 * 24 * time.Hour

// Entry is the per-(lowercased)name observation record.
type Entry struct {
	Name       string    `json:"name"`
	Building   string    `json:"building"`
	Rooms      []string  `json:"rooms"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	LastEndAt  time.Time `json:"lastEndAt"`
	NextAt     time.Time `json:"nextAt"`
	NextEndAt  time.Time `json:"nextEndAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Observation is one event instance as seen by the sync engine.
type Observation struct {
	Name     string
	Building string
	Room     string
	StartAt  time.Time
	EndAt    time.Time
}

// doc is the on-disk JSON shape, keyed by lowercase event name.
type doc map[string]Entry

// Store holds the current event memory, persisted atomically after Update.
type Store struct {
	path    string
	current doc
}

// NewStore constructs a Store reading from path.
func NewStore(path string) *Store {
	return &Store{path: path, current: doc{}}
}

// Reload loads the persisted memory.
func (s *Store) Reload() error {
	var d doc
	if err := statefile.Load(s.path, &d); err != nil {
		s.current = doc{}
		return nil
	}
	if d == nil {
		d = doc{}
	}
	s.current = d
	return nil
}

// Update groups observations by lowercase name, recomputes lastSeen/next
// occurrence against now, applies the 60-day pruning rule, and persists
// the result atomically.
func (s *Store) Update(obs []Observation, now time.Time) error {
	groups := make(map[string][]Observation)
	for _, o := range obs {
		key := strings.ToLower(o.Name)
		groups[key] = append(groups[key], o)
	}

	next := doc{}
	// Carry forward existing entries whose name wasn't observed this cycle,
	// so pruning (not mere absence) is what removes them.
	for key, e := range s.current {
		if _, seen := groups[key]; !seen {
			next[key] = e
		}
	}

	for key, instances := range groups {
		entry := Entry{Name: instances[0].Name, UpdatedAt: now}
		// Seed LastSeenAt/LastEndAt from the prior cycle's entry so a
		// recurring event's past occurrence isn't wiped back to the zero
		// time once it ages out of the lookbehind window while later
		// occurrences keep it observed. NextAt is deliberately NOT seeded:
		// it's fully recomputed below from this cycle's instances.
		if prev, ok := s.current[key]; ok {
			entry.LastSeenAt = prev.LastSeenAt
			entry.LastEndAt = prev.LastEndAt
		}
		var mostRecentObs *Observation
		for i := range instances {
			o := &instances[i]
			if !o.StartAt.After(now) {
				if entry.LastSeenAt.IsZero() || o.StartAt.After(entry.LastSeenAt) {
					entry.LastSeenAt = o.StartAt
					entry.LastEndAt = o.EndAt
				}
			} else {
				if entry.NextAt.IsZero() || o.StartAt.Before(entry.NextAt) {
					entry.NextAt = o.StartAt
					entry.NextEndAt = o.EndAt
				}
			}
			if mostRecentObs == nil || o.StartAt.After(mostRecentObs.StartAt) {
				mostRecentObs = o
			}
		}
		if mostRecentObs != nil {
			entry.Building = mostRecentObs.Building
		}
		var rooms []string
		seenRoom := make(map[string]bool)
		for _, o := range instances {
			if o.Room != "" && !seenRoom[o.Room] {
				seenRoom[o.Room] = true
				rooms = append(rooms, o.Room)
			}
		}
		entry.Rooms = rooms
		next[key] = entry
	}

	pruned := doc{}
	for key, e := range next {
		if e.LastSeenAt.Before(now.Add(-pruneAfter)) && e.NextAt.IsZero() {
			continue
		}
		pruned[key] = e
	}

	s.current = pruned
	return statefile.Save(s.path, s.current)
}

// Entries returns all entries sorted for display: upcoming first (soonest
// first), then past (most recent first).
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.current))
	for _, e := range s.current {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aUpcoming, bUpcoming := !a.NextAt.IsZero(), !b.NextAt.IsZero()
		if aUpcoming != bUpcoming {
			return aUpcoming
		}
		if aUpcoming {
			return a.NextAt.Before(b.NextAt)
		}
		return a.LastSeenAt.After(b.LastSeenAt)
	})
	return out
}

// Stats summarizes memory for the orchestrator snapshot.
type Stats struct {
	TrackedNames int
	PendingPrune int
}

// Stats reports the number of tracked names and how many have no upcoming
// occurrence and are within 24h of the 60-day prune cutoff.
func (s *Store) Stats(now time.Time) Stats {
	st := Stats{TrackedNames: len(s.current)}
	soon := now.Add(-pruneAfter + 24*time.Hour)
	for _, e := range s.current {
		if e.NextAt.IsZero() && e.LastSeenAt.Before(soon) {
			st.PendingPrune++
		}
	}
	return st
}
