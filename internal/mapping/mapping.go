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

// Package mapping loads and validates the room→door and exclusion-rule
// configuration (spec.md §3 Mapping, §4.2 C2). Generalizes the teacher
// window package's directory-scanning ConfigReader into a single validated
// JSON document with last-good-snapshot fallback.
package mapping

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pcosync/pcosync/internal/statefile"
	"github.com/pcosync/pcosync/internal/util"
)

// Door describes a single physical door group.
type Door struct {
	DoorKey       string   `json:"doorKey" validate:"required"`
	Label         string   `json:"label" validate:"required"`
	RemoteDoorIDs []string `json:"remoteDoorIds" validate:"required,min=1"`
}

// Defaults holds the fallback lead/lag applied absent an override.
type Defaults struct {
	LeadMinutes int `json:"leadMinutes" validate:"required,gt=0"`
	LagMinutes  int `json:"lagMinutes" validate:"required,gt=0"`
}

// ExcludeDoorsByEventName drops doorKeys for events whose name contains
// substr (case-insensitive).
type ExcludeDoorsByEventName struct {
	Substr   string   `json:"substr" validate:"required"`
	DoorKeys []string `json:"doorKeys" validate:"required,min=1"`
}

// Rules holds the two exclusion rule families from spec.md §3.
type Rules struct {
	ExcludeDoorKeysByEventName []ExcludeDoorsByEventName `json:"excludeDoorKeysByEventName"`
	ExcludeEventsByRoomContains []string                 `json:"excludeEventsByRoomContains"`
}

// doc is the on-disk JSON shape.
type doc struct {
	Doors    []Door              `json:"doors" validate:"dive"`
	Rooms    map[string][]string `json:"rooms"`
	Defaults Defaults            `json:"defaults"`
	Rules    Rules               `json:"rules"`
}

// Snapshot is the immutable, validated in-memory mapping.
type Snapshot struct {
	Doors    map[string]Door
	DoorKeysInOrder []string // canonical display+color order (insertion order)
	Rooms    map[string][]string
	Defaults Defaults
	Rules    Rules
}

// DoorKeysForRoom returns the mapped door keys for room, sorted
// lexicographically for deterministic iteration (spec.md §4.9 Determinism).
func (s *Snapshot) DoorKeysForRoom(room string) []string {
	keys := append([]string(nil), s.Rooms[room]...)
	sortStrings(keys)
	return keys
}

// ExcludesDoorKeyForEventName reports whether eventName (matched
// case-insensitively as a substring) excludes doorKey.
func (s *Snapshot) ExcludesDoorKeyForEventName(eventName, doorKey string) bool {
	for _, rule := range s.Rules.ExcludeDoorKeysByEventName {
		if !util.ContainsFold(eventName, rule.Substr) {
			continue
		}
		for _, dk := range rule.DoorKeys {
			if dk == doorKey {
				return true
			}
		}
	}
	return false
}

// ExcludesRoom reports whether room matches any excludeEventsByRoomContains
// substring (case-insensitive).
func (s *Snapshot) ExcludesRoom(room string) bool {
	for _, substr := range s.Rules.ExcludeEventsByRoomContains {
		if util.ContainsFold(room, substr) {
			return true
		}
	}
	return false
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

var validate = validator.New()

// validateDoc checks the invariants from spec.md §3: every door key
// referenced by rooms/rules must exist, door keys are unique, and default
// minutes are positive (enforced via struct tags plus an explicit
// referential check validator tags can't express).
func validateDoc(d *doc) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("mapping: schema validation: %w", err)
	}

	seen := make(map[string]bool, len(d.Doors))
	for _, door := range d.Doors {
		if seen[door.DoorKey] {
			return fmt.Errorf("mapping: duplicate door key %q", door.DoorKey)
		}
		seen[door.DoorKey] = true
	}

	for room, keys := range d.Rooms {
		for _, k := range keys {
			if !seen[k] {
				return fmt.Errorf("mapping: rooms[%q] references unknown door key %q", room, k)
			}
		}
	}
	for _, rule := range d.Rules.ExcludeDoorKeysByEventName {
		for _, k := range rule.DoorKeys {
			if !seen[k] {
				return fmt.Errorf("mapping: exclusion rule %q references unknown door key %q", rule.Substr, k)
			}
		}
	}
	return nil
}

func toSnapshot(d *doc) *Snapshot {
	doors := make(map[string]Door, len(d.Doors))
	order := make([]string, 0, len(d.Doors))
	for _, door := range d.Doors {
		doors[door.DoorKey] = door
		order = append(order, door.DoorKey)
	}
	rooms := make(map[string][]string, len(d.Rooms))
	for room, keys := range d.Rooms {
		rooms[strings.TrimSpace(room)] = keys
	}
	return &Snapshot{
		Doors:           doors,
		DoorKeysInOrder: order,
		Rooms:           rooms,
		Defaults:        d.Defaults,
		Rules:           d.Rules,
	}
}

// Store owns the current validated Snapshot, falling back to the last good
// one whenever reload fails validation, per spec.md §4.2.
type Store struct {
	path string

	mu       sync.RWMutex
	current  *Snapshot
	version  int
}

// NewStore constructs a Store reading from path. The first Reload must be
// called before Snapshot returns anything useful.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Reload reads, validates, and (on success) swaps in a new Snapshot. On
// validation failure the previous snapshot is kept and the error is
// returned for the caller to record as a recoverable ConfigInvalid error.
func (s *Store) Reload() error {
	var d doc
	if err := statefile.Load(s.path, &d); err != nil {
		return fmt.Errorf("mapping: loading %q: %w", s.path, err)
	}
	if err := validateDoc(&d); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = toSnapshot(&d)
	s.version++
	return nil
}

// Validate parses and validates b against this file's schema without
// touching the store's current snapshot or backing file, so the Core
// API's config-write route can reject a bad PUT before anything is
// persisted.
func (s *Store) Validate(b []byte) error {
	var d doc
	if len(b) > 0 {
		if err := json.Unmarshal(b, &d); err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
	}
	return validateDoc(&d)
}

// Snapshot returns the current validated snapshot (nil if none has ever
// loaded successfully).
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Path returns the backing file path, for the Core API's config CRUD routes.
func (s *Store) Path() string {
	return s.path
}

// Version returns the number of successful reloads, for the orchestrator's
// "config freshness" reporting.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
