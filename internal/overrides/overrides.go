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

// Package overrides implements the per-event-name, per-door explicit
// window (or suppression) store (spec.md §3 Overrides, §4.4 C4).
package overrides

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pcosync/pcosync/internal/interval"
	"github.com/pcosync/pcosync/internal/statefile"
)

// Class is the resolved override classification for one (event, door) pair.
type Class int

const (
	// Default means no override key matched; apply the mapping's default
	// lead/lag minutes.
	Default Class = iota
	// Explicit means one or more windows are configured; use them verbatim.
	Explicit
	// Suppress means the door is explicitly suppressed for this event.
	Suppress
)

// Window is one configured open/close clock-time pair.
type Window struct {
	OpenTime  string `json:"openTime"`
	CloseTime string `json:"closeTime"`
}

// DoorOverride is the per-door override payload.
type DoorOverride struct {
	Windows []Window `json:"windows"`
}

// eventOverride is the per-event-name payload.
type eventOverride struct {
	DoorOverrides map[string]DoorOverride `json:"doorOverrides"`
}

// doc is the on-disk JSON shape, keyed by lowercase event name.
type doc map[string]eventOverride

// Store holds the current overrides configuration.
type Store struct {
	path    string
	current doc
}

// NewStore constructs a Store reading from path.
func NewStore(path string) *Store {
	return &Store{path: path, current: doc{}}
}

// Reload reads the overrides file. A missing file means no overrides are
// configured, not an error.
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

// Path returns the backing file path, for the Core API's config CRUD routes.
func (s *Store) Path() string {
	return s.path
}

// Validate reports whether b parses as a well-formed overrides document,
// without touching the store's current configuration or backing file.
func (s *Store) Validate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var d doc
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("overrides: %w", err)
	}
	return nil
}

// Resolution is the resolved override for one (event, door) lookup.
type Resolution struct {
	Class   Class
	Windows []interval.LocalRange
}

// Find performs case-insensitive exact name match then case-insensitive
// exact door-key match, returning the resolved Class per spec.md §4.4:
//   - no key at all               -> Default
//   - key present, windows >= 1   -> Explicit(windows)
//   - key present, windows empty  -> Suppress
//
// Windows whose clock times do not parse are skipped; if none parse, the
// result is Suppress.
func (s *Store) Find(eventName, doorKey string) Resolution {
	ev, ok := s.current[strings.ToLower(eventName)]
	if !ok {
		return Resolution{Class: Default}
	}

	var match *DoorOverride
	for k, v := range ev.DoorOverrides {
		if strings.EqualFold(k, doorKey) {
			dv := v
			match = &dv
			break
		}
	}
	if match == nil {
		return Resolution{Class: Default}
	}
	if len(match.Windows) == 0 {
		return Resolution{Class: Suppress}
	}

	out := make([]interval.LocalRange, 0, len(match.Windows))
	for _, w := range match.Windows {
		open, ok1 := parseClock(w.OpenTime)
		close, ok2 := parseClock(w.CloseTime)
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, interval.LocalRange{Open: open, Close: close})
	}
	if len(out) == 0 {
		return Resolution{Class: Suppress}
	}
	return Resolution{Class: Explicit, Windows: out}
}

func parseClock(s string) (interval.Clock, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return interval.Clock{}, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return interval.Clock{}, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return interval.Clock{}, false
	}
	return interval.Clock{Hour: h, Minute: m}, true
}
