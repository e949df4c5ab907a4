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

// Package officehours parses the static recurring weekly office-hours
// configuration (spec.md §3 OfficeHours, §4.3 C3) and expands it to
// concrete dated windows over a date range.
package officehours

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pcosync/pcosync/internal/interval"
	"github.com/pcosync/pcosync/internal/statefile"
)

// tokenRE matches one "HH[:MM] -|– HH[:MM]" range token. En-dash (U+2013)
// is accepted alongside the ASCII hyphen.
var tokenRE = regexp.MustCompile(`^\s*(\d{1,2})(?::(\d{2}))?\s*[-\x{2013}]\s*(\d{1,2})(?::(\d{2}))?\s*$`)

// ParseRanges accepts a comma- or semicolon-separated list of clock-range
// tokens. Invalid tokens are silently dropped rather than aborting the
// whole parse, matching spec.md §4.3.
func ParseRanges(s string) []interval.LocalRange {
	var out []interval.LocalRange
	for _, tok := range splitTokens(s) {
		r, ok := parseOneRange(tok)
		if !ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

func splitTokens(s string) []string {
	repl := strings.NewReplacer(";", ",")
	parts := strings.Split(repl.Replace(s), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOneRange(tok string) (interval.LocalRange, bool) {
	m := tokenRE.FindStringSubmatch(tok)
	if m == nil {
		return interval.LocalRange{}, false
	}
	open, ok := parseClock(m[1], m[2])
	if !ok {
		return interval.LocalRange{}, false
	}
	close, ok := parseClock(m[3], m[4])
	if !ok {
		return interval.LocalRange{}, false
	}
	return interval.LocalRange{Open: open, Close: close}, true
}

func parseClock(hourStr, minStr string) (interval.Clock, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 24 {
		return interval.Clock{}, false
	}
	minute := 0
	if minStr != "" {
		minute, err = strconv.Atoi(minStr)
		if err != nil || minute < 0 || minute > 59 {
			return interval.Clock{}, false
		}
	}
	return interval.Clock{Hour: hour, Minute: minute}, true
}

// DayConfig is the per-weekday configuration: parsed ranges plus the set of
// doors they apply to.
type DayConfig struct {
	Ranges string   `json:"ranges"`
	Doors  []string `json:"doors"`
}

// doc is the on-disk JSON shape, keyed by lowercase English weekday name.
type doc struct {
	Enabled  bool                 `json:"enabled"`
	Schedule map[string]DayConfig `json:"schedule"`
}

// OfficeHours is the parsed, in-memory configuration.
type OfficeHours struct {
	Enabled  bool
	Schedule map[time.Weekday]DayConfig
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Store holds the current OfficeHours configuration, reloaded each cycle.
type Store struct {
	path    string
	current *OfficeHours
}

// NewStore constructs a Store reading from path.
func NewStore(path string) *Store {
	return &Store{path: path, current: &OfficeHours{Schedule: map[time.Weekday]DayConfig{}}}
}

// Reload reads and parses the office-hours file. A missing file is treated
// as "disabled", not an error, since office hours are optional.
func (s *Store) Reload() error {
	var d doc
	if err := statefile.Load(s.path, &d); err != nil {
		s.current = &OfficeHours{Enabled: false, Schedule: map[time.Weekday]DayConfig{}}
		return nil
	}
	schedule := make(map[time.Weekday]DayConfig, len(d.Schedule))
	for name, cfg := range d.Schedule {
		wd, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			continue
		}
		schedule[wd] = cfg
	}
	s.current = &OfficeHours{Enabled: d.Enabled, Schedule: schedule}
	return nil
}

// Current returns the most recently loaded configuration.
func (s *Store) Current() *OfficeHours {
	return s.current
}

// Path returns the backing file path, for the Core API's config CRUD routes.
func (s *Store) Path() string {
	return s.path
}

// Validate reports whether b parses as a well-formed office-hours
// document, without touching the store's current configuration or
// backing file. Unknown weekday names are tolerated here too (Reload
// drops them the same way), so this only catches malformed JSON.
func (s *Store) Validate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var d doc
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("officehours: %w", err)
	}
	return nil
}

// Expand walks every local calendar date in [from, to] and emits the
// concrete UTC windows configured for that weekday, per door. Returns
// nothing if office hours are disabled (spec.md §3 OfficeHours invariant).
func Expand(oh *OfficeHours, from, to time.Time, loc *time.Location) map[string][]interval.Interval {
	out := make(map[string][]interval.Interval)
	if oh == nil || !oh.Enabled {
		return out
	}

	fromLocal := from.In(loc)
	toLocal := to.In(loc)
	y, m, d := fromLocal.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(toLocal.Year(), toLocal.Month(), toLocal.Day(), 0, 0, 0, 0, loc)

	for !cur.After(end) {
		cfg, ok := oh.Schedule[cur.Weekday()]
		if ok {
			ranges := ParseRanges(cfg.Ranges)
			windows := interval.WindowsFromDateAndLocalRanges(cur, ranges, loc)
			for _, door := range cfg.Doors {
				out[door] = append(out[door], windows...)
			}
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return out
}
