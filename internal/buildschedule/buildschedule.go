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

// Package buildschedule is the pure, deterministic event-stream to
// per-door window projection (spec.md §4.9 C9) — the algorithmic core of
// the sync cycle. It consults the mapping, override, and room-exclusion
// rules but performs no I/O.
package buildschedule

import (
	"sort"
	"strings"
	"time"

	"github.com/pcosync/pcosync/internal/interval"
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/overrides"
)

// Source names where a DisplayItem's interval came from.
type Source string

const (
	SourceEvent      Source = "event"
	SourceOverride   Source = "override"
	SourceOfficeHours Source = "officeHours"
)

// Event is the minimal input shape the builder consumes.
type Event struct {
	ID      string
	Name    string
	Room    string
	StartAt time.Time
	EndAt   time.Time
}

// DisplayItem is one emitted interval attributed back to its source event
// and door, for preview/debugging display.
type DisplayItem struct {
	EventID   string
	Name      string
	Room      string
	DoorKey   string
	DoorLabel string
	StartAt   time.Time
	EndAt     time.Time
	Source    Source
}

// Result is the builder's output: the attributable display items plus the
// merged per-door windows ready for weekly projection.
type Result struct {
	Items       []DisplayItem
	DoorWindows map[string][]interval.Interval
}

// Build runs the deterministic algorithm from spec.md §4.9 over events,
// using snap for room->door mapping and exclusion rules, ov for per-event
// door overrides, and loc as the display zone for Explicit override
// window placement.
func Build(events []Event, snap *mapping.Snapshot, ov *overrides.Store, loc *time.Location) Result {
	sorted := append([]Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartAt.Equal(sorted[j].StartAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].StartAt.Before(sorted[j].StartAt)
	})

	var items []DisplayItem
	byDoor := make(map[string][]interval.Interval)

	for _, ev := range sorted {
		if snap.ExcludesRoom(ev.Room) {
			continue
		}
		doorKeys := snap.DoorKeysForRoom(ev.Room)
		if len(doorKeys) == 0 {
			continue
		}

		for _, doorKey := range doorKeys {
			if snap.ExcludesDoorKeyForEventName(ev.Name, doorKey) {
				continue
			}
			door, ok := snap.Doors[doorKey]
			if !ok {
				continue
			}

			resolution := ov.Find(ev.Name, doorKey)
			switch resolution.Class {
			case overrides.Suppress:
				continue
			case overrides.Explicit:
				localDate := ev.StartAt.In(loc)
				dateOnly := time.Date(localDate.Year(), localDate.Month(), localDate.Day(), 0, 0, 0, 0, loc)
				wins := interval.WindowsFromDateAndLocalRanges(dateOnly, resolution.Windows, loc)
				for _, w := range wins {
					byDoor[doorKey] = append(byDoor[doorKey], w)
					items = append(items, DisplayItem{
						EventID: ev.ID, Name: ev.Name, Room: ev.Room,
						DoorKey: doorKey, DoorLabel: door.Label,
						StartAt: w.Start, EndAt: w.End, Source: SourceOverride,
					})
				}
			default: // Default
				win := interval.Interval{
					Start: ev.StartAt.Add(-time.Duration(snap.Defaults.LeadMinutes) * time.Minute),
					End:   ev.EndAt.Add(time.Duration(snap.Defaults.LagMinutes) * time.Minute),
				}
				byDoor[doorKey] = append(byDoor[doorKey], win)
				items = append(items, DisplayItem{
					EventID: ev.ID, Name: ev.Name, Room: ev.Room,
					DoorKey: doorKey, DoorLabel: door.Label,
					StartAt: win.Start, EndAt: win.End, Source: SourceEvent,
				})
			}
		}
	}

	merged := make(map[string][]interval.Interval, len(byDoor))
	for doorKey, wins := range byDoor {
		merged[doorKey] = interval.Merge(wins)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].StartAt.Equal(items[j].StartAt) {
			return items[i].StartAt.Before(items[j].StartAt)
		}
		if items[i].DoorKey != items[j].DoorKey {
			return items[i].DoorKey < items[j].DoorKey
		}
		return items[i].EventID < items[j].EventID
	})

	return Result{Items: items, DoorWindows: merged}
}

// MergeOfficeHours folds office-hours windows (already keyed by door) into
// a builder Result's per-door windows, re-merging, and appends matching
// DisplayItems so previews can show where office-hours windows came from.
func MergeOfficeHours(res Result, officeHoursByDoor map[string][]interval.Interval, doorLabels map[string]string) Result {
	out := Result{
		Items:       append([]DisplayItem(nil), res.Items...),
		DoorWindows: make(map[string][]interval.Interval, len(res.DoorWindows)),
	}
	doorKeys := make(map[string]bool)
	for k := range res.DoorWindows {
		doorKeys[k] = true
	}
	for k := range officeHoursByDoor {
		doorKeys[k] = true
	}

	for doorKey := range doorKeys {
		combined := append([]interval.Interval(nil), res.DoorWindows[doorKey]...)
		for _, w := range officeHoursByDoor[doorKey] {
			combined = append(combined, w)
			out.Items = append(out.Items, DisplayItem{
				Name: "Office Hours", DoorKey: doorKey, DoorLabel: doorLabels[doorKey],
				StartAt: w.Start, EndAt: w.End, Source: SourceOfficeHours,
			})
		}
		out.DoorWindows[doorKey] = interval.Merge(combined)
	}

	sort.Slice(out.Items, func(i, j int) bool {
		if !out.Items[i].StartAt.Equal(out.Items[j].StartAt) {
			return out.Items[i].StartAt.Before(out.Items[j].StartAt)
		}
		return strings.Compare(out.Items[i].DoorKey, out.Items[j].DoorKey) < 0
	})
	return out
}
