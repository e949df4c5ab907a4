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

// Package interval implements half-open UTC time windows, their merge
// sweep, and the projection of a set of UTC windows onto a weekly,
// local-time display schedule.
package interval

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open UTC range [Start, End).
type Interval struct {
	Start, End time.Time
}

// Overlaps reports whether i and o share any instant; touching intervals
// (i.End == o.Start) are not reported as overlapping by this check alone,
// but Merge treats them as mergeable (see Merge).
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Clock is a local wall-clock time of day, independent of any date.
type Clock struct {
	Hour, Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns the number of minutes since local midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// LocalRange is an open/close pair of local clock times.
type LocalRange struct {
	Open, Close Clock
}

// Weekday mirrors time.Weekday but is re-declared so callers never need to
// import time just to iterate Monday..Sunday in display order.
type Weekday = time.Weekday

// DisplayRange is a local-time-of-day window within one weekday, used in the
// final weekly projection.
type DisplayRange struct {
	StartLocal, EndLocal Clock
}

// Merge sorts intervals by Start and sweeps them into a non-overlapping,
// sorted set, merging any pair where next.Start <= acc.End (touching
// intervals are merged, matching the half-open [start,end) semantics).
func Merge(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		acc := &out[len(out)-1]
		if !next.Start.After(acc.End) {
			if next.End.After(acc.End) {
				acc.End = next.End
			}
			continue
		}
		out = append(out, next)
	}
	return out
}

// WindowsFromDateAndLocalRanges turns a calendar date plus a set of local
// clock ranges into concrete UTC Intervals. A range whose Close is not
// strictly after Open is treated as closing on the following day.
func WindowsFromDateAndLocalRanges(date time.Time, ranges []LocalRange, loc *time.Location) []Interval {
	y, m, d := date.In(loc).Date()
	var out []Interval
	for _, r := range ranges {
		open := time.Date(y, m, d, r.Open.Hour, r.Open.Minute, 0, 0, loc)
		close := time.Date(y, m, d, r.Close.Hour, r.Close.Minute, 0, 0, loc)
		if !close.After(open) {
			close = close.AddDate(0, 0, 1)
		}
		out = append(out, Interval{Start: open.UTC(), End: close.UTC()})
	}
	return out
}

// ProjectWeekly converts a set of UTC intervals into a weekly local-time
// structure. An interval crossing local midnight is split at each midnight
// boundary it crosses; each piece is grouped under the weekday of its local
// start. Per-weekday output is re-merged and sorted.
func ProjectWeekly(intervals []Interval, loc *time.Location) map[Weekday][]DisplayRange {
	byDay := make(map[Weekday][]Interval)

	for _, iv := range intervals {
		for _, piece := range splitAtLocalMidnight(iv, loc) {
			wd := piece.Start.In(loc).Weekday()
			byDay[wd] = append(byDay[wd], piece)
		}
	}

	out := make(map[Weekday][]DisplayRange, len(byDay))
	for wd, ivs := range byDay {
		merged := mergeLocalDay(ivs, loc)
		out[wd] = merged
	}
	return out
}

// splitAtLocalMidnight breaks iv into pieces that each fall within a single
// local calendar day.
func splitAtLocalMidnight(iv Interval, loc *time.Location) []Interval {
	var out []Interval
	cur := iv.Start
	for cur.Before(iv.End) {
		localMidnight := nextLocalMidnight(cur, loc)
		if localMidnight.After(iv.End) || localMidnight.Equal(iv.End) {
			out = append(out, Interval{Start: cur, End: iv.End})
			break
		}
		out = append(out, Interval{Start: cur, End: localMidnight})
		cur = localMidnight
	}
	return out
}

func nextLocalMidnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	y, m, d := lt.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return next.UTC()
}

// mergeLocalDay merges overlapping local-clock ranges within a single
// weekday's bucket of UTC sub-intervals (each guaranteed to already fall
// within one local calendar day).
func mergeLocalDay(ivs []Interval, loc *time.Location) []DisplayRange {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	var merged []Interval
	for _, iv := range ivs {
		if len(merged) == 0 {
			merged = append(merged, iv)
			continue
		}
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}

	out := make([]DisplayRange, 0, len(merged))
	for _, m := range merged {
		sl := m.Start.In(loc)
		el := m.End.In(loc)
		out = append(out, DisplayRange{
			StartLocal: Clock{Hour: sl.Hour(), Minute: sl.Minute()},
			EndLocal:   Clock{Hour: el.Hour(), Minute: el.Minute()},
		})
	}
	return out
}
