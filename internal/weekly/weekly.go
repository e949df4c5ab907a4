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

// Package weekly projects per-door merged intervals into weekly schedules
// and diffs-and-applies them against the controller (spec.md §4.10 C10).
package weekly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/deck"

	"github.com/pcosync/pcosync/internal/interval"
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/syncerr"
	"github.com/pcosync/pcosync/internal/unifi"
)

// scheduleName and policyName match spec.md §4.10's exact
// naming contract: "PCO Sync {doorKey}" / "PCO Sync Policy {doorKey}".
func scheduleName(doorKey string) string { return fmt.Sprintf("PCO Sync %s", doorKey) }
func policyName(doorKey string) string   { return fmt.Sprintf("PCO Sync Policy %s", doorKey) }

var weekdayOrder = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

// toRemoteDays converts a weekly projection into the controller's wire
// format: one DaySchedule per weekday with HH:MM:SS-HH:MM:SS pairs, sorted.
func toRemoteDays(weekly map[interval.Weekday][]interval.DisplayRange) []unifi.DaySchedule {
	out := make([]unifi.DaySchedule, 0, len(weekdayOrder))
	for _, wd := range weekdayOrder {
		ranges := append([]interval.DisplayRange(nil), weekly[wd]...)
		sort.Slice(ranges, func(i, j int) bool {
			return ranges[i].StartLocal.Minutes() < ranges[j].StartLocal.Minutes()
		})
		times := make([]string, 0, len(ranges))
		for _, r := range ranges {
			times = append(times, fmt.Sprintf("%02d:%02d:00-%02d:%02d:00",
				r.StartLocal.Hour, r.StartLocal.Minute, r.EndLocal.Hour, r.EndLocal.Minute))
		}
		out = append(out, unifi.DaySchedule{Weekday: wd.String(), Times: times})
	}
	return out
}

// daysEqual performs set-equality comparison of two DaySchedule slices,
// ignoring ordering within a day (both sides are pre-sorted by toRemoteDays
// but a defensive equality check shouldn't assume remote ordering).
func daysEqual(a, b []unifi.DaySchedule) bool {
	byWeekday := func(ds []unifi.DaySchedule) map[string][]string {
		m := make(map[string][]string, len(ds))
		for _, d := range ds {
			times := append([]string(nil), d.Times...)
			sort.Strings(times)
			m[d.Weekday] = times
		}
		return m
	}
	am, bm := byWeekday(a), byWeekday(b)
	if len(am) != len(bm) {
		return false
	}
	for wd, at := range am {
		bt, ok := bm[wd]
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if at[i] != bt[i] {
				return false
			}
		}
	}
	return true
}

// DoorPlan is one door's computed weekly schedule, ready to diff/apply.
type DoorPlan struct {
	DoorKey string
	Days    []unifi.DaySchedule
}

// Plan builds the per-door weekly plan from merged per-door UTC intervals.
func Plan(doorWindows map[string][]interval.Interval, loc *time.Location) []DoorPlan {
	keys := make([]string, 0, len(doorWindows))
	for k := range doorWindows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	plans := make([]DoorPlan, 0, len(keys))
	for _, doorKey := range keys {
		weekly := interval.ProjectWeekly(doorWindows[doorKey], loc)
		plans = append(plans, DoorPlan{DoorKey: doorKey, Days: toRemoteDays(weekly)})
	}
	return plans
}

// DoorDiff describes what ApplyRemote would do (or did) for one door.
type DoorDiff struct {
	DoorKey        string
	ScheduleExists bool
	ScheduleChanged bool
	PolicyRecreated bool
	Err            error
}

// DryRunDiff computes, without writing, what ApplyRemote would change.
// The preview Core API operations do not call it; they return the
// snapshot's preview items.
func DryRunDiff(ctx context.Context, plans []DoorPlan, snap *mapping.Snapshot, client *unifi.Client) []DoorDiff {
	return apply(ctx, plans, snap, client, false)
}

// ApplyRemote diffs plans against the controller's current state and
// issues at most one schedule update and one policy create/delete per
// door (spec.md §4.10), in schedule-before-policy order.
func ApplyRemote(ctx context.Context, plans []DoorPlan, snap *mapping.Snapshot, client *unifi.Client) []DoorDiff {
	return apply(ctx, plans, snap, client, true)
}

func apply(ctx context.Context, plans []DoorPlan, snap *mapping.Snapshot, client *unifi.Client, write bool) []DoorDiff {
	out := make([]DoorDiff, 0, len(plans))
	for _, plan := range plans {
		diff := DoorDiff{DoorKey: plan.DoorKey}

		remoteSched, err := client.FindScheduleByName(ctx, scheduleName(plan.DoorKey))
		if err != nil {
			diff.Err = syncerr.NewDoor(syncerr.UpstreamUnavailable, plan.DoorKey, err)
			out = append(out, diff)
			continue
		}
		if remoteSched == nil {
			diff.Err = syncerr.NewDoor(syncerr.RemoteScheduleMissing, plan.DoorKey,
				fmt.Errorf("remote schedule %q not found", scheduleName(plan.DoorKey)))
			deck.Errorf("weekly: %v", diff.Err)
			out = append(out, diff)
			continue
		}
		diff.ScheduleExists = true

		if !daysEqual(remoteSched.Days, plan.Days) {
			diff.ScheduleChanged = true
			if write {
				if err := client.ReplaceScheduleDays(ctx, remoteSched.ID, plan.Days); err != nil {
					diff.Err = syncerr.NewDoor(syncerr.RemoteWriteFailed, plan.DoorKey, err)
					out = append(out, diff)
					continue
				}
			}
		}

		door, ok := snap.Doors[plan.DoorKey]
		if !ok {
			out = append(out, diff)
			continue
		}
		if err := reconcilePolicy(ctx, client, plan.DoorKey, remoteSched.ID, door.RemoteDoorIDs, write, &diff); err != nil {
			diff.Err = syncerr.NewDoor(syncerr.RemoteWriteFailed, plan.DoorKey, err)
		}
		out = append(out, diff)
	}
	return out
}

func reconcilePolicy(ctx context.Context, client *unifi.Client, doorKey, scheduleID string, remoteDoorIDs []string, write bool, diff *DoorDiff) error {
	existing, err := client.FindPolicyByName(ctx, policyName(doorKey))
	if err != nil {
		return err
	}
	if existing != nil && sameDoorSet(existing.DoorIDs, remoteDoorIDs) {
		return nil
	}
	diff.PolicyRecreated = true
	if !write {
		return nil
	}
	if existing != nil {
		if err := client.DeletePolicy(ctx, existing.ID); err != nil {
			return err
		}
	}
	_, err = client.CreatePolicy(ctx, policyName(doorKey), scheduleID, remoteDoorIDs)
	return err
}

func sameDoorSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[string]bool, len(a))
	for _, v := range a {
		am[v] = true
	}
	for _, v := range b {
		if !am[v] {
			return false
		}
	}
	return true
}
