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

// Package orchestrator drives one sync cycle end to end (spec.md §4.11
// C11): load config state, fetch upstream events, filter, gate, build,
// project, and conditionally apply to the controller.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/deck"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pcosync/pcosync/internal/approval"
	"github.com/pcosync/pcosync/internal/buildschedule"
	"github.com/pcosync/pcosync/internal/cancellation"
	"github.com/pcosync/pcosync/internal/eventmemory"
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/officehours"
	"github.com/pcosync/pcosync/internal/overrides"
	"github.com/pcosync/pcosync/internal/pco"
	"github.com/pcosync/pcosync/internal/statefile"
	"github.com/pcosync/pcosync/internal/syncerr"
	"github.com/pcosync/pcosync/internal/unifi"
	"github.com/pcosync/pcosync/internal/weekly"
)

// errRingCapacity is the fixed size of the recent-errors buffer surfaced
// in the status snapshot.
const errRingCapacity = 20

// ApplyState is the persisted apply/dry-run toggle.
type ApplyState struct {
	ApplyToUnifi bool `json:"applyToUnifi"`
}

// Deps bundles every store and client a cycle needs.
type Deps struct {
	Mapping     *mapping.Store
	OfficeHours *officehours.Store
	Overrides   *overrides.Store
	EventMemory *eventmemory.Store
	Cancelled   *cancellation.Store
	Approval    *approval.Gate

	PCO   *pco.Client
	Unifi *unifi.Client

	ApplyStateFile string

	Location             func() (*time.Location, error)
	LookaheadFn          func() time.Duration
	LookbehindFn         func() time.Duration
	LocationMustContain  string
}

// Counts summarizes one cycle's volumes for the status snapshot.
type Counts struct {
	Fetched   int
	Passed    int
	Held      int
	Cancelled int
	Excluded  int
}

// Snapshot is the published read-only view of the orchestrator's state,
// per spec.md §4.11's final snapshot line.
type Snapshot struct {
	RunID       string
	LastSyncAt  time.Time
	Counts      Counts
	Errors      []string
	PCOStatus   bool
	RemoteStatus bool
	Mode        string // "apply" or "preview"
	Preview     []buildschedule.DisplayItem
}

// Orchestrator owns the apply-mode toggle, the error ring, and the latest
// published snapshot, all behind one mutex — exactly one runOnce may be in
// flight (enforced by a separate single-flight gate in internal/trigger).
type Orchestrator struct {
	deps Deps

	mu         sync.Mutex
	applyState ApplyState
	errs       *syncerr.Ring
	snapshot   Snapshot
}

// New constructs an Orchestrator, loading any persisted ApplyState (or
// defaulting to defaultApply if none exists).
func New(deps Deps, defaultApply bool) *Orchestrator {
	o := &Orchestrator{
		deps: deps,
		errs: syncerr.NewRing(errRingCapacity),
	}
	var st ApplyState
	if err := statefile.Load(deps.ApplyStateFile, &st); err != nil {
		st = ApplyState{ApplyToUnifi: defaultApply}
	}
	o.applyState = st
	return o
}

// SetApplyMode toggles apply/dry-run and persists the change atomically
// before returning, per spec.md §4.11.
func (o *Orchestrator) SetApplyMode(apply bool) error {
	o.mu.Lock()
	o.applyState.ApplyToUnifi = apply
	st := o.applyState
	o.mu.Unlock()
	return statefile.Save(o.deps.ApplyStateFile, st)
}

// ApplyMode reports the current apply/dry-run toggle.
func (o *Orchestrator) ApplyMode() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.applyState.ApplyToUnifi
}

// Status returns a copy of the last published snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	o.errs.Add(err.Error())
	o.mu.Unlock()
	deck.Errorf("orchestrator: %v", err)
}

// RunOnce executes exactly one sync cycle per the spec.md §4.11 pseudocode.
func (o *Orchestrator) RunOnce(ctx context.Context) (Snapshot, error) {
	t0 := time.Now().UTC()
	runID := uuid.NewString()
	deck.Infof("orchestrator: run %s starting", runID)

	loc, err := o.deps.Location()
	if err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
		loc = time.UTC
	}

	if err := o.deps.Mapping.Reload(); err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
	}
	if err := o.deps.OfficeHours.Reload(); err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
	}
	if err := o.deps.Overrides.Reload(); err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
	}
	if err := o.deps.Approval.Reload(); err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
	}
	if err := o.deps.Cancelled.Reload(); err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
	}
	if err := o.deps.EventMemory.Reload(); err != nil {
		o.recordError(syncerr.New(syncerr.ConfigInvalid, err))
	}

	var pcoOk, remoteOk bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pcoOk = o.deps.PCO.CheckConnectivity(gctx)
		return nil
	})
	g.Go(func() error {
		remoteOk = o.deps.Unifi.CheckConnectivity(gctx)
		return nil
	})
	_ = g.Wait()

	from := t0.Add(-o.deps.LookbehindFn())
	to := t0.Add(o.deps.LookaheadFn())

	snap := o.deps.Mapping.Snapshot()
	if snap == nil {
		err := syncerr.New(syncerr.ConfigInvalid, nilMappingErr{})
		o.recordError(err)
		empty := Snapshot{RunID: runID, LastSyncAt: t0, PCOStatus: pcoOk, RemoteStatus: remoteOk, Mode: o.modeLabel(), Errors: o.errs.Items()}
		o.publish(empty)
		return empty, err
	}

	rawEvents, err := o.deps.PCO.GetEvents(ctx, from, to)
	if err != nil {
		o.recordError(syncerr.New(syncerr.UpstreamUnavailable, err))
		rawEvents = nil
	}

	counts := Counts{Fetched: len(rawEvents)}

	filtered := make([]pco.Event, 0, len(rawEvents))
	for _, e := range rawEvents {
		if o.deps.LocationMustContain != "" && !strings.Contains(strings.ToLower(e.LocationRaw), strings.ToLower(o.deps.LocationMustContain)) {
			counts.Excluded++
			continue
		}
		if snap.ExcludesRoom(e.Room) {
			counts.Excluded++
			continue
		}
		if o.deps.Cancelled.IsCancelled(e.ID) {
			counts.Cancelled++
			continue
		}
		filtered = append(filtered, e)
	}

	var passed []buildschedule.Event
	var memObs []eventmemory.Observation
	for _, e := range filtered {
		memObs = append(memObs, eventmemory.Observation{Name: e.Name, Room: e.Room, StartAt: e.StartAt, EndAt: e.EndAt})
		d := o.deps.Approval.Evaluate(approval.Event{ID: e.ID, Name: e.Name, StartAt: e.StartAt, EndAt: e.EndAt}, t0, loc)
		if d.State == approval.Held {
			counts.Held++
			continue
		}
		counts.Passed++
		passed = append(passed, buildschedule.Event{ID: e.ID, Name: e.Name, Room: e.Room, StartAt: e.StartAt, EndAt: e.EndAt})
	}
	if err := o.deps.Approval.PersistPending(); err != nil {
		o.recordError(syncerr.New(syncerr.StateWriteFailed, err))
	}

	if err := o.deps.EventMemory.Update(memObs, t0); err != nil {
		o.recordError(syncerr.New(syncerr.StateWriteFailed, err))
	}

	built := buildschedule.Build(passed, snap, o.deps.Overrides, loc)

	ohByDoor := officehours.Expand(o.deps.OfficeHours.Current(), from, to, loc)
	doorLabels := make(map[string]string, len(snap.Doors))
	for k, d := range snap.Doors {
		doorLabels[k] = d.Label
	}
	desired := buildschedule.MergeOfficeHours(built, ohByDoor, doorLabels)

	plans := weekly.Plan(desired.DoorWindows, loc)

	applyNow := o.ApplyMode()
	if applyNow {
		diffs := weekly.ApplyRemote(ctx, plans, snap, o.deps.Unifi)
		for _, d := range diffs {
			if d.Err != nil {
				o.recordError(d.Err)
			}
		}
	}

	result := Snapshot{
		RunID:        runID,
		LastSyncAt:   t0,
		Counts:       counts,
		Errors:       o.errs.Items(),
		PCOStatus:    pcoOk,
		RemoteStatus: remoteOk,
		Mode:         o.modeLabel(),
		Preview:      desired.Items,
	}
	o.publish(result)
	deck.Infof("orchestrator: run %s done, fetched=%d passed=%d held=%d cancelled=%d excluded=%d",
		runID, counts.Fetched, counts.Passed, counts.Held, counts.Cancelled, counts.Excluded)
	return result, nil
}

func (o *Orchestrator) modeLabel() string {
	if o.ApplyMode() {
		return "apply"
	}
	return "preview"
}

func (o *Orchestrator) publish(s Snapshot) {
	o.mu.Lock()
	o.snapshot = s
	o.mu.Unlock()
}

// GetUpcomingPreview returns the last published snapshot's preview items
// whose EndAt is after now. It does not fetch: the items come from the last
// cycle's configured lookbehind/lookahead window, not from a separate 24h
// lookback, so with a lookbehind under 24h an ongoing item that started
// before it is absent. It never triggers remote writes (spec.md §4.11).
func (o *Orchestrator) GetUpcomingPreview(now time.Time) []buildschedule.DisplayItem {
	snap := o.Status()
	cutoff := now.Add(-24 * time.Hour)
	out := make([]buildschedule.DisplayItem, 0, len(snap.Preview))
	for _, item := range snap.Preview {
		if item.EndAt.Before(cutoff) || !item.EndAt.After(now) {
			continue
		}
		out = append(out, item)
	}
	return out
}

type nilMappingErr struct{}

func (nilMappingErr) Error() string { return "mapping snapshot unavailable; never loaded successfully" }
