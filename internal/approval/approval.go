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

// Package approval gates risky events through a human-approval queue
// (spec.md §3 SafeHours/PendingApproval/ApprovedNames, §4.7 C7). The state
// machine per event is exactly Unknown -> {Pass, Held}, Held -approve->
// Pass (permanent), Held -deny-> Unknown, Pass -(name removed)-> Unknown.
package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pcosync/pcosync/internal/statefile"
)

// State names the three states from spec.md's state machine.
type State int

const (
	// Unknown means neither approved by name nor held in the pending queue.
	Unknown State = iota
	Pass
	Held
)

// DayRange is one weekday's safe-hours local clock range.
type DayRange struct {
	StartLocal string `json:"startLocal"`
	EndLocal   string `json:"endLocal"`
}

// defaultDayRange applies 05:00-23:00 for every day absent configuration,
// per spec.md §3 SafeHours.
func defaultDayRange() DayRange {
	return DayRange{StartLocal: "05:00", EndLocal: "23:00"}
}

type safeHoursDoc map[string]DayRange

// Pending is one event currently held for manual review.
type Pending struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
	FlaggedAt time.Time `json:"flaggedAt"`
	Reason    string    `json:"reason"`
}

type pendingDoc map[string]Pending

type approvedNamesDoc map[string]bool

// Gate owns the SafeHours, ApprovedNames, and Pending queue state.
type Gate struct {
	safeHoursPath string
	approvedPath  string
	pendingPath   string

	mu        sync.Mutex
	safeHours safeHoursDoc
	approved  approvedNamesDoc
	pending   pendingDoc
}

// NewGate constructs a Gate backed by the three given state files.
func NewGate(safeHoursPath, approvedPath, pendingPath string) *Gate {
	return &Gate{
		safeHoursPath: safeHoursPath,
		approvedPath:  approvedPath,
		pendingPath:   pendingPath,
		safeHours:     safeHoursDoc{},
		approved:      approvedNamesDoc{},
		pending:       pendingDoc{},
	}
}

// Reload re-reads all three backing files.
func (g *Gate) Reload() error {
	var sh safeHoursDoc
	if err := statefile.Load(g.safeHoursPath, &sh); err != nil {
		sh = safeHoursDoc{}
	}
	var ap approvedNamesDoc
	if err := statefile.Load(g.approvedPath, &ap); err != nil {
		ap = approvedNamesDoc{}
	}
	var pd pendingDoc
	if err := statefile.Load(g.pendingPath, &pd); err != nil {
		pd = pendingDoc{}
	}
	if sh == nil {
		sh = safeHoursDoc{}
	}
	if ap == nil {
		ap = approvedNamesDoc{}
	}
	if pd == nil {
		pd = pendingDoc{}
	}

	g.mu.Lock()
	g.safeHours = sh
	g.approved = ap
	g.pending = pd
	g.mu.Unlock()
	return nil
}

func (g *Gate) dayRange(wd time.Weekday) DayRange {
	if r, ok := g.safeHours[strings.ToLower(wd.String())]; ok {
		return r
	}
	return defaultDayRange()
}

// Event is the minimal shape the gate needs to evaluate one event.
type Event struct {
	ID      string
	Name    string
	StartAt time.Time
	EndAt   time.Time
}

// Decision is the gate's verdict for one event.
type Decision struct {
	State  State
	Reason string
}

// Evaluate classifies ev against ApprovedNames and SafeHours, and updates
// the pending queue accordingly (upserting a Held entry, or clearing a
// stale one on Pass). now is the cycle time, loc the display zone.
func (g *Gate) Evaluate(ev Event, now time.Time, loc *time.Location) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	lname := strings.ToLower(ev.Name)
	if g.approved[lname] {
		delete(g.pending, ev.ID)
		return Decision{State: Pass}
	}

	startLocal := ev.StartAt.In(loc)
	dr := g.dayRange(startLocal.Weekday())
	inSafe, err := clockInRange(startLocal, dr)
	if err == nil && inSafe {
		delete(g.pending, ev.ID)
		return Decision{State: Pass}
	}

	reason := fmt.Sprintf("starts %02d:%02d local; outside safe window %s–%s",
		startLocal.Hour(), startLocal.Minute(), dr.StartLocal, dr.EndLocal)
	g.pending[ev.ID] = Pending{
		ID:        ev.ID,
		Name:      ev.Name,
		StartAt:   ev.StartAt,
		EndAt:     ev.EndAt,
		FlaggedAt: now,
		Reason:    reason,
	}
	return Decision{State: Held, Reason: reason}
}

func clockInRange(t time.Time, dr DayRange) (bool, error) {
	startMin, err := parseClockMinutes(dr.StartLocal)
	if err != nil {
		return false, err
	}
	endMin, err := parseClockMinutes(dr.EndLocal)
	if err != nil {
		return false, err
	}
	nowMin := t.Hour()*60 + t.Minute()
	return nowMin >= startMin && nowMin <= endMin, nil
}

func parseClockMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// Approve removes id from pending and adds its recorded name (as given) to
// ApprovedNames, case-insensitively, persisting both files.
func (g *Gate) Approve(id string) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("approval: no pending entry %q", id)
	}
	delete(g.pending, id)
	g.approved[strings.ToLower(p.Name)] = true
	pendingSnap := clonePending(g.pending)
	approvedSnap := cloneApproved(g.approved)
	g.mu.Unlock()

	if err := statefile.Save(g.pendingPath, pendingSnap); err != nil {
		return err
	}
	return statefile.Save(g.approvedPath, approvedSnap)
}

// Deny removes id from pending without approving the name; the next cycle
// will re-evaluate and may re-flag it.
func (g *Gate) Deny(id string) error {
	g.mu.Lock()
	delete(g.pending, id)
	snap := clonePending(g.pending)
	g.mu.Unlock()
	return statefile.Save(g.pendingPath, snap)
}

// Prune drops pending entries whose EndAt has already passed, persisting
// the result.
func (g *Gate) Prune(now time.Time) error {
	g.mu.Lock()
	for id, p := range g.pending {
		if p.EndAt.Before(now) {
			delete(g.pending, id)
		}
	}
	snap := clonePending(g.pending)
	g.mu.Unlock()
	return statefile.Save(g.pendingPath, snap)
}

// PersistPending writes the current in-memory pending queue (used right
// after a cycle's Evaluate calls, which mutate in-memory state only).
func (g *Gate) PersistPending() error {
	g.mu.Lock()
	snap := clonePending(g.pending)
	g.mu.Unlock()
	return statefile.Save(g.pendingPath, snap)
}

// ListPending returns the current pending queue.
func (g *Gate) ListPending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Pending, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p)
	}
	return out
}

// SafeHoursPath returns the backing safe-hours file path, for the Core
// API's config CRUD routes.
func (g *Gate) SafeHoursPath() string {
	return g.safeHoursPath
}

// ApprovedNamesPath returns the backing approved-names file path, for the
// Core API's config CRUD routes.
func (g *Gate) ApprovedNamesPath() string {
	return g.approvedPath
}

// SafeHoursFile adapts Gate to the Core API's per-file config CRUD
// interface for the safe-hours file. Gate.Reload re-reads all three
// backing files together, but each file has its own JSON schema to
// validate ahead of a write, so safe-hours and approved-names get their
// own thin views over the shared Gate rather than sharing one Validate.
type SafeHoursFile struct{ Gate *Gate }

// Reload delegates to the underlying Gate.
func (f SafeHoursFile) Reload() error { return f.Gate.Reload() }

// Validate parses b as a safe-hours document and checks every clock
// range, without touching the Gate's in-memory state or backing files.
func (f SafeHoursFile) Validate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var d safeHoursDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("approval: safe-hours: %w", err)
	}
	for day, dr := range d {
		if _, err := parseClockMinutes(dr.StartLocal); err != nil {
			return fmt.Errorf("approval: safe-hours[%q].startLocal: %w", day, err)
		}
		if _, err := parseClockMinutes(dr.EndLocal); err != nil {
			return fmt.Errorf("approval: safe-hours[%q].endLocal: %w", day, err)
		}
	}
	return nil
}

// ApprovedNamesFile adapts Gate to the Core API's per-file config CRUD
// interface for the approved-names file; see SafeHoursFile.
type ApprovedNamesFile struct{ Gate *Gate }

// Reload delegates to the underlying Gate.
func (f ApprovedNamesFile) Reload() error { return f.Gate.Reload() }

// Validate parses b as an approved-names document, without touching the
// Gate's in-memory state or backing files.
func (f ApprovedNamesFile) Validate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var d approvedNamesDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("approval: approved-names: %w", err)
	}
	return nil
}

func clonePending(d pendingDoc) pendingDoc {
	out := make(pendingDoc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func cloneApproved(d approvedNamesDoc) approvedNamesDoc {
	out := make(approvedNamesDoc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
