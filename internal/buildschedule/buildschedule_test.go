package buildschedule

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/pcosync/pcosync/internal/interval"
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/overrides"
)

func testSnapshot() *mapping.Snapshot {
	return &mapping.Snapshot{
		Doors: map[string]mapping.Door{
			"sanctuary": {DoorKey: "sanctuary", Label: "Sanctuary", RemoteDoorIDs: []string{"d1"}},
			"gym":       {DoorKey: "gym", Label: "Gym", RemoteDoorIDs: []string{"d2"}},
		},
		Rooms: map[string][]string{
			"Sanctuary": {"sanctuary"},
			"Gym":       {"gym"},
		},
		Defaults: mapping.Defaults{LeadMinutes: 15, LagMinutes: 15},
	}
}

func emptyOverrides(t *testing.T) *overrides.Store {
	t.Helper()
	s := overrides.NewStore(t.TempDir() + "/overrides.json")
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return s
}

func TestBuildAppliesDefaultLeadLag(t *testing.T) {
	snap := testSnapshot()
	ov := emptyOverrides(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := []Event{{ID: "e1", Name: "Board Meeting", Room: "Sanctuary", StartAt: start, EndAt: end}}

	res := Build(events, snap, ov, time.UTC)
	wins := res.DoorWindows["sanctuary"]
	if len(wins) != 1 {
		t.Fatalf("want 1 window, got %d", len(wins))
	}
	want := interval.Interval{Start: start.Add(-15 * time.Minute), End: end.Add(15 * time.Minute)}
	if diff := cmp.Diff(want, wins[0]); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSkipsUnmappedRoom(t *testing.T) {
	snap := testSnapshot()
	ov := emptyOverrides(t)
	events := []Event{{ID: "e1", Name: "Ghost Event", Room: "Unknown Room", StartAt: time.Now(), EndAt: time.Now().Add(time.Hour)}}

	res := Build(events, snap, ov, time.UTC)
	if len(res.DoorWindows) != 0 {
		t.Errorf("expected no door windows for unmapped room, got %#v", res.DoorWindows)
	}
}

func TestBuildSkipsExcludedRoom(t *testing.T) {
	snap := testSnapshot()
	snap.Rules.ExcludeEventsByRoomContains = []string{"sanct"}
	ov := emptyOverrides(t)
	events := []Event{{ID: "e1", Name: "X", Room: "Sanctuary", StartAt: time.Now(), EndAt: time.Now().Add(time.Hour)}}

	res := Build(events, snap, ov, time.UTC)
	if len(res.DoorWindows) != 0 {
		t.Errorf("expected excluded room to drop event, got %#v", res.DoorWindows)
	}
}

func TestBuildDropsExcludedDoorKeyByEventName(t *testing.T) {
	snap := testSnapshot()
	snap.Rules.ExcludeDoorKeysByEventName = []mapping.ExcludeDoorsByEventName{
		{Substr: "private", DoorKeys: []string{"sanctuary"}},
	}
	ov := emptyOverrides(t)
	events := []Event{{ID: "e1", Name: "Private Session", Room: "Sanctuary", StartAt: time.Now(), EndAt: time.Now().Add(time.Hour)}}

	res := Build(events, snap, ov, time.UTC)
	if len(res.DoorWindows) != 0 {
		t.Errorf("expected door-key exclusion to drop event, got %#v", res.DoorWindows)
	}
}

func TestBuildIsDeterministicUnderInputReordering(t *testing.T) {
	snap := testSnapshot()
	ov := emptyOverrides(t)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "e1", Name: "A", Room: "Sanctuary", StartAt: base, EndAt: base.Add(time.Hour)},
		{ID: "e2", Name: "B", Room: "Sanctuary", StartAt: base.Add(2 * time.Hour), EndAt: base.Add(3 * time.Hour)},
	}
	reversed := []Event{events[1], events[0]}

	r1 := Build(events, snap, ov, time.UTC)
	r2 := Build(reversed, snap, ov, time.UTC)

	if diff := cmp.Diff(r1.DoorWindows, r2.DoorWindows, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("non-deterministic door windows (-r1 +r2):\n%s", diff)
	}
}

func TestMergeOfficeHoursCombinesAndReMerges(t *testing.T) {
	snap := testSnapshot()
	ov := emptyOverrides(t)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []Event{{ID: "e1", Name: "A", Room: "Sanctuary", StartAt: base, EndAt: base.Add(time.Hour)}}
	res := Build(events, snap, ov, time.UTC)

	oh := map[string][]interval.Interval{
		"sanctuary": {{Start: base.Add(-20 * time.Minute), End: base.Add(2 * time.Hour)}},
	}
	merged := MergeOfficeHours(res, oh, map[string]string{"sanctuary": "Sanctuary"})
	wins := merged.DoorWindows["sanctuary"]
	if len(wins) != 1 {
		t.Fatalf("want overlapping windows merged into 1, got %d: %#v", len(wins), wins)
	}
}
