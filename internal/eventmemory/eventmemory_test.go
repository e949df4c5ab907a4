package eventmemory

import (
	"path/filepath"
	"testing"
	"time"
)

func TestUpdateTracksLastAndNext(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "mem.json"))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs := []Observation{
		{Name: "Sunday Service", Room: "Sanctuary", StartAt: now.Add(-48 * time.Hour), EndAt: now.Add(-46 * time.Hour)},
		{Name: "Sunday Service", Room: "Sanctuary", StartAt: now.Add(96 * time.Hour), EndAt: now.Add(98 * time.Hour)},
	}
	if err := store.Update(obs, now); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if !e.LastSeenAt.Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("LastSeenAt = %v", e.LastSeenAt)
	}
	if !e.NextAt.Equal(now.Add(96 * time.Hour)) {
		t.Errorf("NextAt = %v", e.NextAt)
	}
}

func TestUpdatePreservesLastSeenWhenPastOccurrenceAgesOutOfWindow(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "mem.json"))

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastSeen := t0.Add(-48 * time.Hour)
	nextAt := t0.Add(96 * time.Hour)
	if err := store.Update([]Observation{
		{Name: "Recurring Bible Study", Room: "Fellowship Hall", StartAt: lastSeen, EndAt: lastSeen.Add(time.Hour)},
		{Name: "Recurring Bible Study", Room: "Fellowship Hall", StartAt: nextAt, EndAt: nextAt.Add(time.Hour)},
	}, t0); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A later cycle whose lookbehind window no longer reaches lastSeen, but
	// whose lookahead still sees the same upcoming occurrence — the fetch
	// this time only returns the future instance, simulating the past
	// occurrence aging out of SYNC_LOOKBEHIND_HOURS.
	t1 := t0.Add(72 * time.Hour)
	if err := store.Update([]Observation{
		{Name: "Recurring Bible Study", Room: "Fellowship Hall", StartAt: nextAt, EndAt: nextAt.Add(time.Hour)},
	}, t1); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if !e.LastSeenAt.Equal(lastSeen) {
		t.Errorf("LastSeenAt should survive the occurrence aging out of the fetch window: got %v, want %v", e.LastSeenAt, lastSeen)
	}
	if !e.NextAt.Equal(nextAt) {
		t.Errorf("NextAt = %v, want %v", e.NextAt, nextAt)
	}
}

func TestUpdatePrunesStaleNamesWithNoNext(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "mem.json"))

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Update([]Observation{
		{Name: "One-off Concert", Room: "Sanctuary", StartAt: t0, EndAt: t0.Add(time.Hour)},
	}, t0); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tLater := t0.Add(61 * 24 * time.Hour)
	if err := store.Update(nil, tLater); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := store.Entries(); len(got) != 0 {
		t.Errorf("expected pruned entry, got %#v", got)
	}
}

func TestUpdatePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem.json")
	store := NewStore(path)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Update([]Observation{
		{Name: "Youth Group", Room: "Gym", StartAt: now, EndAt: now.Add(time.Hour)},
	}, now); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(reloaded.Entries()) != 1 {
		t.Fatalf("expected entry to survive reload, got %#v", reloaded.Entries())
	}
}
