package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcosync/pcosync/internal/approval"
	"github.com/pcosync/pcosync/internal/cancellation"
	"github.com/pcosync/pcosync/internal/eventmemory"
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/officehours"
	"github.com/pcosync/pcosync/internal/overrides"
	"github.com/pcosync/pcosync/internal/pco"
	"github.com/pcosync/pcosync/internal/unifi"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func setupDeps(t *testing.T, pcoSrv, unifiSrv *httptest.Server) (Deps, string) {
	t.Helper()
	dir := t.TempDir()

	mappingPath := filepath.Join(dir, "mapping.json")
	writeJSON(t, mappingPath, map[string]any{
		"doors": []map[string]any{
			{"doorKey": "sanctuary", "label": "Sanctuary", "remoteDoorIds": []string{"d1"}},
		},
		"rooms": map[string][]string{"Sanctuary": {"sanctuary"}},
		"defaults": map[string]int{"leadMinutes": 15, "lagMinutes": 15},
	})
	mstore := mapping.NewStore(mappingPath)
	if err := mstore.Reload(); err != nil {
		t.Fatalf("mapping reload: %v", err)
	}

	ohPath := filepath.Join(dir, "officehours.json")
	ohstore := officehours.NewStore(ohPath)
	if err := ohstore.Reload(); err != nil {
		t.Fatalf("officehours reload: %v", err)
	}

	ovstore := overrides.NewStore(filepath.Join(dir, "overrides.json"))
	if err := ovstore.Reload(); err != nil {
		t.Fatalf("overrides reload: %v", err)
	}

	memstore := eventmemory.NewStore(filepath.Join(dir, "memory.json"))
	cancelStore := cancellation.NewStore(filepath.Join(dir, "cancelled.json"))
	gate := approval.NewGate(
		filepath.Join(dir, "safehours.json"),
		filepath.Join(dir, "approved.json"),
		filepath.Join(dir, "pending.json"),
	)

	pcoClient, err := pco.New(pco.Config{BaseURL: pcoSrv.URL})
	if err != nil {
		t.Fatalf("pco.New: %v", err)
	}
	unifiClient := unifi.New(unifi.Config{BaseURL: unifiSrv.URL})

	deps := Deps{
		Mapping:              mstore,
		OfficeHours:          ohstore,
		Overrides:            ovstore,
		EventMemory:          memstore,
		Cancelled:            cancelStore,
		Approval:             gate,
		PCO:                  pcoClient,
		Unifi:                unifiClient,
		ApplyStateFile:       filepath.Join(dir, "apply-state.json"),
		Location:             func() (*time.Location, error) { return time.UTC, nil },
		LookaheadFn:          func() time.Duration { return 72 * time.Hour },
		LookbehindFn:         func() time.Duration { return 24 * time.Hour },
	}
	return deps, dir
}

func TestRunOnceDryRunProducesPreviewWithoutRemoteWrites(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	end := now.Add(2 * time.Hour)

	var writeCalls int
	unifiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/developer/self":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/developer/schedules":
			json.NewEncoder(w).Encode([]unifi.Schedule{{ID: "s1", Name: "PCO Sync sanctuary"}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/developer/policies":
			json.NewEncoder(w).Encode([]unifi.Policy{})
		default:
			writeCalls++
		}
	}))
	defer unifiSrv.Close()

	pcoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/check":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/event_instances":
			json.NewEncoder(w).Encode(struct {
				Data []map[string]any `json:"data"`
			}{Data: []map[string]any{
				{"id": "e1", "name": "Board Meeting", "startsAt": start, "endsAt": end, "locationAddress": "Sanctuary"},
			}})
		default:
			json.NewEncoder(w).Encode([]map[string]any{})
		}
	}))
	defer pcoSrv.Close()

	deps, _ := setupDeps(t, pcoSrv, unifiSrv)
	o := New(deps, false)

	snap, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if snap.Mode != "preview" {
		t.Errorf("want preview mode, got %q", snap.Mode)
	}
	if snap.Counts.Fetched != 1 || snap.Counts.Passed != 1 {
		t.Errorf("unexpected counts: %#v", snap.Counts)
	}
	if len(snap.Preview) == 0 {
		t.Error("expected non-empty preview")
	}
	if writeCalls != 0 {
		t.Errorf("dry run must not write to controller, got %d writes", writeCalls)
	}
}

func TestSetApplyModePersists(t *testing.T) {
	unifiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer unifiSrv.Close()
	pcoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer pcoSrv.Close()

	deps, _ := setupDeps(t, pcoSrv, unifiSrv)
	o := New(deps, false)
	if err := o.SetApplyMode(true); err != nil {
		t.Fatalf("SetApplyMode: %v", err)
	}

	o2 := New(deps, false)
	if !o2.ApplyMode() {
		t.Error("expected persisted apply mode to survive reconstruction")
	}
}
