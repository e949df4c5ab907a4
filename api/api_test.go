package api

import (
	"bytes"
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
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/officehours"
	"github.com/pcosync/pcosync/internal/orchestrator"
	"github.com/pcosync/pcosync/internal/overrides"
	"github.com/pcosync/pcosync/internal/pco"
	"github.com/pcosync/pcosync/internal/trigger"
	"github.com/pcosync/pcosync/internal/unifi"
)

func newTestServer(t *testing.T, run trigger.RunFunc) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	mappingPath := filepath.Join(dir, "mapping.json")
	if err := os.WriteFile(mappingPath, []byte(`{"doors":[{"doorKey":"sanctuary","label":"Sanctuary","remoteDoorIds":["d1"]}],"rooms":{"Sanctuary":["sanctuary"]},"defaults":{"leadMinutes":15,"lagMinutes":15}}`), 0644); err != nil {
		t.Fatal(err)
	}
	mstore := mapping.NewStore(mappingPath)
	if err := mstore.Reload(); err != nil {
		t.Fatalf("mapping reload: %v", err)
	}

	ohstore := officehours.NewStore(filepath.Join(dir, "officehours.json"))
	if err := ohstore.Reload(); err != nil {
		t.Fatalf("officehours reload: %v", err)
	}
	ovstore := overrides.NewStore(filepath.Join(dir, "overrides.json"))
	if err := ovstore.Reload(); err != nil {
		t.Fatalf("overrides reload: %v", err)
	}

	cancelStore := cancellation.NewStore(filepath.Join(dir, "cancelled.json"))
	gate := approval.NewGate(
		filepath.Join(dir, "safehours.json"),
		filepath.Join(dir, "approved.json"),
		filepath.Join(dir, "pending.json"),
	)
	if err := gate.Reload(); err != nil {
		t.Fatalf("gate reload: %v", err)
	}

	pcoClient, err := pco.New(pco.Config{BaseURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("pco.New: %v", err)
	}
	unifiClient := unifi.New(unifi.Config{BaseURL: "http://127.0.0.1:0"})

	deps := orchestrator.Deps{
		Mapping:      mstore,
		OfficeHours:  ohstore,
		Overrides:    ovstore,
		EventMemory:  nil,
		Cancelled:    cancelStore,
		Approval:     gate,
		PCO:          pcoClient,
		Unifi:        unifiClient,
		ApplyStateFile: filepath.Join(dir, "apply-state.json"),
		Location:     func() (*time.Location, error) { return time.UTC, nil },
		LookaheadFn:  func() time.Duration { return 72 * time.Hour },
		LookbehindFn: func() time.Duration { return 24 * time.Hour },
	}
	orch := orchestrator.New(deps, false)

	tr, err := trigger.New(run, "", 3600)
	if err != nil {
		t.Fatalf("trigger.New: %v", err)
	}

	configFiles := map[string]ConfigFile{
		"mapping":         {Path: mstore.Path(), Store: mstore},
		"office-hours":    {Path: ohstore.Path(), Store: ohstore},
		"overrides":       {Path: ovstore.Path(), Store: ovstore},
		"safe-hours":      {Path: gate.SafeHoursPath(), Store: approval.SafeHoursFile{Gate: gate}},
		"approved-names":  {Path: gate.ApprovedNamesPath(), Store: approval.ApprovedNamesFile{Gate: gate}},
	}

	return New(orch, tr, cancelStore, gate, configFiles), dir
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestHandleSyncReturns409WhenBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, _ := newTestServer(t, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	errCh := make(chan *http.Response, 1)
	go func() {
		resp, _ := http.Post(srv.URL+"/sync", "application/json", nil)
		errCh <- resp
	}()
	<-started

	resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("want 409 while busy, got %d", resp.StatusCode)
	}

	close(release)
	first := <-errCh
	if first != nil {
		first.Body.Close()
	}
}

func TestHandleApplyModeTogglesOrchestrator(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body, _ := json.Marshal(applyModeRequest{Apply: true})
	resp, err := http.Post(srv.URL+"/apply-mode", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /apply-mode: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestHandleCancelledCreateListDelete(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body, _ := json.Marshal(cancelRequest{ID: "e1", Name: "Board Meeting", StartAt: time.Now(), EndAt: time.Now().Add(time.Hour)})
	resp, err := http.Post(srv.URL+"/cancelled", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /cancelled: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/cancelled")
	if err != nil {
		t.Fatalf("GET /cancelled: %v", err)
	}
	defer listResp.Body.Close()
	var records []cancellation.Record
	if err := json.NewDecoder(listResp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ID != "e1" {
		t.Errorf("unexpected records: %#v", records)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/cancelled/e1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /cancelled/e1: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", delResp.StatusCode)
	}
}

func TestHandlePendingApproveAndDeny(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/pending")
	if err != nil {
		t.Fatalf("GET /pending: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	denyResp, err := http.Post(srv.URL+"/pending/does-not-exist/deny", "application/json", nil)
	if err != nil {
		t.Fatalf("POST deny: %v", err)
	}
	defer denyResp.Body.Close()
	if denyResp.StatusCode != http.StatusOK {
		t.Errorf("deny of an absent id is a no-op, want 200, got %d", denyResp.StatusCode)
	}

	approveResp, err := http.Post(srv.URL+"/pending/does-not-exist/approve", "application/json", nil)
	if err != nil {
		t.Fatalf("POST approve: %v", err)
	}
	defer approveResp.Body.Close()
	if approveResp.StatusCode != http.StatusNotFound {
		t.Errorf("approve of an absent id must 404, got %d", approveResp.StatusCode)
	}
}

func TestHandleConfigGetAndPut(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	getResp, err := http.Get(srv.URL + "/config/mapping")
	if err != nil {
		t.Fatalf("GET /config/mapping: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", getResp.StatusCode)
	}

	newMapping := []byte(`{"doors":[{"doorKey":"lobby","label":"Lobby","remoteDoorIds":["d2"]}],"rooms":{"Lobby":["lobby"]},"defaults":{"leadMinutes":10,"lagMinutes":10}}`)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/config/mapping", bytes.NewReader(newMapping))
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /config/mapping: %v", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", putResp.StatusCode, putResp.Status)
	}

	unknownResp, err := http.Get(srv.URL + "/config/not-a-real-file")
	if err != nil {
		t.Fatalf("GET /config/not-a-real-file: %v", err)
	}
	defer unknownResp.Body.Close()
	if unknownResp.StatusCode != http.StatusNotFound {
		t.Errorf("want 404 for unknown config name, got %d", unknownResp.StatusCode)
	}
}

func TestHandleConfigPutRejectsSchemaInvalidBodyWithoutCorruptingFile(t *testing.T) {
	s, dir := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	before, err := os.ReadFile(filepath.Join(dir, "mapping.json"))
	if err != nil {
		t.Fatalf("reading mapping.json before PUT: %v", err)
	}

	// Valid JSON, but references a door key nowhere declared in "doors" —
	// rejected by mapping's validateDoc, not by the JSON decoder.
	bad := []byte(`{"doors":[],"rooms":{"Lobby":["missing-door"]},"defaults":{"leadMinutes":10,"lagMinutes":10}}`)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/config/mapping", bytes.NewReader(bad))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /config/mapping: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("want 422 for a schema-invalid body, got %d", resp.StatusCode)
	}

	after, err := os.ReadFile(filepath.Join(dir, "mapping.json"))
	if err != nil {
		t.Fatalf("reading mapping.json after PUT: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("a rejected PUT must not modify the backing file on disk")
	}
}

func TestHandleConfigPutRejectsInvalidJSON(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context) error { return nil })
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/config/overrides", bytes.NewReader([]byte("not json")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /config/overrides: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("want 400 for malformed JSON, got %d", resp.StatusCode)
	}
}
