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

// Package api exposes the Core API (spec.md §6) over HTTP: the logical
// operations an external dashboard would call, with real handlers behind
// each route even though the dashboard itself is out of scope.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/deck"
	"github.com/gorilla/mux"

	"github.com/pcosync/pcosync/internal/approval"
	"github.com/pcosync/pcosync/internal/cancellation"
	"github.com/pcosync/pcosync/internal/orchestrator"
	"github.com/pcosync/pcosync/internal/statefile"
	"github.com/pcosync/pcosync/internal/trigger"
)

// Reloadable is any operator-facing store that can re-read its backing
// file after an external write, and validate a candidate replacement
// before it's written (mapping, office-hours, overrides, safe-hours,
// approved-names all satisfy this).
type Reloadable interface {
	Reload() error
	Validate(b []byte) error
}

// ConfigFile binds one operator-facing file's path to its store, for the
// generic CRUD route under /config/{name}.
type ConfigFile struct {
	Path  string
	Store Reloadable
}

// Server wires the orchestrator, trigger, and stores to HTTP handlers.
type Server struct {
	orch      *orchestrator.Orchestrator
	trig      *trigger.Trigger
	cancelled *cancellation.Store
	gate      *approval.Gate

	configFiles map[string]ConfigFile
}

// New constructs a Server. configFiles binds the five operator-facing
// config names (mapping, office-hours, overrides, safe-hours,
// approved-names) to their backing path and reloadable store, for the
// generic /config/{name} CRUD route.
func New(orch *orchestrator.Orchestrator, trig *trigger.Trigger, cancelled *cancellation.Store, gate *approval.Gate, configFiles map[string]ConfigFile) *Server {
	return &Server{orch: orch, trig: trig, cancelled: cancelled, gate: gate, configFiles: configFiles}
}

func sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		deck.Errorf("api: error writing response: %v", err)
	}
}

func sendError(w http.ResponseWriter, statusCode int, err error) {
	sendJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.trig.TriggerNow(r.Context()); err != nil {
		if err == trigger.ErrBusy {
			sendError(w, http.StatusConflict, err)
			return
		}
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.orch.Status().Preview)
}

func (s *Server) handlePreviewUpcoming(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.orch.GetUpcomingPreview(time.Now().UTC()))
}

type applyModeRequest struct {
	Apply bool `json:"apply"`
}

func (s *Server) handleApplyMode(w http.ResponseWriter, r *http.Request) {
	var req applyModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.SetApplyMode(req.Apply); err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"applyToUnifi": req.Apply})
}

type cancelRequest struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
}

func (s *Server) handleListCancelled(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.cancelled.Records())
}

func (s *Server) handleCreateCancelled(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		sendError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	if err := s.cancelled.Cancel(cancellation.Record{ID: req.ID, Name: req.Name, StartAt: req.StartAt, EndAt: req.EndAt}); err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

func (s *Server) handleDeleteCancelled(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cancelled.Restore(id); err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.gate.ListPending())
}

func (s *Server) handleApprovePending(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.gate.Approve(id); err != nil {
		sendError(w, http.StatusNotFound, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleDenyPending(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.gate.Deny(id); err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleGetConfig returns the raw JSON contents of one operator-facing
// config file.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cf, ok := s.configFiles[name]
	if !ok {
		sendError(w, http.StatusNotFound, fmt.Errorf("unknown config file %q", name))
		return
	}
	b, err := os.ReadFile(cf.Path)
	if err != nil {
		if os.IsNotExist(err) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
			return
		}
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// handlePutConfig validates the request body against its store's schema
// before anything touches disk, then writes it through statefile.Save
// (temp file + fsync + rename, flock-serialized against other writers;
// readers see the old or the new file whole) and reloads the store so the new config takes effect on
// the next sync cycle without a restart. Per spec.md §6/§9 this is the
// one Core API write path and it must not corrupt the file on a bad PUT.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cf, ok := s.configFiles[name]
	if !ok {
		sendError(w, http.StatusNotFound, fmt.Errorf("unknown config file %q", name))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	var parsed json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		sendError(w, http.StatusBadRequest, fmt.Errorf("body is not valid JSON: %w", err))
		return
	}
	if err := cf.Store.Validate(body); err != nil {
		sendError(w, http.StatusUnprocessableEntity, fmt.Errorf("config failed validation: %w", err))
		return
	}
	if err := statefile.Save(cf.Path, parsed); err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	if err := cf.Store.Reload(); err != nil {
		sendError(w, http.StatusUnprocessableEntity, fmt.Errorf("config written but failed validation: %w", err))
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"name": name})
}

// Router builds the gorilla/mux router for the Core API.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/preview", s.handlePreview).Methods(http.MethodGet)
	r.HandleFunc("/preview/upcoming", s.handlePreviewUpcoming).Methods(http.MethodGet)
	r.HandleFunc("/apply-mode", s.handleApplyMode).Methods(http.MethodPost)
	r.HandleFunc("/cancelled", s.handleListCancelled).Methods(http.MethodGet)
	r.HandleFunc("/cancelled", s.handleCreateCancelled).Methods(http.MethodPost)
	r.HandleFunc("/cancelled/{id}", s.handleDeleteCancelled).Methods(http.MethodDelete)
	r.HandleFunc("/pending", s.handleListPending).Methods(http.MethodGet)
	r.HandleFunc("/pending/{id}/approve", s.handleApprovePending).Methods(http.MethodPost)
	r.HandleFunc("/pending/{id}/deny", s.handleDenyPending).Methods(http.MethodPost)
	r.HandleFunc("/config/{name}", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/{name}", s.handlePutConfig).Methods(http.MethodPut)
	return r
}

// Run runs the internal Core API server on port, mirroring the teacher
// server package's listen/serve shape.
func (s *Server) Run(port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      s.Router(),
	}
	return srv.ListenAndServe()
}
