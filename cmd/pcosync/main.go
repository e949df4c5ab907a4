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

// pcosync reconciles Planning Center Online calendar events into UniFi
// Access door schedules, on a schedule, with an internal HTTP API for
// status, manual triggers, and operator config edits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/deck"
	"github.com/google/logger"

	"github.com/pcosync/pcosync/api"
	"github.com/pcosync/pcosync/internal/applog"
	"github.com/pcosync/pcosync/internal/approval"
	"github.com/pcosync/pcosync/internal/cancellation"
	"github.com/pcosync/pcosync/internal/config"
	"github.com/pcosync/pcosync/internal/eventmemory"
	"github.com/pcosync/pcosync/internal/mapping"
	"github.com/pcosync/pcosync/internal/officehours"
	"github.com/pcosync/pcosync/internal/orchestrator"
	"github.com/pcosync/pcosync/internal/overrides"
	"github.com/pcosync/pcosync/internal/pco"
	"github.com/pcosync/pcosync/internal/trigger"
	"github.com/pcosync/pcosync/internal/unifi"
	"github.com/pcosync/pcosync/internal/util"
)

var (
	runInDebug = flag.Bool("debug", false, "Run in debug mode")
	port       = flag.Int("port", config.ServicePort, "Define listening port")
)

// buildStores constructs every operator-facing store from cfg and performs
// their first Reload, matching the teacher's "load before serving" order.
func buildStores(cfg *config.Config) (*mapping.Store, *officehours.Store, *overrides.Store, *eventmemory.Store, *cancellation.Store, *approval.Gate, error) {
	mstore := mapping.NewStore(cfg.MappingFile)
	if err := mstore.Reload(); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("initial mapping load: %w", err)
	}
	ohstore := officehours.NewStore(cfg.OfficeHoursFile)
	if err := ohstore.Reload(); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("initial office-hours load: %w", err)
	}
	ovstore := overrides.NewStore(cfg.OverridesFile)
	if err := ovstore.Reload(); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("initial overrides load: %w", err)
	}
	memstore := eventmemory.NewStore(cfg.EventMemoryFile)
	if err := memstore.Reload(); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("initial event-memory load: %w", err)
	}
	cancelStore := cancellation.NewStore(cfg.CancelledEventsFile)
	if err := cancelStore.Reload(); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("initial cancelled-events load: %w", err)
	}
	gate := approval.NewGate(cfg.SafeHoursFile, cfg.ApprovedNamesFile, cfg.PendingApprovalsFile)
	if err := gate.Reload(); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("initial approval-gate load: %w", err)
	}
	return mstore, ohstore, ovstore, memstore, cancelStore, gate, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mstore, ohstore, ovstore, memstore, cancelStore, gate, err := buildStores(cfg)
	if err != nil {
		return err
	}

	pcoClient, err := pco.New(pco.Config{
		BaseURL:          cfg.PCOBaseURL,
		AppID:            cfg.PCOAppID,
		Secret:           cfg.PCOSecret,
		CacheTTL:         cfg.EventsCacheTTL(),
		MinFetchInterval: cfg.MinFetchInterval(),
		MaxPages:         cfg.PCOMaxPages,
		PerPage:          cfg.PCOPerPage,
	})
	if err != nil {
		return fmt.Errorf("constructing PCO client: %w", err)
	}
	unifiClient := unifi.New(unifi.Config{
		BaseURL:  cfg.UnifiBaseURL,
		APIKey:   cfg.UnifiAPIKey,
		Insecure: cfg.UnifiInsecure,
	})

	deps := orchestrator.Deps{
		Mapping:             mstore,
		OfficeHours:         ohstore,
		Overrides:           ovstore,
		EventMemory:         memstore,
		Cancelled:           cancelStore,
		Approval:            gate,
		PCO:                 pcoClient,
		Unifi:                unifiClient,
		ApplyStateFile:      cfg.ApplyStateFile,
		Location:            cfg.Location,
		LookaheadFn:         cfg.Lookahead,
		LookbehindFn:        cfg.Lookbehind,
		LocationMustContain: cfg.PCOLocationMustContain,
	}
	orch := orchestrator.New(deps, cfg.ApplyToUnifi)

	tr, err := trigger.New(func(ctx context.Context) error {
		_, err := orch.RunOnce(ctx)
		return err
	}, cfg.SyncCron, cfg.SyncIntervalSeconds)
	if err != nil {
		return fmt.Errorf("constructing trigger: %w", err)
	}
	tr.Start(10 * time.Second)
	defer tr.Stop()

	configFiles := map[string]api.ConfigFile{
		"mapping":        {Path: mstore.Path(), Store: mstore},
		"office-hours":   {Path: ohstore.Path(), Store: ohstore},
		"overrides":      {Path: ovstore.Path(), Store: ovstore},
		"safe-hours":     {Path: gate.SafeHoursPath(), Store: approval.SafeHoursFile{Gate: gate}},
		"approved-names": {Path: gate.ApprovedNamesPath(), Store: approval.ApprovedNamesFile{Gate: gate}},
	}
	srv := api.New(orch, tr, cancelStore, gate, configFiles)

	deck.Infof("pcosync listening on :%d", *port)
	return srv.Run(*port)
}

func main() {
	flag.Parse()

	exist, err := util.PathExists(config.DataDir)
	if err != nil {
		logger.Errorf("unexpected error finding path %s: %v", config.DataDir, err)
	}
	if !exist {
		logger.Warning("state directory does not exist, attempting creation")
		if err := os.MkdirAll(config.DataDir, 0755); err != nil {
			logger.Warningf("unable to create state directory: %v", err)
		}
	}

	closeLog, err := applog.Init("pcosync", config.DataDir+"/pcosync.log", *runInDebug)
	if err != nil {
		logger.Fatalln("failed to open log file: ", err)
	}
	defer closeLog()

	if err := run(); err != nil {
		logger.Fatalln("run exited with error: ", err)
	}
}
