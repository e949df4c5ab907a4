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

// Package trigger fires runOnce at a configured cadence (cron expression
// or fixed interval), serializes concurrent runs behind a single-flight
// gate, supports a manual trigger that awaits completion, and kicks off
// one delayed run on startup (spec.md §4.12 C12).
package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/deck"
	"github.com/robfig/cron/v3"
)

// RunFunc executes one sync cycle. Errors from scheduled and startup runs
// are logged by Trigger; TriggerNow returns them to its caller.
type RunFunc func(ctx context.Context) error

// Trigger owns the schedule and the mutual-exclusion gate around RunFunc.
// The gate is a plain sync.Mutex used with TryLock: exactly the
// non-blocking single-slot semantics spec.md §5 describes ("the manual
// trigger contends with the periodic trigger for this gate; losers return
// busy rather than queueing"), with no richer concurrency primitive
// earning its keep here.
type Trigger struct {
	run RunFunc

	cronSched *cron.Cron
	ticker    *time.Ticker
	stop      chan struct{}

	gate    sync.Mutex
	skipped int64 // atomic; count of triggers that found the gate held
}

// New constructs a Trigger. If cronExpr is non-empty it takes precedence
// over intervalSeconds, mirroring spec.md §6's SYNC_CRON/SYNC_INTERVAL_SECONDS
// precedence.
func New(run RunFunc, cronExpr string, intervalSeconds int) (*Trigger, error) {
	t := &Trigger{run: run, stop: make(chan struct{})}

	if cronExpr != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.DowOptional | cron.Descriptor)
		sched, err := parser.Parse(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("trigger: parse cron %q: %w", cronExpr, err)
		}
		c := cron.New(cron.WithParser(parser))
		c.Schedule(sched, cron.FuncJob(func() { t.fire(context.Background()) }))
		t.cronSched = c
		return t, nil
	}

	if intervalSeconds <= 0 {
		intervalSeconds = 900
	}
	t.ticker = time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	return t, nil
}

// Start begins the schedule and kicks off one delayed startup run. It
// returns immediately; call Stop to shut down.
func (t *Trigger) Start(startupDelay time.Duration) {
	if t.cronSched != nil {
		t.cronSched.Start()
	} else {
		go t.tickLoop()
	}
	go func() {
		select {
		case <-time.After(startupDelay):
			t.fire(context.Background())
		case <-t.stop:
		}
	}()
}

func (t *Trigger) tickLoop() {
	for {
		select {
		case <-t.ticker.C:
			t.fire(context.Background())
		case <-t.stop:
			return
		}
	}
}

// Stop halts the schedule. It does not interrupt a run already in flight.
func (t *Trigger) Stop() {
	close(t.stop)
	if t.cronSched != nil {
		t.cronSched.Stop()
	}
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

// fire enters the single-flight gate and runs, logging a skip if the gate
// was already held.
func (t *Trigger) fire(ctx context.Context) {
	if !t.gate.TryLock() {
		atomic.AddInt64(&t.skipped, 1)
		deck.Warningf("trigger: skipped scheduled run; previous run still in progress")
		return
	}
	defer t.gate.Unlock()

	if err := t.run(ctx); err != nil {
		deck.Errorf("trigger: run failed: %v", err)
	}
}

// ErrBusy is returned by TriggerNow when a run is already in flight.
var ErrBusy = fmt.Errorf("trigger: a sync run is already in progress")

// TriggerNow is the manual-trigger entry point (spec.md §4.12): it
// contends with the periodic trigger for the same gate and returns
// ErrBusy immediately rather than queueing if it loses, otherwise it
// awaits completion before returning.
func (t *Trigger) TriggerNow(ctx context.Context) error {
	if !t.gate.TryLock() {
		return ErrBusy
	}
	defer t.gate.Unlock()

	return t.run(ctx)
}

// SkippedCount reports how many scheduled fires found the gate held.
func (t *Trigger) SkippedCount() int64 {
	return atomic.LoadInt64(&t.skipped)
}
