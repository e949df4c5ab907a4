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

// Package apiclient provides a small library for other local tools (the
// pcosyncctl CLI, an operator's own scripts) to query the pcosync Core API.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pcosync/pcosync/internal/approval"
	"github.com/pcosync/pcosync/internal/buildschedule"
	"github.com/pcosync/pcosync/internal/cancellation"
	"github.com/pcosync/pcosync/internal/orchestrator"
)

// Client calls the Core API at BaseURL (e.g. "http://localhost:7337").
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New constructs a Client against baseURL.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: defaultTimeout}}
}

// Test validates the service is available and responding.
func (c *Client) Test() bool {
	resp, err := c.HTTP.Get(c.BaseURL + "/status")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) getJSON(path string, v any) error {
	resp, err := c.HTTP.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request for %s failed (%d)", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) postJSON(path string, body, v any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	resp, err := c.HTTP.Post(c.BaseURL+path, "application/json", r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// Status fetches the current orchestrator snapshot.
func (c *Client) Status() (orchestrator.Snapshot, error) {
	var s orchestrator.Snapshot
	err := c.getJSON("/status", &s)
	return s, err
}

// Preview fetches the most recent sync cycle's preview items.
func (c *Client) Preview() ([]buildschedule.DisplayItem, error) {
	var items []buildschedule.DisplayItem
	err := c.getJSON("/preview", &items)
	return items, err
}

// PreviewUpcoming fetches the last sync cycle's preview items that have not
// yet ended; the items come from that cycle's configured fetch window.
func (c *Client) PreviewUpcoming() ([]buildschedule.DisplayItem, error) {
	var items []buildschedule.DisplayItem
	err := c.getJSON("/preview/upcoming", &items)
	return items, err
}

// Sync triggers a manual sync cycle. ErrBusy-equivalent: a 409 response
// surfaces as a plain error naming the conflict.
func (c *Client) Sync() (orchestrator.Snapshot, error) {
	var s orchestrator.Snapshot
	resp, err := c.postJSON("/sync", nil, &s)
	if err != nil {
		return s, err
	}
	if resp.StatusCode == http.StatusConflict {
		return s, fmt.Errorf("sync already in progress")
	}
	if resp.StatusCode != http.StatusOK {
		return s, fmt.Errorf("sync request failed (%d)", resp.StatusCode)
	}
	return s, nil
}

// SetApplyMode toggles apply/dry-run.
func (c *Client) SetApplyMode(apply bool) error {
	_, err := c.postJSON("/apply-mode", map[string]bool{"apply": apply}, nil)
	return err
}

// ListCancelled fetches the manually-cancelled event records.
func (c *Client) ListCancelled() ([]cancellation.Record, error) {
	var recs []cancellation.Record
	err := c.getJSON("/cancelled", &recs)
	return recs, err
}

// Cancel records a manually-cancelled event.
func (c *Client) Cancel(r cancellation.Record) error {
	_, err := c.postJSON("/cancelled", r, nil)
	return err
}

// Restore un-cancels a previously cancelled event id.
func (c *Client) Restore(eventID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.BaseURL+"/cancelled/"+eventID, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("restore of %q failed (%d)", eventID, resp.StatusCode)
	}
	return nil
}

// ListPending fetches events currently held for approval.
func (c *Client) ListPending() ([]approval.Pending, error) {
	var pending []approval.Pending
	err := c.getJSON("/pending", &pending)
	return pending, err
}

// Approve approves a held pending entry by id.
func (c *Client) Approve(id string) error {
	resp, err := c.postJSON("/pending/"+id+"/approve", nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("approve of %q failed (%d)", id, resp.StatusCode)
	}
	return nil
}

// Deny denies a held pending entry by id.
func (c *Client) Deny(id string) error {
	resp, err := c.postJSON("/pending/"+id+"/deny", nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deny of %q failed (%d)", id, resp.StatusCode)
	}
	return nil
}

// GetConfig fetches the raw JSON of one operator-facing config file
// ("mapping", "office-hours", "overrides", "safe-hours", "approved-names").
func (c *Client) GetConfig(name string) ([]byte, error) {
	resp, err := c.HTTP.Get(c.BaseURL + "/config/" + name)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get config %q failed (%d)", name, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PutConfig overwrites one operator-facing config file with raw.
func (c *Client) PutConfig(name string, raw []byte) error {
	req, err := http.NewRequest(http.MethodPut, c.BaseURL+"/config/"+name, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("put config %q failed (%d): %s", name, resp.StatusCode, body)
	}
	return nil
}

// defaultTimeout bounds how long pcosyncctl waits on a single Core API call.
const defaultTimeout = 30 * time.Second
