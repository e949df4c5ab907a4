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

// Package unifi is the access-control controller client used by the
// weekly applier (spec.md §4.10 C10): list/replace door-unlock schedules,
// and list/create/delete access policies that bind a schedule to a set of
// remote door ids.
package unifi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// DaySchedule is one weekday's list of HH:MM:SS open/close pairs, in the
// wire format the controller expects.
type DaySchedule struct {
	Weekday string   `json:"weekday"`
	Times   []string `json:"times"` // pairs flattened as "open-close"
}

// Schedule is a named weekly door-unlock schedule on the controller.
type Schedule struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Days []DaySchedule `json:"days"`
}

// Policy is a named access policy binding a schedule to a set of doors.
type Policy struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ScheduleID string   `json:"scheduleId"`
	DoorIDs    []string `json:"doorIds"`
}

// Client talks to the controller's management API.
type Client struct {
	http *resty.Client
}

// Config carries connection details for the controller. UniFi Access
// controllers are typically reached over a local network with a
// self-signed certificate, hence Insecure.
type Config struct {
	BaseURL  string
	APIKey   string
	Insecure bool
}

// New constructs a Client against cfg.
func New(cfg Config) *Client {
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Authorization", "Bearer "+cfg.APIKey)
	if cfg.Insecure {
		h.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &Client{http: h}
}

// CheckConnectivity reports whether the controller is reachable.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/developer/self")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

// FindScheduleByName returns the schedule with the exact given name, or
// nil if none exists.
func (c *Client) FindScheduleByName(ctx context.Context, name string) (*Schedule, error) {
	var out []Schedule
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/developer/schedules")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unifi: list schedules status %d", resp.StatusCode())
	}
	for i := range out {
		if out[i].Name == name {
			return &out[i], nil
		}
	}
	return nil, nil
}

// ReplaceScheduleDays overwrites schedule id's weekly definition.
func (c *Client) ReplaceScheduleDays(ctx context.Context, scheduleID string, days []DaySchedule) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(struct {
			Days []DaySchedule `json:"days"`
		}{Days: days}).
		Put(fmt.Sprintf("/api/v1/developer/schedules/%s", scheduleID))
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unifi: replace schedule %s status %d", scheduleID, resp.StatusCode())
	}
	return nil
}

// FindPolicyByName returns the policy with the exact given name, or nil.
func (c *Client) FindPolicyByName(ctx context.Context, name string) (*Policy, error) {
	var out []Policy
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/developer/policies")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unifi: list policies status %d", resp.StatusCode())
	}
	for i := range out {
		if out[i].Name == name {
			return &out[i], nil
		}
	}
	return nil, nil
}

// CreatePolicy creates a new policy binding scheduleID to doorIDs.
func (c *Client) CreatePolicy(ctx context.Context, name, scheduleID string, doorIDs []string) (*Policy, error) {
	var created Policy
	resp, err := c.http.R().SetContext(ctx).
		SetBody(Policy{Name: name, ScheduleID: scheduleID, DoorIDs: doorIDs}).
		SetResult(&created).
		Post("/api/v1/developer/policies")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("unifi: create policy %q status %d", name, resp.StatusCode())
	}
	return &created, nil
}

// DeletePolicy removes policy id.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/api/v1/developer/policies/%s", id))
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("unifi: delete policy %s status %d", id, resp.StatusCode())
	}
	return nil
}
