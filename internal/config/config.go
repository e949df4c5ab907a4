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

// Package config decodes the environment-style key/value configuration
// described in spec.md §6. Loading the .env file itself is out of scope;
// this package only reads whatever is already present in the process
// environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is intentionally empty: spec.md §6 names each recognized
// option literally (DISPLAY_TIMEZONE, SYNC_CRON, ...), and
// envconfig.Process with an empty prefix reads exactly the `envconfig`
// struct tag as the environment variable name, with no prefix prepended.
const envPrefix = ""

// DataDir is the default directory for sync-managed state when a *_FILE
// override is not set, mirroring the teacher's auklib.DataDir constant.
const DataDir = "/var/lib/pcosync"

// ServicePort is the default internal API listen port.
const ServicePort = 7337

// Config holds every recognized option from spec.md §6.
type Config struct {
	DisplayTimezone string `envconfig:"DISPLAY_TIMEZONE" default:"America/New_York"`

	SyncCron            string `envconfig:"SYNC_CRON" default:""`
	SyncIntervalSeconds int    `envconfig:"SYNC_INTERVAL_SECONDS" default:"900"`

	SyncLookaheadHours  int `envconfig:"SYNC_LOOKAHEAD_HOURS" default:"336"`
	SyncLookbehindHours int `envconfig:"SYNC_LOOKBEHIND_HOURS" default:"24"`

	PCOEventsCacheSeconds     int `envconfig:"PCO_EVENTS_CACHE_SECONDS" default:"300"`
	PCOMinFetchIntervalSeconds int `envconfig:"PCO_MIN_FETCH_INTERVAL_SECONDS" default:"30"`
	PCOMaxPages int `envconfig:"PCO_MAX_PAGES" default:"20"`
	PCOPerPage  int `envconfig:"PCO_PER_PAGE" default:"100"`

	PCOLocationMustContain string `envconfig:"PCO_LOCATION_MUST_CONTAIN" default:""`

	PCOBaseURL string `envconfig:"PCO_BASE_URL" default:"https://api.planningcenteronline.com/calendar/v2"`
	PCOAppID   string `envconfig:"PCO_APP_ID" default:""`
	PCOSecret  string `envconfig:"PCO_SECRET" default:""`

	UnifiBaseURL  string `envconfig:"UNIFI_BASE_URL" default:""`
	UnifiAPIKey   string `envconfig:"UNIFI_API_KEY" default:""`
	UnifiInsecure bool   `envconfig:"UNIFI_INSECURE" default:"true"`

	ApplyToUnifi bool `envconfig:"APPLY_TO_UNIFI" default:"false"`

	MappingFile        string `envconfig:"MAPPING_FILE" default:"/var/lib/pcosync/room-door-mapping.json"`
	OfficeHoursFile     string `envconfig:"OFFICE_HOURS_FILE" default:"/var/lib/pcosync/office-hours.json"`
	OverridesFile       string `envconfig:"OVERRIDES_FILE" default:"/var/lib/pcosync/event-overrides.json"`
	SafeHoursFile       string `envconfig:"SAFE_HOURS_FILE" default:"/var/lib/pcosync/safe-hours.json"`
	ApprovedNamesFile   string `envconfig:"APPROVED_NAMES_FILE" default:"/var/lib/pcosync/approved-event-names.json"`
	EventMemoryFile     string `envconfig:"EVENT_MEMORY_FILE" default:"/var/lib/pcosync/event-memory.json"`
	PendingApprovalsFile string `envconfig:"PENDING_APPROVALS_FILE" default:"/var/lib/pcosync/pending-approvals.json"`
	CancelledEventsFile string `envconfig:"CANCELLED_EVENTS_FILE" default:"/var/lib/pcosync/cancelled-events.json"`
	SyncStateFile       string `envconfig:"SYNC_STATE_FILE" default:"/var/lib/pcosync/sync-state.json"`
	ApplyStateFile      string `envconfig:"APPLY_STATE_FILE" default:"/var/lib/pcosync/apply-state.json"`
}

// Load decodes Config from the process environment using spec.md §6's
// literal key names (e.g. DISPLAY_TIMEZONE), with no prefix.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Lookahead returns SyncLookaheadHours as a time.Duration.
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.SyncLookaheadHours) * time.Hour
}

// Lookbehind returns SyncLookbehindHours as a time.Duration.
func (c *Config) Lookbehind() time.Duration {
	return time.Duration(c.SyncLookbehindHours) * time.Hour
}

// EventsCacheTTL returns PCOEventsCacheSeconds as a time.Duration.
func (c *Config) EventsCacheTTL() time.Duration {
	return time.Duration(c.PCOEventsCacheSeconds) * time.Second
}

// MinFetchInterval returns PCOMinFetchIntervalSeconds as a time.Duration.
func (c *Config) MinFetchInterval() time.Duration {
	return time.Duration(c.PCOMinFetchIntervalSeconds) * time.Second
}

// Location parses DisplayTimezone into a *time.Location.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.DisplayTimezone)
}
