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

// Package pco is the upstream calendar client (spec.md §4.8 C8): fetches
// event instances and their resource-booking rooms for a time window, with
// minute-keyed caching, a minimum-fetch interval, pagination up to a hard
// page cap, and rate-limit fallback to the last cached value.
package pco

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/deck"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
)

// Event is one calendar event instance as surfaced to the rest of the
// sync pipeline (spec.md §3 Event).
type Event struct {
	ID          string
	Name        string
	Room        string
	LocationRaw string
	StartAt     time.Time
	EndAt       time.Time
}

// cacheKey is the minute-truncated fetch window.
type cacheKey struct {
	fromMinute int64
	toMinute   int64
}

type cacheEntry struct {
	events    []Event
	fetchedAt time.Time
}

// Client talks to the upstream calendar API.
type Client struct {
	http             *resty.Client
	cache            *lru.Cache[cacheKey, cacheEntry]
	ttl              time.Duration
	minFetchInterval time.Duration
	maxPages         int
	perPage          int

	mu              sync.Mutex
	lastFetchAt     map[cacheKey]time.Time
	fallbackReturns int
}

// Config carries the fetch policy knobs (spec.md §4.8).
type Config struct {
	BaseURL          string
	AppID            string
	Secret           string
	CacheTTL         time.Duration
	MinFetchInterval time.Duration
	MaxPages         int
	PerPage          int
}

// New constructs a Client against cfg.
func New(cfg Config) (*Client, error) {
	cacheSize := 64
	c, err := lru.New[cacheKey, cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pco: allocate cache: %w", err)
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AppID, cfg.Secret).
		SetTimeout(15 * time.Second)

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 100
	}

	return &Client{
		http:             h,
		cache:            c,
		ttl:              cfg.CacheTTL,
		minFetchInterval: cfg.MinFetchInterval,
		maxPages:         maxPages,
		perPage:          perPage,
		lastFetchAt:      make(map[cacheKey]time.Time),
	}, nil
}

// CheckConnectivity reports whether the upstream API is reachable.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/check")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func truncMinute(t time.Time) int64 {
	return t.Unix() / 60
}

// GetEvents returns all event instances overlapping [fromUtc, toUtc),
// serving from cache within minFetchInterval of the last live fetch for
// this exact window, and falling back to the last cached value (while
// incrementing FallbackReturns) on a rate-limited response.
func (c *Client) GetEvents(ctx context.Context, fromUtc, toUtc time.Time) ([]Event, error) {
	key := cacheKey{fromMinute: truncMinute(fromUtc), toMinute: truncMinute(toUtc)}

	c.mu.Lock()
	if entry, ok := c.cache.Get(key); ok {
		fresh := c.ttl > 0 && time.Since(entry.fetchedAt) < c.ttl
		tooSoon := c.minFetchInterval > 0 && time.Since(c.lastFetchAt[key]) < c.minFetchInterval
		if fresh || tooSoon {
			c.mu.Unlock()
			return entry.events, nil
		}
	}
	c.mu.Unlock()

	events, err := c.fetchLive(ctx, fromUtc, toUtc)
	if err != nil {
		if isRateLimited(err) {
			c.mu.Lock()
			entry, ok := c.cache.Get(key)
			if ok {
				c.fallbackReturns++
			}
			c.mu.Unlock()
			if ok {
				deck.Warningf("pco: rate-limited, serving cached window %v-%v", fromUtc, toUtc)
				return entry.events, nil
			}
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(key, cacheEntry{events: events, fetchedAt: time.Now()})
	c.lastFetchAt[key] = time.Now()
	c.mu.Unlock()

	return events, nil
}

// FallbackReturns reports how many calls have been served from cache due
// to rate-limiting since the client was constructed.
func (c *Client) FallbackReturns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackReturns
}

type rateLimitError struct{ status int }

func (e *rateLimitError) Error() string { return fmt.Sprintf("pco: rate limited (%d)", e.status) }

func isRateLimited(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

type rawInstance struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	StartAt time.Time `json:"startsAt"`
	EndAt   time.Time `json:"endsAt"`
	Address string    `json:"locationAddress"`
}

type pageResponse struct {
	Data     []rawInstance `json:"data"`
	NextPage string        `json:"nextPage"`
}

// fetchLive pages through the upstream API with retry-on-transient-error,
// resolving each instance's resource-booking rooms via a secondary lookup
// and expanding a multi-room instance into one Event per room so every
// room's door mapping is evaluated independently.
func (c *Client) fetchLive(ctx context.Context, fromUtc, toUtc time.Time) ([]Event, error) {
	var all []rawInstance
	page := ""
	backoff := retry.NewExponential(200 * time.Millisecond)
	backoff = retry.WithMaxRetries(3, backoff)
	backoff = retry.WithJitter(50*time.Millisecond, backoff)

	for i := 0; i < c.maxPages; i++ {
		var pr pageResponse
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			req := c.http.R().SetContext(ctx).
				SetQueryParam("per_page", fmt.Sprintf("%d", c.perPage)).
				SetQueryParam("from", fromUtc.UTC().Format(time.RFC3339)).
				SetQueryParam("to", toUtc.UTC().Format(time.RFC3339)).
				SetResult(&pr)
			if page != "" {
				req.SetQueryParam("page", page)
			}
			resp, err := req.Get("/event_instances")
			if err != nil {
				return retry.RetryableError(err)
			}
			if resp.StatusCode() == http.StatusTooManyRequests {
				return &rateLimitError{status: resp.StatusCode()}
			}
			if resp.StatusCode() >= 500 {
				return retry.RetryableError(fmt.Errorf("pco: upstream status %d", resp.StatusCode()))
			}
			if resp.StatusCode() != http.StatusOK {
				return fmt.Errorf("pco: upstream status %d", resp.StatusCode())
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, pr.Data...)
		if pr.NextPage == "" {
			break
		}
		page = pr.NextPage
		if i == c.maxPages-1 {
			deck.Errorf("pco: hit max page cap (%d) fetching %v-%v, results truncated", c.maxPages, fromUtc, toUtc)
		}
	}

	events := make([]Event, 0, len(all))
	for _, ri := range all {
		if ri.StartAt.IsZero() || ri.EndAt.IsZero() || !ri.StartAt.Before(ri.EndAt) {
			continue
		}
		rooms, err := c.lookupRooms(ctx, ri.ID)
		if err != nil {
			deck.Warningf("pco: room lookup failed for instance %s: %v", ri.ID, err)
		}
		if len(rooms) == 0 {
			rooms = []string{ri.Address}
		} else {
			sort.Strings(rooms)
		}
		for _, room := range rooms {
			events = append(events, Event{
				ID:          ri.ID,
				Name:        ri.Name,
				Room:        room,
				LocationRaw: ri.Address,
				StartAt:     ri.StartAt.UTC(),
				EndAt:       ri.EndAt.UTC(),
			})
		}
	}
	return events, nil
}

type roomBooking struct {
	RoomName string `json:"roomName"`
}

// lookupRooms fetches the resource bookings for one event instance.
func (c *Client) lookupRooms(ctx context.Context, instanceID string) ([]string, error) {
	var bookings []roomBooking
	resp, err := c.http.R().SetContext(ctx).
		SetResult(&bookings).
		Get(fmt.Sprintf("/event_instances/%s/resource_bookings", instanceID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("pco: resource_bookings status %d", resp.StatusCode())
	}
	out := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if b.RoomName != "" {
			out = append(out, b.RoomName)
		}
	}
	return out, nil
}
