/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package namecache holds the process-wide serial number to device name
// mapping used by list views. Entries are advisory; the backend stays
// authoritative.
package namecache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

// Domain is the cache domain name reported by Invalidate.
const Domain = "names"

const defaultPopulateTimeout = 30 * time.Second

var (
	errNoSelector        = errors.New("exactly one of device_id, serial_number or invalidate_all is required")
	errMultipleSelectors = errors.New("only one of device_id, serial_number or invalidate_all may be set")
)

// Fetcher returns name records for a set of serial numbers in one call.
// Serials without a record are simply absent from the result.
type Fetcher interface {
	FetchNames(ctx context.Context, serials []string) ([]models.DeviceNameRecord, error)
}

// Result is a cache read. Names holds resolved serials keyed as requested,
// Missing holds serials whose population has not completed. Serials the
// backend has no name for appear in neither.
type Result struct {
	Names   map[string]string
	Missing []string
}

// Complete reports whether every requested serial was settled.
func (r Result) Complete() bool {
	return len(r.Missing) == 0
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Fetches     int64 `json:"fetches"`
	FetchErrors int64 `json:"fetch_errors"`
}

type entry struct {
	record    models.NameCacheEntry
	found     bool
	expiresAt time.Time
}

// flight is one pending backend fetch for a single serial.
type flight struct {
	done chan struct{}
	err  error
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]entry
	byDevice map[string]string
	inflight map[string]*flight
	gen      uint64

	// seq orders targeted invalidations. While fetches are in flight the
	// stamps record which serials and devices were invalidated after a
	// fetch started, so only those records are dropped on commit.
	seq          uint64
	serialStamps map[string]uint64
	deviceStamps map[string]uint64

	fetcher         Fetcher
	ttl             time.Duration
	populateTimeout time.Duration
	nowFn           func() time.Time
	logger          logger.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	fetches     atomic.Int64
	fetchErrors atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL expires entries after ttl. Zero keeps entries until invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPopulateTimeout bounds background population, which runs detached from
// the triggering request.
func WithPopulateTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.populateTimeout = d
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Cache) {
		c.logger = log
	}
}

// WithClock overrides the time source.
func WithClock(nowFn func() time.Time) Option {
	return func(c *Cache) {
		if nowFn != nil {
			c.nowFn = nowFn
		}
	}
}

// New creates an empty cache backed by fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		entries:         make(map[string]entry),
		byDevice:        make(map[string]string),
		inflight:        make(map[string]*flight),
		serialStamps:    make(map[string]uint64),
		deviceStamps:    make(map[string]uint64),
		fetcher:         fetcher,
		populateTimeout: defaultPopulateTimeout,
		nowFn:           time.Now,
		logger:          logger.NewTestLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func normalize(serial string) string {
	return strings.ToUpper(strings.TrimSpace(serial))
}

// dedupe trims serials, drops empties and duplicates, and returns the
// requested spelling for each normalized key.
func dedupe(serials []string) ([]string, map[string]string) {
	keys := make([]string, 0, len(serials))
	spelling := make(map[string]string, len(serials))

	for _, raw := range serials {
		trimmed := strings.TrimSpace(raw)

		key := normalize(trimmed)
		if key == "" {
			continue
		}

		if _, ok := spelling[key]; ok {
			continue
		}

		spelling[key] = trimmed
		keys = append(keys, key)
	}

	return keys, spelling
}

// getBatch splits keys into settled entries and misses.
func (c *Cache) getBatch(keys []string) (map[string]entry, []string) {
	hits := make(map[string]entry, len(keys))
	misses := make([]string, 0, len(keys))

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.nowFn()

	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok || (!e.expiresAt.IsZero() && !now.Before(e.expiresAt)) {
			misses = append(misses, key)
			continue
		}

		hits[key] = e
	}

	return hits, misses
}

func (c *Cache) read(ctx context.Context, keys []string, spelling map[string]string) (Result, []string) {
	hits, misses := c.getBatch(keys)

	c.hits.Add(int64(len(hits)))
	c.misses.Add(int64(len(misses)))
	recordLookup(ctx, len(hits), len(misses))

	res := Result{
		Names:   make(map[string]string, len(hits)),
		Missing: make([]string, 0, len(misses)),
	}

	for key, e := range hits {
		if e.found {
			res.Names[spelling[key]] = e.record.Name
		}
	}

	for _, key := range misses {
		res.Missing = append(res.Missing, spelling[key])
	}

	return res, misses
}

// Lookup returns whatever is cached for serials and starts background
// population of the misses. It never blocks on the backend.
func (c *Cache) Lookup(ctx context.Context, serials []string) Result {
	keys, spelling := dedupe(serials)

	res, misses := c.read(ctx, keys, spelling)
	if len(misses) > 0 {
		c.start(ctx, misses)
	}

	return res
}

// LookupSync populates misses and waits for them before reading. The
// returned error reports a failed population; the Result still carries
// every entry that could be served.
func (c *Cache) LookupSync(ctx context.Context, serials []string) (Result, error) {
	keys, spelling := dedupe(serials)

	_, misses := c.getBatch(keys)

	var err error
	if len(misses) > 0 {
		err = wait(ctx, c.start(ctx, misses))
	}

	res, _ := c.read(ctx, keys, spelling)

	return res, err
}

// Populate fetches every serial not already cached and waits for the result.
func (c *Cache) Populate(ctx context.Context, serials []string) error {
	keys, _ := dedupe(serials)

	_, misses := c.getBatch(keys)
	if len(misses) == 0 {
		return nil
	}

	return wait(ctx, c.start(ctx, misses))
}

// start registers flights for keys nobody is fetching yet, launches one
// backend call for that set, and returns every flight covering keys.
func (c *Cache) start(ctx context.Context, keys []string) []*flight {
	waitOn := make([]*flight, 0, len(keys))
	own := make([]string, 0, len(keys))
	ownFlights := make([]*flight, 0, len(keys))

	c.mu.Lock()

	gen, seq := c.gen, c.seq

	for _, key := range keys {
		if f, ok := c.inflight[key]; ok {
			waitOn = append(waitOn, f)
			continue
		}

		f := &flight{done: make(chan struct{})}
		c.inflight[key] = f
		own = append(own, key)
		ownFlights = append(ownFlights, f)
		waitOn = append(waitOn, f)
	}

	c.mu.Unlock()

	if len(own) > 0 {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.populateTimeout)

		go func() {
			defer cancel()
			c.fetch(fetchCtx, gen, seq, own, ownFlights)
		}()
	}

	return waitOn
}

func (c *Cache) fetch(ctx context.Context, gen, seq uint64, keys []string, flights []*flight) {
	c.fetches.Add(1)

	start := time.Now()
	records, err := c.fetcher.FetchNames(ctx, keys)

	recordFetch(ctx, err, time.Since(start))

	if err != nil {
		c.fetchErrors.Add(1)
		c.logger.Warn().
			Err(err).
			Int("serials", len(keys)).
			Msg("Name cache population failed")

		err = fmt.Errorf("name cache population: %w", err)
	}

	c.mu.Lock()

	if err == nil {
		c.commitLocked(gen, seq, keys, records)
	}

	for i, key := range keys {
		flights[i].err = err
		delete(c.inflight, key)
		close(flights[i].done)
	}

	if len(c.inflight) == 0 && (len(c.serialStamps) > 0 || len(c.deviceStamps) > 0) {
		c.serialStamps = make(map[string]uint64)
		c.deviceStamps = make(map[string]uint64)
	}

	c.mu.Unlock()
}

// commitLocked stores fetched records. A fetch that raced InvalidateAll is
// dropped whole; one that raced a targeted invalidation loses only the
// serials and devices invalidated after it started.
func (c *Cache) commitLocked(gen, seq uint64, keys []string, records []models.DeviceNameRecord) {
	if gen != c.gen {
		c.logger.Debug().Int("serials", len(keys)).Msg("Discarding name fetch that raced an invalidation")
		return
	}

	now := c.nowFn()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = now.Add(c.ttl)
	}

	requested := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		requested[key] = struct{}{}
	}

	for _, key := range keys {
		if c.serialStamps[key] > seq {
			delete(requested, key)
		}
	}

	for _, rec := range records {
		key := normalize(rec.SerialNumber)
		if _, ok := requested[key]; !ok {
			continue
		}

		if id := strings.TrimSpace(rec.DeviceID); id != "" && c.deviceStamps[id] > seq {
			c.logger.Debug().Str("device_id", id).Msg("Dropping name invalidated during fetch")
			delete(requested, key)

			continue
		}

		c.entries[key] = entry{
			record: models.NameCacheEntry{
				Serial:      key,
				DeviceID:    strings.TrimSpace(rec.DeviceID),
				Name:        rec.Name,
				PopulatedAt: now,
			},
			found:     true,
			expiresAt: expiresAt,
		}

		if id := strings.TrimSpace(rec.DeviceID); id != "" {
			c.byDevice[id] = key
		}

		delete(requested, key)
	}

	// The backend had nothing for these; remember that so they settle.
	for key := range requested {
		c.entries[key] = entry{
			record:    models.NameCacheEntry{Serial: key, PopulatedAt: now},
			expiresAt: expiresAt,
		}
	}
}

func wait(ctx context.Context, flights []*flight) error {
	var firstErr error

	for _, f := range flights {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			if f.err != nil && firstErr == nil {
				firstErr = f.err
			}
		}
	}

	return firstErr
}

// Invalidate drops entries selected by req. Exactly one selector must be set.
// It returns the cache domains that lost data.
func (c *Cache) Invalidate(req models.CacheInvalidationRequest) ([]string, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	serial := normalize(req.SerialNumber)

	selectors := 0

	for _, set := range []bool{req.InvalidateAll, deviceID != "", serial != ""} {
		if set {
			selectors++
		}
	}

	switch selectors {
	case 0:
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errNoSelector)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errMultipleSelectors)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.InvalidateAll {
		c.gen++
		c.entries = make(map[string]entry)
		c.byDevice = make(map[string]string)
		c.serialStamps = make(map[string]uint64)
		c.deviceStamps = make(map[string]uint64)

		return []string{Domain}, nil
	}

	if deviceID != "" {
		key, ok := c.byDevice[deviceID]

		// The device may be mid-fetch under a serial not yet indexed.
		if len(c.inflight) > 0 {
			c.seq++
			c.deviceStamps[deviceID] = c.seq
		}

		if !ok {
			return []string{}, nil
		}

		serial = key
	}

	if _, fetching := c.inflight[serial]; fetching {
		c.seq++
		c.serialStamps[serial] = c.seq
	}

	e, ok := c.entries[serial]
	if !ok {
		return []string{}, nil
	}

	delete(c.entries, serial)

	if e.record.DeviceID != "" {
		delete(c.byDevice, e.record.DeviceID)
	}

	return []string{Domain}, nil
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Entries:     entries,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Fetches:     c.fetches.Load(),
		FetchErrors: c.fetchErrors.Load(),
	}
}
