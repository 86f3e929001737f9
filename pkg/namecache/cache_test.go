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

package namecache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetview/pkg/models"
)

// fakeFetcher answers from a fixed directory and records every call. When
// gate is set each call blocks until it is closed.
type fakeFetcher struct {
	mu        sync.Mutex
	directory map[string]models.DeviceNameRecord
	calls     [][]string
	gate      chan struct{}
	err       error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{directory: map[string]models.DeviceNameRecord{
		"S1": {DeviceID: "dev-1", SerialNumber: "S1", Name: "Lab Mac"},
		"S2": {DeviceID: "dev-2", SerialNumber: "S2", Name: "Front Desk"},
		"S3": {DeviceID: "dev-3", SerialNumber: "S3", Name: "Kiosk"},
	}}
}

func (f *fakeFetcher) FetchNames(ctx context.Context, serials []string) ([]models.DeviceNameRecord, error) {
	f.mu.Lock()
	sorted := append([]string(nil), serials...)
	sort.Strings(sorted)
	f.calls = append(f.calls, sorted)
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	out := make([]models.DeviceNameRecord, 0, len(serials))

	for _, s := range serials {
		if rec, ok := f.directory[s]; ok {
			out = append(out, rec)
		}
	}

	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeFetcher) callAt(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[i]
}

func (f *fakeFetcher) setGate(ch chan struct{}) {
	f.mu.Lock()
	f.gate = ch
	f.mu.Unlock()
}

func waitForInflight(t *testing.T, c *Cache, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()

		return len(c.inflight) == n
	}, time.Second, 5*time.Millisecond)
}

func TestLookupAfterPopulateMakesNoBackendCalls(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New(fetcher)

	res, err := c.LookupSync(context.Background(), []string{"S1", "S2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"S1": "Lab Mac", "S2": "Front Desk"}, res.Names)
	assert.True(t, res.Complete())
	require.Equal(t, 1, fetcher.callCount())

	for i := 0; i < 5; i++ {
		res = c.Lookup(context.Background(), []string{"S1", "S2", "s1 "})
		assert.Len(t, res.Names, 2)
		assert.Empty(t, res.Missing)
	}

	assert.Equal(t, 1, fetcher.callCount())

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(1), stats.Fetches)
}

func TestLookupColdReturnsMissingThenPopulates(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New(fetcher)

	res := c.Lookup(context.Background(), []string{"S1"})
	assert.Empty(t, res.Names)
	assert.Equal(t, []string{"S1"}, res.Missing)
	assert.False(t, res.Complete())

	require.Eventually(t, func() bool {
		return c.Lookup(context.Background(), []string{"S1"}).Complete()
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "Lab Mac", c.Lookup(context.Background(), []string{"S1"}).Names["S1"])
	assert.Equal(t, 1, fetcher.callCount())
}

func TestInvalidateAllThenLookupFetchesOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New(fetcher)

	require.NoError(t, c.Populate(context.Background(), []string{"S1", "S2"}))
	require.Equal(t, 1, fetcher.callCount())

	domains, err := c.Invalidate(models.CacheInvalidationRequest{InvalidateAll: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"names"}, domains)
	assert.Zero(t, c.Stats().Entries)

	res, err := c.LookupSync(context.Background(), []string{"S1", "S2"})
	require.NoError(t, err)
	assert.Len(t, res.Names, 2)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestConcurrentColdLookupsShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.setGate(gate)

	c := New(fetcher)

	const callers = 10

	var wg sync.WaitGroup

	results := make([]Result, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			res, err := c.LookupSync(context.Background(), []string{"S1", "S2"})
			assert.NoError(t, err)

			results[i] = res
		}(i)
	}

	waitForInflight(t, c, 2)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, fetcher.callCount())

	for _, res := range results {
		assert.Equal(t, "Lab Mac", res.Names["S1"])
		assert.Equal(t, "Front Desk", res.Names["S2"])
	}
}

func TestOverlappingPopulationsFetchOnlyNewSerials(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.setGate(gate)

	c := New(fetcher)

	errA := make(chan error, 1)

	go func() { errA <- c.Populate(context.Background(), []string{"S1", "S2"}) }()

	waitForInflight(t, c, 2)

	errB := make(chan error, 1)

	go func() { errB <- c.Populate(context.Background(), []string{"S2", "S3"}) }()

	waitForInflight(t, c, 3)
	close(gate)

	require.NoError(t, <-errA)
	require.NoError(t, <-errB)

	require.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, []string{"S1", "S2"}, fetcher.callAt(0))
	assert.Equal(t, []string{"S3"}, fetcher.callAt(1))
}

func TestCancelledCallerStillCommits(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.setGate(gate)

	c := New(fetcher)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := c.LookupSync(ctx, []string{"S1"})
		errCh <- err
	}()

	waitForInflight(t, c, 1)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(gate)
	waitForInflight(t, c, 0)

	res := c.Lookup(context.Background(), []string{"S1"})
	assert.Equal(t, "Lab Mac", res.Names["S1"])
	assert.Equal(t, 1, fetcher.callCount())
}

func TestUnknownSerialSettlesWithoutRefetch(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New(fetcher)

	res, err := c.LookupSync(context.Background(), []string{"NOPE"})
	require.NoError(t, err)
	assert.Empty(t, res.Names)
	assert.True(t, res.Complete())

	res = c.Lookup(context.Background(), []string{"NOPE"})
	assert.True(t, res.Complete())
	assert.Equal(t, 1, fetcher.callCount())
}

func TestFetchFailureLeavesMissing(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = models.ErrUpstreamUnavailable

	c := New(fetcher)

	res, err := c.LookupSync(context.Background(), []string{"S1"})
	require.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, []string{"S1"}, res.Missing)
	assert.Equal(t, int64(1), c.Stats().FetchErrors)

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()

	res, err = c.LookupSync(context.Background(), []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, "Lab Mac", res.Names["S1"])
}

func TestInvalidateByDeviceIDUsesReverseIndex(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New(fetcher)

	require.NoError(t, c.Populate(context.Background(), []string{"S1", "S2"}))

	domains, err := c.Invalidate(models.CacheInvalidationRequest{DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"names"}, domains)

	res := c.Lookup(context.Background(), []string{"S2"})
	assert.Equal(t, "Front Desk", res.Names["S2"])

	_, misses := c.getBatch([]string{"S1"})
	assert.Equal(t, []string{"S1"}, misses)

	domains, err = c.Invalidate(models.CacheInvalidationRequest{DeviceID: "dev-404"})
	require.NoError(t, err)
	assert.Empty(t, domains)

	domains, err = c.Invalidate(models.CacheInvalidationRequest{SerialNumber: "s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"names"}, domains)
}

func TestInvalidateRejectsBadSelectors(t *testing.T) {
	c := New(newFakeFetcher())

	_, err := c.Invalidate(models.CacheInvalidationRequest{})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = c.Invalidate(models.CacheInvalidationRequest{DeviceID: "dev-1", InvalidateAll: true})
	require.ErrorIs(t, err, models.ErrValidation)
	assert.True(t, errors.Is(err, errMultipleSelectors))
}

func TestTTLExpiryCountsAsMiss(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var mu sync.Mutex

	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return now
	}

	fetcher := newFakeFetcher()
	c := New(fetcher, WithTTL(time.Minute), WithClock(clock))

	require.NoError(t, c.Populate(context.Background(), []string{"S1"}))
	assert.True(t, c.Lookup(context.Background(), []string{"S1"}).Complete())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, misses := c.getBatch([]string{"S1"})
	assert.Equal(t, []string{"S1"}, misses)

	res, err := c.LookupSync(context.Background(), []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, "Lab Mac", res.Names["S1"])
	assert.Equal(t, 2, fetcher.callCount())
}

func TestInvalidateAllDuringFetchDiscardsResult(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.setGate(gate)

	c := New(fetcher)

	errCh := make(chan error, 1)

	go func() { errCh <- c.Populate(context.Background(), []string{"S1"}) }()

	waitForInflight(t, c, 1)

	_, err := c.Invalidate(models.CacheInvalidationRequest{InvalidateAll: true})
	require.NoError(t, err)

	close(gate)
	require.NoError(t, <-errCh)

	_, misses := c.getBatch([]string{"S1"})
	assert.Equal(t, []string{"S1"}, misses)
}

func TestTargetedInvalidationKeepsUnrelatedFetch(t *testing.T) {
	tests := []struct {
		name      string
		req       models.CacheInvalidationRequest
		wantNames map[string]string
		wantMiss  []string
	}{
		{
			name:      "uncached serial",
			req:       models.CacheInvalidationRequest{SerialNumber: "S3"},
			wantNames: map[string]string{"S1": "Lab Mac", "S2": "Front Desk"},
			wantMiss:  []string{},
		},
		{
			name:      "device mid-fetch",
			req:       models.CacheInvalidationRequest{DeviceID: "dev-1"},
			wantNames: map[string]string{"S2": "Front Desk"},
			wantMiss:  []string{"S1"},
		},
		{
			name:      "serial mid-fetch",
			req:       models.CacheInvalidationRequest{SerialNumber: "s2"},
			wantNames: map[string]string{"S1": "Lab Mac"},
			wantMiss:  []string{"S2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			gate := make(chan struct{})
			fetcher.setGate(gate)

			c := New(fetcher)

			type outcome struct {
				res Result
				err error
			}

			done := make(chan outcome, 1)

			go func() {
				res, err := c.LookupSync(context.Background(), []string{"S1", "S2"})
				done <- outcome{res: res, err: err}
			}()

			waitForInflight(t, c, 2)

			domains, err := c.Invalidate(tt.req)
			require.NoError(t, err)
			assert.Empty(t, domains)

			close(gate)

			out := <-done
			require.NoError(t, out.err)
			assert.Equal(t, tt.wantNames, out.res.Names)
			assert.Equal(t, tt.wantMiss, out.res.Missing)
			assert.Equal(t, 1, fetcher.callCount())
		})
	}
}

func TestStampsClearedAfterFetchesSettle(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.setGate(gate)

	c := New(fetcher)

	errCh := make(chan error, 1)

	go func() { errCh <- c.Populate(context.Background(), []string{"S1"}) }()

	waitForInflight(t, c, 1)

	_, err := c.Invalidate(models.CacheInvalidationRequest{DeviceID: "dev-1"})
	require.NoError(t, err)

	close(gate)
	require.NoError(t, <-errCh)

	c.mu.RLock()
	assert.Empty(t, c.deviceStamps)
	assert.Empty(t, c.serialStamps)
	c.mu.RUnlock()

	res, err := c.LookupSync(context.Background(), []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, "Lab Mac", res.Names["S1"])
	assert.True(t, res.Complete())
}

func TestInvalidateWithoutFetchesLeavesNoStamps(t *testing.T) {
	c := New(newFakeFetcher())

	_, err := c.Invalidate(models.CacheInvalidationRequest{SerialNumber: "S9"})
	require.NoError(t, err)
	_, err = c.Invalidate(models.CacheInvalidationRequest{DeviceID: "dev-9"})
	require.NoError(t, err)

	c.mu.RLock()
	defer c.mu.RUnlock()

	assert.Zero(t, c.seq)
	assert.Zero(t, c.gen)
}
