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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	srHttp "github.com/carverauto/fleetview/pkg/http"
	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
	"github.com/carverauto/fleetview/pkg/namecache"
)

var errBoom = errors.New("boom")

type fakeEvents struct {
	events []models.Event
	err    error
	last   models.EventQuery
}

func (f *fakeEvents) Events(_ context.Context, q models.EventQuery) ([]models.Event, error) {
	f.last = q
	return f.events, f.err
}

type testDeps struct {
	resolver   *MockDeviceResolver
	aggregator *MockModuleAggregator
	names      *MockNameCache
	publisher  *MockInvalidationPublisher
	events     *fakeEvents
	server     *APIServer
}

func newTestServer(t *testing.T) *testDeps {
	t.Helper()

	ctrl := gomock.NewController(t)

	d := &testDeps{
		resolver:   NewMockDeviceResolver(ctrl),
		aggregator: NewMockModuleAggregator(ctrl),
		names:      NewMockNameCache(ctrl),
		publisher:  NewMockInvalidationPublisher(ctrl),
		events:     &fakeEvents{},
	}

	d.server = NewAPIServer(models.CORSConfig{AllowedOrigins: []string{"*"}},
		WithResolver(d.resolver),
		WithAggregator(d.aggregator),
		WithNameCache(d.names),
		WithEventSource(d.events),
		WithInvalidationPublisher(d.publisher),
		WithMetrics(srHttp.NewMetrics(nil)),
		WithLogger(logger.NewTestLogger()),
	)

	return d
}

func (d *testDeps) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	d.server.Handler().ServeHTTP(rr, req)

	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()

	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	return resp
}

func testDevice() *models.CanonicalDevice {
	return &models.CanonicalDevice{ID: "dev-1", SerialNumber: "0F33V9G25083HJ", AssetTag: "A004733"}
}

func TestHandleDevice_AssetTag(t *testing.T) {
	d := newTestServer(t)
	device := testDevice()

	d.resolver.EXPECT().Resolve(gomock.Any(), "A004733").Return(device, nil)
	d.aggregator.EXPECT().
		Aggregate(gomock.Any(), device, []models.ModuleName{"hardware", "network"}).
		Return(&models.DeviceView{
			ID:           "dev-1",
			SerialNumber: device.SerialNumber,
			Status:       models.DeviceStatusStale,
			Modules:      map[models.ModuleName]*models.ModuleRecord{"hardware": nil},
			Provenance:   models.ProvenanceMixed,
		}, nil)

	rr := d.do(http.MethodGet, "/api/devices/A004733?modules=hardware,%20network,", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "true", rr.Header().Get(ResolutionNeededHeader))
	assert.Equal(t, "assetTag", rr.Header().Get(IdentifierKindHeader))
	assert.Equal(t, "mixed", rr.Header().Get(ProvenanceHeader))
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rr.Header().Get("Pragma"))
	assert.Equal(t, "0", rr.Header().Get("Expires"))

	var view map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.JSONEq(t, `{"hardware":null}`, string(view["modules"]))
	assert.JSONEq(t, `"stale"`, string(view["status"]))
}

func TestHandleDevice_SerialNeedsNoResolution(t *testing.T) {
	d := newTestServer(t)
	device := testDevice()

	d.resolver.EXPECT().Resolve(gomock.Any(), "0F33V9G25083HJ").Return(device, nil)
	d.aggregator.EXPECT().Aggregate(gomock.Any(), device, gomock.Nil()).
		Return(&models.DeviceView{Provenance: models.ProvenancePrimary}, nil)

	rr := d.do(http.MethodGet, "/api/devices/0F33V9G25083HJ", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "false", rr.Header().Get(ResolutionNeededHeader))
	assert.Empty(t, rr.Header().Get(IdentifierKindHeader))
	assert.Equal(t, "primary", rr.Header().Get(ProvenanceHeader))
}

func TestHandleDevice_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"not found", fmt.Errorf("%w: no device", models.ErrNotFound), http.StatusNotFound, "not found: no device"},
		{"ambiguous", fmt.Errorf("%w: %w: two devices", models.ErrAmbiguousIdentifier, models.ErrValidation), http.StatusConflict, ""},
		{"validation", fmt.Errorf("%w: bad", models.ErrValidation), http.StatusBadRequest, ""},
		{"unavailable", fmt.Errorf("%w: backend down", models.ErrUpstreamUnavailable), http.StatusServiceUnavailable, ""},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable, ""},
		{"configuration", fmt.Errorf("%w: base url missing", models.ErrConfiguration), http.StatusInternalServerError, "configuration error: base url missing"},
		{"unexpected", errBoom, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestServer(t)
			d.resolver.EXPECT().Resolve(gomock.Any(), "79349310-287D-8166-52FC-0644E27378F7").Return(nil, tt.err)

			rr := d.do(http.MethodGet, "/api/devices/79349310-287D-8166-52FC-0644E27378F7", "")

			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, "uuid", rr.Header().Get(IdentifierKindHeader))

			resp := decodeError(t, rr)
			assert.Equal(t, tt.code, resp.Status)

			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
		})
	}
}

func TestHandleDevice_InvalidIdentifier(t *testing.T) {
	d := newTestServer(t)

	rr := d.do(http.MethodGet, "/api/devices/has%20space", "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rr.Header().Get(ResolutionNeededHeader))
}

func TestHandleModule(t *testing.T) {
	t.Run("null when no data", func(t *testing.T) {
		d := newTestServer(t)
		device := testDevice()

		d.resolver.EXPECT().Resolve(gomock.Any(), "0F33V9G25083HJ").Return(device, nil)
		d.aggregator.EXPECT().FetchModule(gomock.Any(), device, models.ModuleName("installs")).Return(nil, nil)

		rr := d.do(http.MethodGet, "/api/devices/0F33V9G25083HJ/modules/installs", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "null", strings.TrimSpace(rr.Body.String()))
		assert.Equal(t, "none", rr.Header().Get(ProvenanceHeader))
	})

	t.Run("fallback record", func(t *testing.T) {
		d := newTestServer(t)
		device := testDevice()

		d.resolver.EXPECT().Resolve(gomock.Any(), "0F33V9G25083HJ").Return(device, nil)
		d.aggregator.EXPECT().FetchModule(gomock.Any(), device, models.ModuleName("installs")).
			Return(&models.ModuleRecord{
				DeviceID:   "dev-1",
				ModuleName: "installs",
				Data:       json.RawMessage(`{"zoom":"5.1"}`),
				Provenance: models.ProvenanceFallback,
			}, nil)

		rr := d.do(http.MethodGet, "/api/devices/0F33V9G25083HJ/modules/installs", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "fallback", rr.Header().Get(ProvenanceHeader))

		var rec models.ModuleRecord
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
		assert.JSONEq(t, `{"zoom":"5.1"}`, string(rec.Data))
	})

	t.Run("unknown module", func(t *testing.T) {
		d := newTestServer(t)
		device := testDevice()

		d.resolver.EXPECT().Resolve(gomock.Any(), "0F33V9G25083HJ").Return(device, nil)
		d.aggregator.EXPECT().FetchModule(gomock.Any(), device, models.ModuleName("battery")).
			Return(nil, fmt.Errorf("%w: unknown module", models.ErrValidation))

		rr := d.do(http.MethodGet, "/api/devices/0F33V9G25083HJ/modules/battery", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandleIdentifier(t *testing.T) {
	d := newTestServer(t)

	rr := d.do(http.MethodGet, "/api/identifiers/A004733", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var info models.IdentifierInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&info))
	assert.Equal(t, models.IdentifierInfo{Identifier: "A004733", Kind: models.IdentifierAssetTag, ResolutionNeeded: true}, info)
	assert.Equal(t, "assetTag", rr.Header().Get(IdentifierKindHeader))
}

func TestHandleNameLookup(t *testing.T) {
	t.Run("async", func(t *testing.T) {
		d := newTestServer(t)
		d.names.EXPECT().Lookup(gomock.Any(), []string{"S1", "S2"}).
			Return(namecache.Result{Names: map[string]string{"S1": "Lab Mac"}, Missing: []string{"S2"}})

		rr := d.do(http.MethodGet, "/api/devices?names=S1,S2", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.NameLookupResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, map[string]string{"S1": "Lab Mac"}, resp.Names)
		assert.Equal(t, []string{"S2"}, resp.Missing)
		assert.False(t, resp.Complete)
	})

	t.Run("sync", func(t *testing.T) {
		d := newTestServer(t)
		d.names.EXPECT().LookupSync(gomock.Any(), []string{"S1"}).
			Return(namecache.Result{Names: map[string]string{"S1": "Lab Mac"}, Missing: []string{}}, nil)

		rr := d.do(http.MethodGet, "/api/devices?names=S1&sync=true", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.NameLookupResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Complete)
	})

	t.Run("sync failure with nothing cached", func(t *testing.T) {
		d := newTestServer(t)
		d.names.EXPECT().LookupSync(gomock.Any(), []string{"S1"}).
			Return(namecache.Result{Names: map[string]string{}, Missing: []string{"S1"}}, models.ErrUpstreamUnavailable)

		rr := d.do(http.MethodGet, "/api/devices?names=S1&sync=1", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("bad input", func(t *testing.T) {
		d := newTestServer(t)

		assert.Equal(t, http.StatusBadRequest, d.do(http.MethodGet, "/api/devices?names=", "").Code)
		assert.Equal(t, http.StatusBadRequest, d.do(http.MethodGet, "/api/devices?names=S1&sync=maybe", "").Code)

		many := strings.Repeat("S,", maxNameLookup+1)
		assert.Equal(t, http.StatusBadRequest, d.do(http.MethodGet, "/api/devices?names="+many, "").Code)
	})
}

func TestHandleEvents(t *testing.T) {
	d := newTestServer(t)
	d.events.events = []models.Event{
		{ID: "e1", Device: "S1", Kind: "installs", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	rr := d.do(http.MethodGet, "/api/events?device=S1&kind=installs&limit=5&range=7d", "")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, models.EventQuery{Device: "S1", Kind: "installs", Limit: 5, Range: 7 * 24 * time.Hour}, d.events.last)

	var resp models.EventsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "e1", resp.Items[0].ID)

	assert.Equal(t, http.StatusBadRequest, d.do(http.MethodGet, "/api/events?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, d.do(http.MethodGet, "/api/events?range=soon", "").Code)

	d.events.events = nil
	d.events.err = models.ErrUpstreamUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, d.do(http.MethodGet, "/api/events", "").Code)
}

func TestHandleInvalidate(t *testing.T) {
	t.Run("applies and broadcasts", func(t *testing.T) {
		d := newTestServer(t)
		req := models.CacheInvalidationRequest{DeviceID: "dev-1"}

		d.names.EXPECT().Invalidate(req).Return([]string{"names"}, nil)
		d.publisher.EXPECT().Publish(gomock.Any(), req).Return(nil)

		rr := d.do(http.MethodPost, "/api/cache/invalidate", `{"device_id":"dev-1"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"invalidated":["names"]}`, rr.Body.String())
	})

	t.Run("broadcast failure still succeeds locally", func(t *testing.T) {
		d := newTestServer(t)
		req := models.CacheInvalidationRequest{InvalidateAll: true}

		d.names.EXPECT().Invalidate(req).Return([]string{"names"}, nil)
		d.publisher.EXPECT().Publish(gomock.Any(), req).Return(errBoom)

		rr := d.do(http.MethodPost, "/api/cache/invalidate", `{"invalidate_all":true}`)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("rejected selector is not broadcast", func(t *testing.T) {
		d := newTestServer(t)

		d.names.EXPECT().Invalidate(models.CacheInvalidationRequest{}).
			Return(nil, fmt.Errorf("%w: selector required", models.ErrValidation))

		rr := d.do(http.MethodPost, "/api/cache/invalidate", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		d := newTestServer(t)

		assert.Equal(t, http.StatusBadRequest, d.do(http.MethodPost, "/api/cache/invalidate", `{"device_id":`).Code)
		assert.Equal(t, http.StatusBadRequest, d.do(http.MethodPost, "/api/cache/invalidate", `{"everything":true}`).Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		d := newTestServer(t)

		assert.Equal(t, http.StatusMethodNotAllowed, d.do(http.MethodGet, "/api/cache/invalidate", "").Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	d := newTestServer(t)

	rr := d.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Empty(t, rr.Header().Get("Cache-Control"))

	rr = d.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `route="/healthz"`)
}

func TestUnwiredComponentsAreUnavailable(t *testing.T) {
	s := NewAPIServer(models.CORSConfig{})

	for _, target := range []string{"/api/devices/A004733", "/api/devices?names=S1", "/api/events"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, target)
	}

	assert.Equal(t, http.StatusNotFound, statusFor(models.ErrNotFound))
}
