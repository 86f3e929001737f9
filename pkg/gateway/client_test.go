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

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/fleetview/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*models.BackendConfig)) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := models.BackendConfig{BaseURL: srv.URL + "/", Timeout: models.Duration(2 * time.Second)}
	if mutate != nil {
		mutate(&cfg)
	}

	return NewClient(cfg)
}

func TestCallSendsNoCacheAndSecretHeaders(t *testing.T) {
	var got http.Header

	var gotURL *url.URL

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotURL = r.URL
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, func(cfg *models.BackendConfig) {
		cfg.APIKey = "s3cret"
		cfg.PlatformIdentity = "svc-fleetview"
	})

	body, err := c.Call(context.Background(), "devices/lookup", url.Values{"identifier": {"A004733"}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	assert.Equal(t, "/devices/lookup", gotURL.Path)
	assert.Equal(t, "A004733", gotURL.Query().Get("identifier"))
	assert.Equal(t, "no-cache", got.Get("Cache-Control"))
	assert.Equal(t, "no-cache", got.Get("Pragma"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "s3cret", got.Get("X-API-Key"))
	assert.Empty(t, got.Get("X-Platform-Identity"), "secret must win over identity header")
}

func TestCallSendsIdentityWithoutSecret(t *testing.T) {
	var got http.Header

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`[]`))
	}, func(cfg *models.BackendConfig) {
		cfg.PlatformIdentity = "svc-fleetview"
	})

	_, err := c.Call(context.Background(), "/events", nil, http.Header{"X-Platform-Identity": {"spoofed"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"svc-fleetview"}, got.Values("X-Platform-Identity"))
	assert.Empty(t, got.Get("X-API-Key"))
}

func TestCallClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, want: models.ErrNotFound},
		{name: "server error", status: http.StatusBadGateway, want: models.ErrUpstreamUnavailable},
		{name: "unavailable", status: http.StatusServiceUnavailable, want: models.ErrUpstreamUnavailable},
		{name: "rejected", status: http.StatusUnprocessableEntity, want: models.ErrValidation},
		{name: "bad request", status: http.StatusBadRequest, want: models.ErrValidation},
		{name: "unauthorized", status: http.StatusUnauthorized, want: models.ErrConfiguration},
		{name: "forbidden", status: http.StatusForbidden, want: models.ErrConfiguration},
		{name: "throttled", status: http.StatusTooManyRequests, want: models.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}, nil)

			_, err := c.Call(context.Background(), "/devices/1/modules/network", nil, nil)
			require.ErrorIs(t, err, tt.want)

			var gwErr *Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.status, gwErr.StatusCode)
			assert.Equal(t, "/devices/1/modules/network", gwErr.Endpoint)
		})
	}
}

func TestCallTimeoutIsUpstreamUnavailable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *models.BackendConfig) {
		cfg.Timeout = models.Duration(50 * time.Millisecond)
	})

	_, err := c.Call(context.Background(), "/devices/names", nil, nil)
	require.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallMissingBaseURL(t *testing.T) {
	c := NewClient(models.BackendConfig{})

	assert.False(t, c.Configured())

	_, err := c.Call(context.Background(), "/devices/lookup", nil, nil)
	require.ErrorIs(t, err, models.ErrConfiguration)
}

func TestCallNetworkErrorViaMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockHTTP := NewMockHTTPClient(ctrl)

	mockHTTP.EXPECT().
		Do(gomock.Any()).
		Return(nil, errors.New("connection refused"))

	c := NewClient(models.BackendConfig{BaseURL: "http://backend.invalid"}, WithHTTPClient(mockHTTP))

	_, err := c.Call(context.Background(), "/events", nil, nil)
	require.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetJSONMalformedPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"truncated":`))
	}, nil)

	var dst map[string]interface{}

	err := c.GetJSON(context.Background(), "/devices/lookup", nil, &dst)
	require.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, errMalformedPayload)
}

func TestGetJSONDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"d1","serial_number":"S1","name":"Lab Mac"}]`))
	}, nil)

	var dst []models.DeviceNameRecord

	require.NoError(t, c.GetJSON(WithOperation(context.Background(), "devices.names"), "/devices/names", nil, &dst))
	require.Len(t, dst, 1)
	assert.Equal(t, "Lab Mac", dst[0].Name)
}
