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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/carverauto/fleetview/pkg/gateway"
	"github.com/carverauto/fleetview/pkg/models"
)

// NamesEndpoint is the backend bulk name lookup route.
const NamesEndpoint = "/devices/names"

// GatewayFetcher resolves names through the backend gateway.
type GatewayFetcher struct {
	backend gateway.Backend
}

func NewGatewayFetcher(backend gateway.Backend) *GatewayFetcher {
	return &GatewayFetcher{backend: backend}
}

type namesEnvelope struct {
	Items   []models.DeviceNameRecord `json:"items"`
	Devices []models.DeviceNameRecord `json:"devices"`
	Names   map[string]string         `json:"names"`
}

func (f *GatewayFetcher) FetchNames(ctx context.Context, serials []string) ([]models.DeviceNameRecord, error) {
	if len(serials) == 0 {
		return nil, nil
	}

	var payload json.RawMessage

	err := f.backend.GetJSON(gateway.WithOperation(ctx, "devices.names"), NamesEndpoint,
		url.Values{"serials": {strings.Join(serials, ",")}}, &payload)
	if err != nil {
		return nil, err
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}

	if payload[0] == '[' {
		var records []models.DeviceNameRecord
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, fmt.Errorf("%w: names payload: %w", models.ErrUpstreamUnavailable, err)
		}

		return records, nil
	}

	var env namesEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: names payload: %w", models.ErrUpstreamUnavailable, err)
	}

	records := append(env.Items, env.Devices...)
	for serial, name := range env.Names {
		records = append(records, models.DeviceNameRecord{SerialNumber: serial, Name: name})
	}

	return records, nil
}
