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

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/carverauto/fleetview/pkg/gateway"
	"github.com/carverauto/fleetview/pkg/models"
)

// Endpoint is the backend events route.
const Endpoint = "/events"

// GatewaySource reads events through the backend gateway. The backend may
// ignore some filters, so results are filtered again locally.
type GatewaySource struct {
	backend gateway.Backend
	nowFn   func() time.Time
}

func NewGatewaySource(backend gateway.Backend) *GatewaySource {
	return &GatewaySource{backend: backend, nowFn: time.Now}
}

type eventsEnvelope struct {
	Items  []models.Event `json:"items"`
	Events []models.Event `json:"events"`
}

func (s *GatewaySource) Events(ctx context.Context, q models.EventQuery) ([]models.Event, error) {
	q = NormalizeQuery(q)
	now := s.nowFn()

	params := url.Values{}
	if q.Device != "" {
		params.Set("device", q.Device)
	}

	if q.Kind != "" {
		params.Set("kind", q.Kind)
	}

	params.Set("limit", strconv.Itoa(q.Limit))

	if q.Range > 0 {
		params.Set("since", now.Add(-q.Range).UTC().Format(time.RFC3339))
	}

	var payload json.RawMessage
	if err := s.backend.GetJSON(gateway.WithOperation(ctx, "events.list"), Endpoint, params, &payload); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return []models.Event{}, nil
	}

	var list []models.Event

	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, fmt.Errorf("%w: events payload: %w", models.ErrUpstreamUnavailable, err)
		}
	} else {
		var env eventsEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("%w: events payload: %w", models.ErrUpstreamUnavailable, err)
		}

		list = append(env.Items, env.Events...)
	}

	return Filter(list, q, now), nil
}
