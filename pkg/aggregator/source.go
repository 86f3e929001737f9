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

package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/carverauto/fleetview/pkg/events"
	"github.com/carverauto/fleetview/pkg/gateway"
	"github.com/carverauto/fleetview/pkg/models"
)

const (
	// DefaultModuleEndpoint is used for modules without an endpoint template.
	DefaultModuleEndpoint = "/devices/{id}/modules/{module}"

	sourcePrimary  = "primary"
	sourceFallback = "fallback"
)

var (
	errFallbackOnly   = errors.New("module has no dedicated endpoint")
	errMissingDevice  = errors.New("device is required")
	errUnknownModule  = errors.New("unknown module")
	errBreakerOpen    = errors.New("primary circuit open")
	errNoDeviceHandle = errors.New("device has neither id nor serial number")
)

// Source produces one module record for a device. A nil record with a nil
// error means the source has no data for the module.
type Source interface {
	Name() string
	Fetch(ctx context.Context, device *models.CanonicalDevice, module models.ModuleConfig) (*models.ModuleRecord, error)
}

// PrimarySource reads the dedicated per-module backend endpoint.
type PrimarySource struct {
	backend gateway.Backend
	nowFn   func() time.Time
}

func NewPrimarySource(backend gateway.Backend) *PrimarySource {
	return &PrimarySource{backend: backend, nowFn: time.Now}
}

func (*PrimarySource) Name() string { return sourcePrimary }

// moduleEnvelope is the optional wrapper the backend may put around module data.
type moduleEnvelope struct {
	Data        json.RawMessage `json:"data"`
	CollectedAt *time.Time      `json:"collected_at"`
	UpdatedAt   *time.Time      `json:"updated_at"`
}

func (p *PrimarySource) Fetch(ctx context.Context, device *models.CanonicalDevice, module models.ModuleConfig) (*models.ModuleRecord, error) {
	if module.FallbackOnly {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrConfiguration, module.Name, errFallbackOnly)
	}

	id := deviceHandle(device)
	if id == "" {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errNoDeviceHandle)
	}

	endpoint := moduleEndpoint(module, id)

	body, err := p.backend.Call(gateway.WithOperation(ctx, "modules."+string(module.Name)), endpoint, nil, nil)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: module %s payload is not JSON", models.ErrUpstreamUnavailable, module.Name)
	}

	now := p.nowFn()
	rec := &models.ModuleRecord{
		DeviceID:   id,
		ModuleName: module.Name,
		Data:       json.RawMessage(body),
		UpdatedAt:  now,
		Provenance: models.ProvenancePrimary,
	}

	if body[0] == '{' {
		var env moduleEnvelope
		if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
			if bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
				return nil, nil
			}

			rec.Data = env.Data

			if env.CollectedAt != nil {
				rec.CollectedAt = env.CollectedAt.UTC()
			}

			if env.UpdatedAt != nil {
				rec.UpdatedAt = env.UpdatedAt.UTC()
			}
		}
	}

	return rec, nil
}

func moduleEndpoint(module models.ModuleConfig, id string) string {
	tmpl := strings.TrimSpace(module.Endpoint)
	if tmpl == "" {
		tmpl = DefaultModuleEndpoint
	}

	return strings.NewReplacer(
		"{id}", url.PathEscape(id),
		"{module}", url.PathEscape(string(module.Name)),
	).Replace(tmpl)
}

func deviceHandle(device *models.CanonicalDevice) string {
	if id := strings.TrimSpace(device.ID); id != "" {
		return id
	}

	return strings.TrimSpace(device.SerialNumber)
}

// EventFallbackSource rebuilds a module from the device's event stream by
// merging the payloads of events tagged for the module, oldest to newest.
type EventFallbackSource struct {
	events events.Source
	limit  int
	window time.Duration
	nowFn  func() time.Time
}

func NewEventFallbackSource(src events.Source, limit int, window time.Duration) *EventFallbackSource {
	return &EventFallbackSource{
		events: src,
		limit:  limit,
		window: window,
		nowFn:  time.Now,
	}
}

func (*EventFallbackSource) Name() string { return sourceFallback }

func (f *EventFallbackSource) Fetch(ctx context.Context, device *models.CanonicalDevice, module models.ModuleConfig) (*models.ModuleRecord, error) {
	handle := strings.TrimSpace(device.SerialNumber)
	if handle == "" {
		handle = deviceHandle(device)
	}

	if handle == "" {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errNoDeviceHandle)
	}

	evs, err := f.events.Events(ctx, models.EventQuery{
		Device: handle,
		Kind:   string(module.Name),
		Limit:  f.limit,
		Range:  f.window,
	})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage)

	var newest time.Time

	for i := range evs {
		ev := &evs[i]
		if !ev.TaggedFor(module.Name) {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(ev.Payload, &fields); err != nil || fields == nil {
			continue
		}

		for k, v := range fields {
			merged[k] = v
		}

		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}

	if len(merged) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("merge %s events: %w", module.Name, err)
	}

	return &models.ModuleRecord{
		DeviceID:    deviceHandle(device),
		ModuleName:  module.Name,
		Data:        data,
		CollectedAt: newest.UTC(),
		UpdatedAt:   f.nowFn(),
		Provenance:  models.ProvenanceFallback,
	}, nil
}
