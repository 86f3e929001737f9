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

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/carverauto/fleetview/pkg/gateway"
	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
	"github.com/carverauto/fleetview/pkg/status"
)

const (
	// LookupEndpoint is the backend route returning candidate devices.
	LookupEndpoint = "/devices/lookup"
	tracerName     = "fleetview.identity"
)

// precedence orders identifier kinds when a raw string matches several.
//
//nolint:gochecknoglobals // fixed ordering table
var precedence = []models.IdentifierKind{
	models.IdentifierSerial,
	models.IdentifierAssetTag,
	models.IdentifierUUID,
}

// Resolver maps raw identifiers to canonical devices. It keeps no cache;
// concurrent resolutions of the same identifier share one backend call.
type Resolver struct {
	backend gateway.Backend
	logger  logger.Logger
	tracer  trace.Tracer
	group   singleflight.Group
	nowFn   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithLogger(log logger.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = log
	}
}

// WithClock overrides the time source used for status derivation.
func WithClock(nowFn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.nowFn = nowFn
	}
}

func NewResolver(backend gateway.Backend, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		backend: backend,
		logger:  logger.NewTestLogger(),
		tracer:  otel.Tracer(tracerName),
		nowFn:   time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the single canonical device raw refers to. It fails with
// ErrValidation for malformed input, ErrNotFound when nothing matches and
// ErrAmbiguousIdentifier when raw matches more than one device.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*models.CanonicalDevice, error) {
	id, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "identity.Resolve", trace.WithAttributes(
		attribute.String("identifier.kind", string(id.Kind)),
	))
	defer span.End()

	// The shared call must outlive any single caller's cancellation.
	ch := r.group.DoChan(id.Raw, func() (interface{}, error) {
		return r.resolve(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())

			return nil, res.Err
		}

		span.SetAttributes(attribute.Bool("singleflight.shared", res.Shared))
		span.SetStatus(codes.Ok, "resolved")

		device := *res.Val.(*models.CanonicalDevice)

		return &device, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, id models.DeviceIdentifier) (*models.CanonicalDevice, error) {
	candidates, err := r.fetchCandidates(ctx, id.Raw)
	if err != nil {
		return nil, err
	}

	device, matchedKind, err := selectCandidate(id.Raw, candidates)
	if err != nil {
		r.logger.Debug().
			Err(err).
			Str("identifier", id.Raw).
			Int("candidates", len(candidates)).
			Msg("Identifier did not resolve")

		return nil, err
	}

	device.Status = status.Compute(device.LastSeen, r.nowFn())

	r.logger.Debug().
		Str("identifier", id.Raw).
		Str("classified_as", string(id.Kind)).
		Str("matched_as", string(matchedKind)).
		Str("serial_number", device.SerialNumber).
		Msg("Resolved identifier")

	return device, nil
}

// lookupEnvelope accepts the object form of the lookup response.
type lookupEnvelope struct {
	Devices []models.CanonicalDevice `json:"devices"`
	Items   []models.CanonicalDevice `json:"items"`
}

func (r *Resolver) fetchCandidates(ctx context.Context, raw string) ([]models.CanonicalDevice, error) {
	var payload json.RawMessage

	err := r.backend.GetJSON(gateway.WithOperation(ctx, "devices.lookup"), LookupEndpoint,
		url.Values{"identifier": {raw}}, &payload)
	if err != nil {
		return nil, fmt.Errorf("identifier lookup: %w", err)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}

	if payload[0] == '[' {
		var devices []models.CanonicalDevice
		if err := json.Unmarshal(payload, &devices); err != nil {
			return nil, fmt.Errorf("%w: identifier lookup payload: %w", models.ErrUpstreamUnavailable, err)
		}

		return devices, nil
	}

	var env lookupEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: identifier lookup payload: %w", models.ErrUpstreamUnavailable, err)
	}

	return append(env.Devices, env.Items...), nil
}

// selectCandidate matches raw against every candidate under each identifier
// kind and applies precedence. Devices are distinct by serial number.
func selectCandidate(raw string, candidates []models.CanonicalDevice) (*models.CanonicalDevice, models.IdentifierKind, error) {
	matches := make(map[models.IdentifierKind]map[string]*models.CanonicalDevice, len(precedence))

	for i := range candidates {
		c := &candidates[i]
		key := deviceKey(c)

		if key == "" {
			continue
		}

		for _, kind := range precedence {
			if !matchesKind(raw, c, kind) {
				continue
			}

			if matches[kind] == nil {
				matches[kind] = make(map[string]*models.CanonicalDevice)
			}

			matches[kind][key] = c
		}
	}

	var (
		winner     *models.CanonicalDevice
		winnerKind models.IdentifierKind
	)

	for _, kind := range precedence {
		set := matches[kind]
		if len(set) == 0 {
			continue
		}

		if len(set) > 1 {
			return nil, kind, fmt.Errorf("%w: %w: %q matches %d devices by %s",
				models.ErrAmbiguousIdentifier, models.ErrValidation, raw, len(set), kind)
		}

		for _, d := range set {
			winner = d
		}

		winnerKind = kind

		break
	}

	if winner == nil {
		return nil, "", fmt.Errorf("%w: no device matches %q", models.ErrNotFound, raw)
	}

	winnerKey := deviceKey(winner)

	for _, kind := range precedence {
		for key := range matches[kind] {
			if key != winnerKey {
				return nil, winnerKind, fmt.Errorf("%w: %w: %q matches different devices by %s and %s",
					models.ErrAmbiguousIdentifier, models.ErrValidation, raw, winnerKind, kind)
			}
		}
	}

	device := *winner

	return &device, winnerKind, nil
}

func deviceKey(d *models.CanonicalDevice) string {
	if s := strings.TrimSpace(d.SerialNumber); s != "" {
		return strings.ToUpper(s)
	}

	return ""
}

func matchesKind(raw string, d *models.CanonicalDevice, kind models.IdentifierKind) bool {
	var value string

	switch kind {
	case models.IdentifierSerial:
		value = d.SerialNumber
	case models.IdentifierAssetTag:
		value = d.AssetTag
	case models.IdentifierUUID:
		value = d.UUID
	}

	value = strings.TrimSpace(value)

	return value != "" && strings.EqualFold(value, raw)
}
