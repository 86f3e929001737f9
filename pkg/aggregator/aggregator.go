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

// Package aggregator assembles a device view by fetching every requested
// module concurrently, falling back to event-derived data when a module's
// primary endpoint is unavailable.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
	"github.com/carverauto/fleetview/pkg/status"
)

const (
	tracerName = "fleetview.aggregator"

	outcomeData        = "data"
	outcomeEmpty       = "empty"
	outcomeUnavailable = "unavailable"
	outcomeFailed      = "failed"
)

// Aggregator fans module reads out across sources. It holds no device data;
// the only state it keeps is one circuit breaker per module.
type Aggregator struct {
	modules  map[models.ModuleName]models.ModuleConfig
	order    []models.ModuleName
	primary  Source
	fallback Source
	breakers map[models.ModuleName]*Breaker
	breaker  BreakerConfig
	logger   logger.Logger
	tracer   trace.Tracer
	nowFn    func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFallback sets the source consulted when the primary is unavailable.
func WithFallback(src Source) Option {
	return func(a *Aggregator) {
		a.fallback = src
	}
}

func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(a *Aggregator) {
		a.breaker = cfg
	}
}

func WithLogger(log logger.Logger) Option {
	return func(a *Aggregator) {
		a.logger = log
	}
}

// WithClock overrides the time source for status derivation and breakers.
func WithClock(nowFn func() time.Time) Option {
	return func(a *Aggregator) {
		a.nowFn = nowFn
	}
}

// New builds an aggregator serving modules. Module names are matched
// case-insensitively.
func New(modules []models.ModuleConfig, primary Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		modules: make(map[models.ModuleName]models.ModuleConfig, len(modules)),
		primary: primary,
		breaker: BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second},
		logger:  logger.NewTestLogger(),
		tracer:  otel.Tracer(tracerName),
		nowFn:   time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.breakers = make(map[models.ModuleName]*Breaker, len(modules))

	for _, m := range modules {
		m.Name = normalizeModule(m.Name)
		if _, dup := a.modules[m.Name]; dup || m.Name == "" {
			continue
		}

		a.modules[m.Name] = m
		a.order = append(a.order, m.Name)
		a.breakers[m.Name] = NewBreaker("module."+string(m.Name), a.breaker, a.logger, a.nowFn)
	}

	return a
}

func normalizeModule(name models.ModuleName) models.ModuleName {
	return models.ModuleName(strings.ToLower(strings.TrimSpace(string(name))))
}

// Modules returns the configured module names in configuration order.
func (a *Aggregator) Modules() []models.ModuleName {
	return append([]models.ModuleName(nil), a.order...)
}

// Breaker returns the circuit breaker guarding module's primary endpoint.
func (a *Aggregator) Breaker(module models.ModuleName) *Breaker {
	return a.breakers[normalizeModule(module)]
}

// selectModules resolves the requested names against the configured set.
// An empty request selects every configured module.
func (a *Aggregator) selectModules(requested []models.ModuleName) ([]models.ModuleConfig, error) {
	if len(requested) == 0 {
		out := make([]models.ModuleConfig, 0, len(a.order))
		for _, name := range a.order {
			out = append(out, a.modules[name])
		}

		return out, nil
	}

	seen := make(map[models.ModuleName]struct{}, len(requested))
	out := make([]models.ModuleConfig, 0, len(requested))

	for _, raw := range requested {
		name := normalizeModule(raw)
		if name == "" {
			continue
		}

		m, ok := a.modules[name]
		if !ok {
			return nil, fmt.Errorf("%w: %w: %q", models.ErrValidation, errUnknownModule, raw)
		}

		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}
		out = append(out, m)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no modules requested", models.ErrValidation)
	}

	return out, nil
}

// moduleResult is one module slot after every source had its turn.
type moduleResult struct {
	name       models.ModuleName
	record     *models.ModuleRecord
	annotation *models.ModuleAnnotation
	err        error
}

// Aggregate builds the view of device with the requested modules. Only an
// invalid device or module set fails the call; module failures become
// annotated null slots.
func (a *Aggregator) Aggregate(ctx context.Context, device *models.CanonicalDevice, modules []models.ModuleName) (*models.DeviceView, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errMissingDevice)
	}

	selected, err := a.selectModules(modules)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "aggregator.Aggregate", trace.WithAttributes(
		attribute.String("device.serial", device.SerialNumber),
		attribute.Int("modules", len(selected)),
	))
	defer span.End()

	results := make([]moduleResult, len(selected))

	var g errgroup.Group

	for i, m := range selected {
		i, m := i, m
		g.Go(func() error {
			results[i] = a.collect(ctx, device, m)
			return nil
		})
	}

	_ = g.Wait()

	view := &models.DeviceView{
		ID:           device.ID,
		SerialNumber: device.SerialNumber,
		Name:         device.Name,
		AssetTag:     device.AssetTag,
		UUID:         device.UUID,
		LastSeen:     device.LastSeen,
		Modules:      make(map[models.ModuleName]*models.ModuleRecord, len(results)),
		GeneratedAt:  a.nowFn().UTC(),
	}

	view.Status = status.Compute(device.LastSeen, view.GeneratedAt)

	for _, res := range results {
		view.Modules[res.name] = res.record

		if res.annotation != nil {
			if view.Annotations == nil {
				view.Annotations = make(map[models.ModuleName]models.ModuleAnnotation)
			}

			view.Annotations[res.name] = *res.annotation
		}
	}

	view.Provenance = view.SummarizeProvenance()

	span.SetAttributes(attribute.String("provenance", string(view.Provenance)))

	return view, nil
}

// FetchModule returns one module for device. No data is (nil, nil); an
// error means no source could answer.
func (a *Aggregator) FetchModule(ctx context.Context, device *models.CanonicalDevice, module models.ModuleName) (*models.ModuleRecord, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errMissingDevice)
	}

	selected, err := a.selectModules([]models.ModuleName{module})
	if err != nil {
		return nil, err
	}

	res := a.collect(ctx, device, selected[0])
	if res.record == nil && res.err != nil {
		return nil, res.err
	}

	return res.record, nil
}

// fallbackEligible reports whether a primary failure may be served from the
// fallback source.
func fallbackEligible(err error) bool {
	return errors.Is(err, models.ErrUpstreamUnavailable) || errors.Is(err, models.ErrConfiguration)
}

func (a *Aggregator) collect(ctx context.Context, device *models.CanonicalDevice, m models.ModuleConfig) moduleResult {
	ctx, span := a.tracer.Start(ctx, "aggregator.module", trace.WithAttributes(
		attribute.String("module", string(m.Name)),
	))
	defer span.End()

	res := moduleResult{name: m.Name}

	primaryErr := a.tryPrimary(ctx, device, m, &res)
	if primaryErr == nil {
		return res
	}

	if !fallbackEligible(primaryErr) {
		span.RecordError(primaryErr)
		span.SetStatus(codes.Error, "primary failed")

		a.logger.Warn().
			Err(primaryErr).
			Str("module", string(m.Name)).
			Str("serial", device.SerialNumber).
			Msg("Module fetch failed")

		res.err = primaryErr
		res.annotation = &models.ModuleAnnotation{
			Reason:  models.AnnotationFailed,
			Message: primaryErr.Error(),
			Source:  sourcePrimary,
		}
		recordResult(ctx, string(m.Name), sourcePrimary, outcomeFailed)

		return res
	}

	if a.fallback == nil {
		res.err = primaryErr
		res.annotation = unavailableAnnotation(primaryErr, sourcePrimary)
		recordResult(ctx, string(m.Name), sourcePrimary, outcomeUnavailable)

		return res
	}

	rec, err := a.fallback.Fetch(ctx, device, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no source available")

		a.logger.Warn().
			Err(err).
			AnErr("primary_error", primaryErr).
			Str("module", string(m.Name)).
			Str("serial", device.SerialNumber).
			Msg("Module unavailable from every source")

		res.err = fmt.Errorf("module %s: %w", m.Name, errors.Join(primaryErr, err))
		res.annotation = &models.ModuleAnnotation{
			Reason:  models.AnnotationUnavailable,
			Message: res.err.Error(),
			Source:  a.fallback.Name(),
		}
		recordResult(ctx, string(m.Name), a.fallback.Name(), outcomeUnavailable)

		return res
	}

	if rec == nil {
		res.annotation = &models.ModuleAnnotation{
			Reason:  models.AnnotationNoData,
			Message: primaryErr.Error(),
			Source:  a.fallback.Name(),
		}
		recordResult(ctx, string(m.Name), a.fallback.Name(), outcomeEmpty)

		return res
	}

	a.logger.Info().
		Str("module", string(m.Name)).
		Str("serial", device.SerialNumber).
		Str("reason", primaryErr.Error()).
		Msg("Serving module from degraded source")

	res.record = rec
	res.annotation = &models.ModuleAnnotation{
		Reason:  models.AnnotationDegraded,
		Message: primaryErr.Error(),
		Source:  a.fallback.Name(),
	}
	recordResult(ctx, string(m.Name), a.fallback.Name(), outcomeData)

	return res
}

// tryPrimary fills res from the primary source. A non-nil return is the
// reason the primary could not answer.
func (a *Aggregator) tryPrimary(ctx context.Context, device *models.CanonicalDevice, m models.ModuleConfig, res *moduleResult) error {
	if m.FallbackOnly {
		return fmt.Errorf("%w: %s: %w", models.ErrConfiguration, m.Name, errFallbackOnly)
	}

	br := a.breakers[m.Name]
	if !br.Allow() {
		recordBreakerSkip(ctx, string(m.Name))
		return fmt.Errorf("%w: %s: %w", models.ErrUpstreamUnavailable, m.Name, errBreakerOpen)
	}

	rec, err := a.primary.Fetch(ctx, device, m)

	switch {
	case ctx.Err() != nil:
		br.Release()
	case errors.Is(err, models.ErrUpstreamUnavailable):
		br.Failure()
	case errors.Is(err, models.ErrConfiguration):
		br.Release()
	default:
		br.Success()
	}

	if err != nil {
		return err
	}

	res.record = rec

	if rec == nil {
		res.annotation = &models.ModuleAnnotation{Reason: models.AnnotationNoData, Source: sourcePrimary}
		recordResult(ctx, string(m.Name), sourcePrimary, outcomeEmpty)
	} else {
		recordResult(ctx, string(m.Name), sourcePrimary, outcomeData)
	}

	return nil
}

func unavailableAnnotation(err error, source string) *models.ModuleAnnotation {
	reason := models.AnnotationUnavailable
	if errors.Is(err, models.ErrConfiguration) {
		reason = models.AnnotationNotConfig
	}

	return &models.ModuleAnnotation{Reason: reason, Message: err.Error(), Source: source}
}
