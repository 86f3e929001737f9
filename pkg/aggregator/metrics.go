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
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName           = "fleetview.aggregator"
	metricModuleResults = "fleetview_aggregator_module_results_total"
	metricBreakerOpen   = "fleetview_aggregator_breaker_skips_total"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	resultCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	skipCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	counter, err := meter.Int64Counter(
		metricModuleResults,
		metric.WithDescription("Module slots filled per source and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	resultCounter = counter

	skips, err := meter.Int64Counter(
		metricBreakerOpen,
		metric.WithDescription("Primary calls skipped because the module circuit was open"),
	)
	if err != nil {
		otel.Handle(err)
	}
	skipCounter = skips
}

func recordResult(ctx context.Context, module, source, outcome string) {
	meterOnce.Do(initMeter)

	if resultCounter == nil {
		return
	}

	resultCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func recordBreakerSkip(ctx context.Context, module string) {
	meterOnce.Do(initMeter)

	if skipCounter == nil {
		return
	}

	skipCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}
