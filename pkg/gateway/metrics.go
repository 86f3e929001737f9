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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName             = "fleetview.gateway"
	metricRequestsTotal   = "fleetview_gateway_requests_total"
	metricRequestDuration = "fleetview_gateway_request_duration_seconds"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	requestCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	requestHistogram metric.Float64Histogram
)

func initMeter() {
	meter := otel.Meter(meterName)

	counter, err := meter.Int64Counter(
		metricRequestsTotal,
		metric.WithDescription("Backend calls issued through the gateway"),
	)
	if err != nil {
		otel.Handle(err)
	}
	requestCounter = counter

	hist, err := meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Latency of backend calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	requestHistogram = hist
}

func recordRequest(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	meterOnce.Do(initMeter)

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)

	if requestCounter != nil {
		requestCounter.Add(ctx, 1, attrs)
	}

	if requestHistogram != nil {
		requestHistogram.Record(ctx, elapsed.Seconds(), attrs)
	}
}
