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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName          = "fleetview.namecache"
	metricLookups      = "fleetview_namecache_lookups_total"
	metricFetches      = "fleetview_namecache_fetches_total"
	metricFetchLatency = "fleetview_namecache_fetch_duration_seconds"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	lookupCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	fetchCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	fetchHistogram metric.Float64Histogram
)

func initMeter() {
	meter := otel.Meter(meterName)

	lookups, err := meter.Int64Counter(
		metricLookups,
		metric.WithDescription("Serials looked up in the name cache by result"),
	)
	if err != nil {
		otel.Handle(err)
	}
	lookupCounter = lookups

	fetches, err := meter.Int64Counter(
		metricFetches,
		metric.WithDescription("Backend name fetches issued by the cache"),
	)
	if err != nil {
		otel.Handle(err)
	}
	fetchCounter = fetches

	hist, err := meter.Float64Histogram(
		metricFetchLatency,
		metric.WithDescription("Latency of backend name fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	fetchHistogram = hist
}

func recordLookup(ctx context.Context, hits, misses int) {
	meterOnce.Do(initMeter)
	if lookupCounter == nil {
		return
	}

	if hits > 0 {
		lookupCounter.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("result", "hit")))
	}

	if misses > 0 {
		lookupCounter.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("result", "miss")))
	}
}

func recordFetch(ctx context.Context, err error, elapsed time.Duration) {
	meterOnce.Do(initMeter)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	if fetchCounter != nil {
		fetchCounter.Add(ctx, 1, attrs)
	}

	if fetchHistogram != nil {
		fetchHistogram.Record(ctx, elapsed.Seconds(), attrs)
	}
}
