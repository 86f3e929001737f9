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

// Package events reads the append-only device event stream, either through
// the backend gateway or directly from the backend's Postgres store.
package events

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/fleetview/pkg/models"
)

const (
	// DefaultLimit applies when a query sets no limit.
	DefaultLimit = 100
	// MaxLimit caps any single read.
	MaxLimit = 1000
)

// Source returns events matching q, oldest first.
type Source interface {
	Events(ctx context.Context, q models.EventQuery) ([]models.Event, error)
}

// NormalizeQuery trims fields and clamps the limit.
func NormalizeQuery(q models.EventQuery) models.EventQuery {
	q.Device = strings.TrimSpace(q.Device)
	q.Kind = strings.TrimSpace(q.Kind)

	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	if q.Range < 0 {
		q.Range = 0
	}

	return q
}

// Filter applies q to an already fetched slice: device match, kind tag,
// range relative to now, then keeps the newest q.Limit events in ascending
// time order. The input slice is not modified.
func Filter(in []models.Event, q models.EventQuery, now time.Time) []models.Event {
	q = NormalizeQuery(q)

	var since time.Time
	if q.Range > 0 {
		since = now.Add(-q.Range)
	}

	out := make([]models.Event, 0, len(in))

	for i := range in {
		ev := in[i]

		if q.Device != "" && !strings.EqualFold(ev.Device, q.Device) {
			continue
		}

		if q.Kind != "" && !ev.TaggedFor(models.ModuleName(q.Kind)) {
			continue
		}

		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}

		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}

	return out
}
