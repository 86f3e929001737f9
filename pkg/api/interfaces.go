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

package api

import (
	"context"

	"github.com/carverauto/fleetview/pkg/models"
	"github.com/carverauto/fleetview/pkg/namecache"
)

//go:generate mockgen -destination=mock_api.go -package=api github.com/carverauto/fleetview/pkg/api DeviceResolver,ModuleAggregator,NameCache,InvalidationPublisher

// DeviceResolver maps a raw identifier to its canonical device.
type DeviceResolver interface {
	Resolve(ctx context.Context, raw string) (*models.CanonicalDevice, error)
}

// ModuleAggregator assembles device views and single modules.
type ModuleAggregator interface {
	Aggregate(ctx context.Context, device *models.CanonicalDevice, modules []models.ModuleName) (*models.DeviceView, error)
	FetchModule(ctx context.Context, device *models.CanonicalDevice, module models.ModuleName) (*models.ModuleRecord, error)
}

// NameCache serves serial to name lookups.
type NameCache interface {
	Lookup(ctx context.Context, serials []string) namecache.Result
	LookupSync(ctx context.Context, serials []string) (namecache.Result, error)
	Invalidate(req models.CacheInvalidationRequest) ([]string, error)
}

// InvalidationPublisher forwards an applied invalidation to other replicas.
type InvalidationPublisher interface {
	Publish(ctx context.Context, req models.CacheInvalidationRequest) error
}
