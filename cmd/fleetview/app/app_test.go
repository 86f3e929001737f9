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

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetview/pkg/events"
	"github.com/carverauto/fleetview/pkg/gateway"
	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

func testConfig() *models.FleetViewConfig {
	cfg := &models.FleetViewConfig{}
	cfg.ApplyDefaults()

	return cfg
}

func TestBuildEventSourceDefaultsToGateway(t *testing.T) {
	cfg := testConfig()
	backend := gateway.NewClient(cfg.Backend)

	src, closers, err := buildEventSource(context.Background(), cfg, backend, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Empty(t, closers)
	assert.IsType(t, &events.GatewaySource{}, src)
}

func TestBuildAggregatorServesConfiguredModules(t *testing.T) {
	cfg := testConfig()
	cfg.Aggregation.DisableFallback = true

	backend := gateway.NewClient(cfg.Backend)
	agg := buildAggregator(cfg, backend, events.NewGatewaySource(backend), logger.NewTestLogger())

	assert.Equal(t, models.DefaultModules(), agg.Modules())
	assert.Equal(t, []string{"hardware", "network", "installs", "security", "peripherals"}, moduleNames(cfg))

	_, err := agg.FetchModule(context.Background(), &models.CanonicalDevice{ID: "dev-1"}, models.ModuleHardware)
	require.ErrorIs(t, err, models.ErrConfiguration, "no base URL and no fallback")
}
