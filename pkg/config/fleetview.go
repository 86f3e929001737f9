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

package config

import (
	"context"
	"os"
	"strings"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

const (
	envAPIKey           = "FLEETVIEW_API_KEY"
	envPlatformIdentity = "FLEETVIEW_PLATFORM_IDENTITY"
	envBackendURL       = "FLEETVIEW_BACKEND_URL"
)

// LoadFleetView loads the fleetview service configuration. Backend secrets
// are taken from the environment when present so they need not live in the
// config file.
func LoadFleetView(ctx context.Context, path string, log logger.Logger) (*models.FleetViewConfig, error) {
	var cfg models.FleetViewConfig

	loader := NewConfig(log)
	loader.defaultLoader = &FileConfigLoader{Strict: true}

	if err := loader.LoadAndValidate(ctx, path, &cfg); err != nil {
		return nil, err
	}

	applySecretOverrides(&cfg)

	return &cfg, nil
}

func applySecretOverrides(cfg *models.FleetViewConfig) {
	if v := strings.TrimSpace(os.Getenv(envAPIKey)); v != "" {
		cfg.Backend.APIKey = v
	}

	if v := strings.TrimSpace(os.Getenv(envPlatformIdentity)); v != "" {
		cfg.Backend.PlatformIdentity = v
	}

	if v := strings.TrimSpace(os.Getenv(envBackendURL)); v != "" {
		cfg.Backend.BaseURL = strings.TrimRight(v, "/")
	}
}
