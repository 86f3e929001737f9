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

// Package status derives a device health status from its last check-in.
package status

import (
	"time"

	"github.com/carverauto/fleetview/pkg/models"
)

const (
	// ActiveWindow is the largest elapsed time still reported as active.
	ActiveWindow = 24 * time.Hour
	// StaleWindow is the largest elapsed time still reported as stale.
	StaleWindow = 7 * 24 * time.Hour
)

// Compute maps the elapsed time since lastSeen onto a DeviceStatus. A nil
// lastSeen is unknown; a timestamp in the future counts as active.
func Compute(lastSeen *time.Time, now time.Time) models.DeviceStatus {
	if lastSeen == nil || lastSeen.IsZero() {
		return models.DeviceStatusUnknown
	}

	elapsed := now.Sub(*lastSeen)

	switch {
	case elapsed <= ActiveWindow:
		return models.DeviceStatusActive
	case elapsed <= StaleWindow:
		return models.DeviceStatusStale
	default:
		return models.DeviceStatusMissing
	}
}
