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

package models

import (
	"encoding/json"
	"time"
)

// IdentifierKind classifies a raw device identifier.
type IdentifierKind string

const (
	IdentifierSerial   IdentifierKind = "serial"
	IdentifierUUID     IdentifierKind = "uuid"
	IdentifierAssetTag IdentifierKind = "assetTag"
)

// DeviceIdentifier is a raw identifier plus its classification. It is computed
// per request and never persisted.
type DeviceIdentifier struct {
	Raw  string         `json:"identifier"`
	Kind IdentifierKind `json:"kind"`
}

// ResolutionNeeded reports whether the identifier must be mapped to a serial
// number before the device can be addressed.
func (d DeviceIdentifier) ResolutionNeeded() bool {
	return d.Kind != IdentifierSerial
}

// DeviceStatus is the health status derived from a device's last check-in.
type DeviceStatus string

const (
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusStale   DeviceStatus = "stale"
	DeviceStatusMissing DeviceStatus = "missing"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// ModuleName names a per-domain dataset attached to a device.
type ModuleName string

const (
	ModuleHardware    ModuleName = "hardware"
	ModuleNetwork     ModuleName = "network"
	ModuleInstalls    ModuleName = "installs"
	ModuleSecurity    ModuleName = "security"
	ModulePeripherals ModuleName = "peripherals"
)

// DefaultModules is the module set served when configuration does not name one.
func DefaultModules() []ModuleName {
	return []ModuleName{ModuleHardware, ModuleNetwork, ModuleInstalls, ModuleSecurity, ModulePeripherals}
}

// Provenance tags where a module record came from.
type Provenance string

const (
	ProvenancePrimary  Provenance = "primary"
	ProvenanceFallback Provenance = "fallback"
	ProvenanceMixed    Provenance = "mixed"
	ProvenanceNone     Provenance = "none"
)

// CanonicalDevice is the single authoritative record a raw identifier resolves to.
// SerialNumber is the stable unique key; ID may be a backend surrogate.
type CanonicalDevice struct {
	ID           string                       `json:"id"`
	SerialNumber string                       `json:"serial_number"`
	Name         string                       `json:"name,omitempty"`
	AssetTag     string                       `json:"asset_tag,omitempty"`
	UUID         string                       `json:"uuid,omitempty"`
	Status       DeviceStatus                 `json:"status"`
	LastSeen     *time.Time                   `json:"last_seen,omitempty"`
	Modules      map[ModuleName]*ModuleRecord `json:"modules,omitempty"`
}

// ModuleRecord is one domain dataset for one device. Data is opaque to this
// service and passed through as-is.
type ModuleRecord struct {
	DeviceID    string          `json:"device_id"`
	ModuleName  ModuleName      `json:"module_name"`
	Data        json.RawMessage `json:"data"`
	CollectedAt time.Time       `json:"collected_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Provenance  Provenance      `json:"provenance"`
}

// ModuleAnnotation explains why a module slot in a DeviceView is null or degraded.
type ModuleAnnotation struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
}

const (
	AnnotationNoData      = "no_data"
	AnnotationUnavailable = "upstream_unavailable"
	AnnotationNotConfig   = "not_configured"
	AnnotationDegraded    = "degraded_source"
	AnnotationFailed      = "failed"
)

// DeviceView is the aggregated response for a single device. Every requested
// module appears in Modules; absent data is an explicit null.
type DeviceView struct {
	ID           string                          `json:"id"`
	SerialNumber string                          `json:"serial_number"`
	Name         string                          `json:"name,omitempty"`
	AssetTag     string                          `json:"asset_tag,omitempty"`
	UUID         string                          `json:"uuid,omitempty"`
	Status       DeviceStatus                    `json:"status"`
	LastSeen     *time.Time                      `json:"last_seen,omitempty"`
	Modules      map[ModuleName]*ModuleRecord    `json:"modules"`
	Annotations  map[ModuleName]ModuleAnnotation `json:"annotations,omitempty"`
	Provenance   Provenance                      `json:"provenance"`
	GeneratedAt  time.Time                       `json:"generated_at"`
}

// SummarizeProvenance folds the provenance of every populated module into one tag.
func (v *DeviceView) SummarizeProvenance() Provenance {
	var primary, fallback bool

	for _, rec := range v.Modules {
		if rec == nil {
			continue
		}

		switch rec.Provenance {
		case ProvenanceFallback:
			fallback = true
		default:
			primary = true
		}
	}

	switch {
	case primary && fallback:
		return ProvenanceMixed
	case fallback:
		return ProvenanceFallback
	case primary:
		return ProvenancePrimary
	default:
		return ProvenanceNone
	}
}

// DeviceNameRecord is one row of the backend bulk name lookup.
type DeviceNameRecord struct {
	DeviceID     string `json:"id"`
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
}

// NameCacheEntry is an advisory serial→name mapping.
type NameCacheEntry struct {
	Serial      string    `json:"serial"`
	DeviceID    string    `json:"device_id,omitempty"`
	Name        string    `json:"name"`
	PopulatedAt time.Time `json:"populated_at"`
}

// CacheInvalidationRequest selects which name cache entries to drop. Exactly one
// selector is meaningful per call.
type CacheInvalidationRequest struct {
	DeviceID      string `json:"device_id,omitempty"`
	SerialNumber  string `json:"serial_number,omitempty"`
	InvalidateAll bool   `json:"invalidate_all,omitempty"`
}

// CacheInvalidationResponse lists the cache domains an invalidation touched.
type CacheInvalidationResponse struct {
	Invalidated []string `json:"invalidated"`
}
