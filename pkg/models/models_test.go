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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationWithDays(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: " 90s ", want: 90 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "1.5d", wantErr: true},
		{in: "d", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDurationWithDays(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDurationJSON(t *testing.T) {
	var holder struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"2d","b":1000000000}`), &holder))
	assert.Equal(t, Duration(48*time.Hour), holder.A)
	assert.Equal(t, Duration(time.Second), holder.B)

	out, err := json.Marshal(holder.B)
	require.NoError(t, err)
	assert.JSONEq(t, `"1s"`, string(out))

	require.ErrorIs(t, json.Unmarshal([]byte(`{"a":true}`), &holder), errInvalidDuration)
}

func TestSummarizeProvenance(t *testing.T) {
	primary := &ModuleRecord{Provenance: ProvenancePrimary}
	fallback := &ModuleRecord{Provenance: ProvenanceFallback}

	tests := []struct {
		name    string
		modules map[ModuleName]*ModuleRecord
		want    Provenance
	}{
		{name: "empty", modules: map[ModuleName]*ModuleRecord{ModuleHardware: nil}, want: ProvenanceNone},
		{name: "primary", modules: map[ModuleName]*ModuleRecord{ModuleHardware: primary}, want: ProvenancePrimary},
		{name: "fallback", modules: map[ModuleName]*ModuleRecord{ModuleInstalls: fallback}, want: ProvenanceFallback},
		{
			name:    "mixed",
			modules: map[ModuleName]*ModuleRecord{ModuleHardware: primary, ModuleInstalls: fallback, ModuleNetwork: nil},
			want:    ProvenanceMixed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := &DeviceView{Modules: tt.modules}
			assert.Equal(t, tt.want, view.SummarizeProvenance())
		})
	}
}

func TestEventTaggedFor(t *testing.T) {
	ev := Event{Kind: "Installs.Update"}

	assert.True(t, ev.TaggedFor(ModuleInstalls))
	assert.False(t, ev.TaggedFor(ModuleHardware))
	assert.False(t, (&Event{Kind: "installsx"}).TaggedFor(ModuleInstalls))
	assert.False(t, (&Event{}).TaggedFor(ModuleInstalls))
}

func TestFleetViewConfigValidate(t *testing.T) {
	cfg := FleetViewConfig{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Modules, len(DefaultModules()))

	cfg.Modules = append(cfg.Modules, ModuleConfig{Name: " "})
	require.ErrorIs(t, cfg.Validate(), errEmptyModuleName)

	cfg = FleetViewConfig{NATS: &NATSConfig{Enabled: true}}
	cfg.ApplyDefaults()
	require.ErrorIs(t, cfg.Validate(), errMissingNATSURL)

	cfg.NATS.URL = "nats://localhost:4222"
	require.NoError(t, cfg.Validate())

	cfg.NameCache.TTL = Duration(-time.Second)
	require.ErrorIs(t, cfg.Validate(), errNegativeDuration)
}

func TestDeviceIdentifierResolutionNeeded(t *testing.T) {
	assert.False(t, DeviceIdentifier{Raw: "0F33V9G25083HJ", Kind: IdentifierSerial}.ResolutionNeeded())
	assert.True(t, DeviceIdentifier{Raw: "A-100", Kind: IdentifierAssetTag}.ResolutionNeeded())
}
