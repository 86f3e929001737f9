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
	"strings"
	"time"
)

// Event is an append-only, time-ordered record emitted for a device. Events are
// served raw and also back the fallback extraction of module data.
type Event struct {
	ID        string          `json:"id"`
	Device    string          `json:"device"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TaggedFor reports whether the event carries data for the given module. An
// event is tagged when its kind equals the module name or is namespaced under
// it ("installs" or "installs.package_added").
func (e *Event) TaggedFor(module ModuleName) bool {
	kind := strings.ToLower(strings.TrimSpace(e.Kind))
	name := strings.ToLower(string(module))

	if kind == "" || name == "" {
		return false
	}

	return kind == name || strings.HasPrefix(kind, name+".")
}

// EventQuery filters an event slice.
type EventQuery struct {
	Device string        `json:"device,omitempty"`
	Kind   string        `json:"kind,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Range  time.Duration `json:"range,omitempty"`
}

// CloudEvent is the envelope used on the NATS invalidation bus.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype,omitempty"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}
