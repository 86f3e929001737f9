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

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	// Error message
	Message string `json:"message"`
	// HTTP status code
	Status int `json:"status"`
}

// NameLookupResponse is returned by the bulk name lookup route.
type NameLookupResponse struct {
	Names    map[string]string `json:"names"`
	Missing  []string          `json:"missing"`
	Complete bool              `json:"complete"`
}

// IdentifierInfo describes how a raw identifier was classified.
type IdentifierInfo struct {
	Identifier       string         `json:"identifier"`
	Kind             IdentifierKind `json:"kind"`
	ResolutionNeeded bool           `json:"resolution_needed"`
}

// EventsResponse wraps a raw event slice.
type EventsResponse struct {
	Items []Event `json:"items"`
	Count int     `json:"count"`
}
