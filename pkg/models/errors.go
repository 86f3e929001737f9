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

import "errors"

// Error taxonomy shared by every component. Components wrap these with %w and
// the API layer maps them onto response codes with errors.Is.
var (
	// ErrConfiguration marks a missing required backend setting. Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks an identifier or module that is genuinely absent.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable marks a backend network failure, timeout or 5xx.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrValidation marks a malformed identifier or missing parameter.
	ErrValidation = errors.New("validation error")
	// ErrAmbiguousIdentifier marks an identifier matching different devices
	// under different identifier kinds.
	ErrAmbiguousIdentifier = errors.New("ambiguous identifier")
)
