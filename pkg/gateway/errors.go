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

package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/carverauto/fleetview/pkg/models"
)

var (
	errMissingBaseURL   = errors.New("backend base URL is not configured")
	errUnexpectedStatus = errors.New("unexpected status code")
	errMalformedPayload = errors.New("malformed upstream payload")
	errRequestBuild     = errors.New("failed to build backend request")
	errResponseBodyRead = errors.New("failed to read backend response")
	errBackendRequest   = errors.New("backend request failed")
)

// Error is the failure type returned by every Client call. Kind is one of
// the models sentinels, so callers match it with errors.Is.
type Error struct {
	Endpoint   string
	StatusCode int
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backend %s", e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// classifyStatus maps a non-2xx status code to a taxonomy sentinel. 401 and
// 403 mean the gateway's own credentials were rejected.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return models.ErrNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return models.ErrConfiguration
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return models.ErrUpstreamUnavailable
	case code >= http.StatusInternalServerError:
		return models.ErrUpstreamUnavailable
	case code >= http.StatusBadRequest:
		return models.ErrValidation
	default:
		return models.ErrUpstreamUnavailable
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConfiguration):
		return "not_configured"
	case errors.Is(err, models.ErrValidation):
		return "rejected"
	default:
		return "unavailable"
	}
}
