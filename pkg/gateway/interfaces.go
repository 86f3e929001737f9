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
	"context"
	"net/http"
	"net/url"
)

//go:generate mockgen -destination=mock_gateway.go -package=gateway github.com/carverauto/fleetview/pkg/gateway HTTPClient,Backend

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backend is the call surface components depend on. *Client implements it.
type Backend interface {
	Call(ctx context.Context, endpoint string, params url.Values, headers http.Header) ([]byte, error)
	GetJSON(ctx context.Context, endpoint string, params url.Values, dst interface{}) error
}
