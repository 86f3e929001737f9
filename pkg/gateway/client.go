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

// Package gateway is the single outbound path to the backend data service.
// It attaches auth and no-cache headers, enforces a per-call timeout and
// classifies failures into the models error taxonomy. It never retries.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

const (
	tracerName      = "fleetview.gateway"
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 16 << 20
)

// Client performs authenticated calls against the backend data service.
type Client struct {
	baseURL        string
	apiKey         string
	apiKeyHeader   string
	identity       string
	identityHeader string
	timeout        time.Duration
	httpClient     HTTPClient
	logger         logger.Logger
	tracer         trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithLogger(log logger.Logger) Option {
	return func(cl *Client) {
		cl.logger = log
	}
}

// NewClient builds a Client from backend configuration. A missing base URL is
// accepted here and reported on every call as a configuration error.
func NewClient(cfg models.BackendConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:         cfg.APIKey,
		apiKeyHeader:   headerOrDefault(cfg.APIKeyHeader, "X-API-Key"),
		identity:       cfg.PlatformIdentity,
		identityHeader: headerOrDefault(cfg.IdentityHeader, "X-Platform-Identity"),
		timeout:        timeout,
		httpClient:     &http.Client{},
		logger:         logger.NewTestLogger(),
		tracer:         otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func headerOrDefault(h, def string) string {
	if strings.TrimSpace(h) == "" {
		return def
	}

	return h
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Call issues a GET against endpoint and returns the raw body of a 2xx
// response. Any other outcome is returned as *Error.
func (c *Client) Call(ctx context.Context, endpoint string, params url.Values, headers http.Header) ([]byte, error) {
	op := operationFrom(ctx)

	ctx, span := c.tracer.Start(ctx, "gateway.Call", trace.WithAttributes(
		attribute.String("backend.endpoint", endpoint),
		attribute.String("backend.operation", op),
	))
	defer span.End()

	start := time.Now()
	body, status, err := c.do(ctx, endpoint, params, headers)

	recordRequest(ctx, op, outcomeFor(err), time.Since(start))

	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeFor(err))

		c.logger.Debug().
			Err(err).
			Str("endpoint", endpoint).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("Backend call failed")

		return nil, err
	}

	span.SetStatus(codes.Ok, "")

	return body, nil
}

// GetJSON calls endpoint and decodes the JSON body into dst. A body that
// cannot be decoded is treated as an unavailable upstream.
func (c *Client) GetJSON(ctx context.Context, endpoint string, params url.Values, dst interface{}) error {
	body, err := c.Call(ctx, endpoint, params, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &Error{
			Endpoint: endpoint,
			Kind:     models.ErrUpstreamUnavailable,
			Err:      fmt.Errorf("%w: %w", errMalformedPayload, err),
		}
	}

	return nil
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, headers http.Header) ([]byte, int, error) {
	if c.baseURL == "" {
		return nil, 0, &Error{Endpoint: endpoint, Kind: models.ErrConfiguration, Err: errMissingBaseURL}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(endpoint, params), http.NoBody)
	if err != nil {
		return nil, 0, &Error{Endpoint: endpoint, Kind: models.ErrConfiguration, Err: fmt.Errorf("%w: %w", errRequestBuild, err)}
	}

	c.applyHeaders(req, headers)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &Error{Endpoint: endpoint, Kind: models.ErrUpstreamUnavailable, Err: fmt.Errorf("%w: %w", errBackendRequest, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Kind:       models.ErrUpstreamUnavailable,
			Err:        fmt.Errorf("%w: %w", errResponseBodyRead, err),
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Kind:       classifyStatus(resp.StatusCode),
			Err:        fmt.Errorf("%w: %s", errUnexpectedStatus, snippet(body)),
		}
	}

	return body, resp.StatusCode, nil
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	return u
}

// applyHeaders sets caller headers first so auth and cache directives cannot
// be overridden. The shared secret wins over the platform identity.
func (c *Client) applyHeaders(req *http.Request, headers http.Header) {
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	switch {
	case c.apiKey != "":
		req.Header.Set(c.apiKeyHeader, c.apiKey)
		req.Header.Del(c.identityHeader)
	case c.identity != "":
		req.Header.Set(c.identityHeader, c.identity)
	}
}

func snippet(body []byte) string {
	const maxSnippet = 256

	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}

	return s
}

type operationKey struct{}

// WithOperation labels calls made with ctx for metrics, so per-device paths
// do not explode label cardinality.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}

	return "call"
}
