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

// Package api provides the HTTP API server for fleetview
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carverauto/fleetview/pkg/events"
	srHttp "github.com/carverauto/fleetview/pkg/http"
	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

const (
	// ProvenanceHeader reports where the returned module data came from.
	ProvenanceHeader = "X-Data-Provenance"
	// ResolutionNeededHeader reports whether the identifier had to be resolved to a serial.
	ResolutionNeededHeader = "X-Identifier-Resolution-Needed"
	// IdentifierKindHeader names the identifier kind when resolution was needed.
	IdentifierKindHeader = "X-Identifier-Kind"
)

// APIServer serves the fleetview REST surface.
type APIServer struct {
	router     *mux.Router
	corsConfig models.CORSConfig
	resolver   DeviceResolver
	aggregator ModuleAggregator
	names      NameCache
	events     events.Source
	publisher  InvalidationPublisher
	metrics    *srHttp.Metrics
	logger     logger.Logger
}

// NewAPIServer creates a new API server instance with the given configuration
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: config,
		logger:     logger.NewTestLogger(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithResolver sets the identifier resolver.
func WithResolver(r DeviceResolver) func(server *APIServer) {
	return func(server *APIServer) {
		server.resolver = r
	}
}

// WithAggregator sets the module aggregator.
func WithAggregator(a ModuleAggregator) func(server *APIServer) {
	return func(server *APIServer) {
		server.aggregator = a
	}
}

// WithNameCache sets the serial to name cache.
func WithNameCache(c NameCache) func(server *APIServer) {
	return func(server *APIServer) {
		server.names = c
	}
}

// WithEventSource sets where raw events are read from.
func WithEventSource(src events.Source) func(server *APIServer) {
	return func(server *APIServer) {
		server.events = src
	}
}

// WithInvalidationPublisher broadcasts invalidations to other replicas.
func WithInvalidationPublisher(p InvalidationPublisher) func(server *APIServer) {
	return func(server *APIServer) {
		server.publisher = p
	}
}

// WithMetrics enables Prometheus request metrics and the /metrics route.
func WithMetrics(m *srHttp.Metrics) func(server *APIServer) {
	return func(server *APIServer) {
		server.metrics = m
	}
}

func WithLogger(log logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

// Handler returns the routed handler.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.setupMiddleware()

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(srHttp.NoCacheMiddleware)

	api.HandleFunc("/devices", s.handleNameLookup).Methods(http.MethodGet)
	api.HandleFunc("/devices/{identifier}", s.handleDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{identifier}/modules/{module}", s.handleModule).Methods(http.MethodGet)
	api.HandleFunc("/identifiers/{identifier}", s.handleIdentifier).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidate", s.handleInvalidate).Methods(http.MethodPost)
}

// setupMiddleware configures metrics, CORS and request logging.
func (s *APIServer) setupMiddleware() {
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	corsConfig := s.corsConfig
	log := s.logger

	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, corsConfig, log)
	})
}

func (*APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrAmbiguousIdentifier):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()

	if code == http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", srHttp.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")

		if !errors.Is(err, models.ErrConfiguration) {
			message = "internal server error"
		}
	}

	writeError(w, message, code)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		// Fallback in case encoding fails
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(data)
}

func writeUnavailable(w http.ResponseWriter, component string) {
	writeError(w, component+" unavailable", http.StatusServiceUnavailable)
}
