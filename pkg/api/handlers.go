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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	srHttp "github.com/carverauto/fleetview/pkg/http"
	"github.com/carverauto/fleetview/pkg/identity"
	"github.com/carverauto/fleetview/pkg/models"
	"github.com/carverauto/fleetview/pkg/namecache"
)

const (
	// maxNameLookup caps the serials accepted by one name lookup.
	maxNameLookup = 1000
	maxBodyBytes  = 64 << 10
)

var (
	errMissingNames = errors.New("names query parameter is required")
	errTooManyNames = errors.New("too many serials requested")
	errInvalidSync  = errors.New("sync must be true or false")
	errInvalidLimit = errors.New("limit must be a positive integer")
	errInvalidRange = errors.New("range must be a duration such as 24h or 7d")
	errInvalidBody  = errors.New("invalid request body")
)

func setClassificationHeaders(w http.ResponseWriter, id models.DeviceIdentifier) {
	w.Header().Set(ResolutionNeededHeader, strconv.FormatBool(id.ResolutionNeeded()))

	if id.ResolutionNeeded() {
		w.Header().Set(IdentifierKindHeader, string(id.Kind))
	}
}

// resolveDevice classifies and resolves the {identifier} path variable. It
// writes the error response itself and returns nil on failure.
func (s *APIServer) resolveDevice(w http.ResponseWriter, r *http.Request) *models.CanonicalDevice {
	if s.resolver == nil || s.aggregator == nil {
		writeUnavailable(w, "device service")
		return nil
	}

	raw := mux.Vars(r)["identifier"]

	id, err := identity.Parse(raw)
	if err != nil {
		s.writeAPIError(w, r, err)
		return nil
	}

	setClassificationHeaders(w, id)

	device, err := s.resolver.Resolve(r.Context(), id.Raw)
	if err != nil {
		s.writeAPIError(w, r, err)
		return nil
	}

	return device
}

func parseModules(raw string) []models.ModuleName {
	var out []models.ModuleName

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, models.ModuleName(part))
		}
	}

	return out
}

// handleDevice returns the aggregated view of one device.
func (s *APIServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	device := s.resolveDevice(w, r)
	if device == nil {
		return
	}

	view, err := s.aggregator.Aggregate(r.Context(), device, parseModules(r.URL.Query().Get("modules")))
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	w.Header().Set(ProvenanceHeader, string(view.Provenance))
	writeJSON(w, http.StatusOK, view)
}

// handleModule returns one module of one device, or null when it has no data.
func (s *APIServer) handleModule(w http.ResponseWriter, r *http.Request) {
	device := s.resolveDevice(w, r)
	if device == nil {
		return
	}

	module := models.ModuleName(mux.Vars(r)["module"])

	rec, err := s.aggregator.FetchModule(r.Context(), device, module)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	if rec == nil {
		w.Header().Set(ProvenanceHeader, string(models.ProvenanceNone))
		writeJSON(w, http.StatusOK, nil)

		return
	}

	w.Header().Set(ProvenanceHeader, string(rec.Provenance))
	writeJSON(w, http.StatusOK, rec)
}

// handleIdentifier reports how an identifier is classified without resolving it.
func (s *APIServer) handleIdentifier(w http.ResponseWriter, r *http.Request) {
	id, err := identity.Parse(mux.Vars(r)["identifier"])
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	setClassificationHeaders(w, id)
	writeJSON(w, http.StatusOK, models.IdentifierInfo{
		Identifier:       id.Raw,
		Kind:             id.Kind,
		ResolutionNeeded: id.ResolutionNeeded(),
	})
}

// handleNameLookup serves GET /api/devices?names=s1,s2&sync=true.
func (s *APIServer) handleNameLookup(w http.ResponseWriter, r *http.Request) {
	if s.names == nil {
		writeUnavailable(w, "name cache")
		return
	}

	q := r.URL.Query()

	var serials []string

	for _, part := range strings.Split(q.Get("names"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			serials = append(serials, part)
		}
	}

	if len(serials) == 0 {
		s.writeAPIError(w, r, fmt.Errorf("%w: %w", models.ErrValidation, errMissingNames))
		return
	}

	if len(serials) > maxNameLookup {
		s.writeAPIError(w, r, fmt.Errorf("%w: %w: %d > %d", models.ErrValidation, errTooManyNames, len(serials), maxNameLookup))
		return
	}

	sync := false

	if raw := strings.TrimSpace(q.Get("sync")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeAPIError(w, r, fmt.Errorf("%w: %w", models.ErrValidation, errInvalidSync))
			return
		}

		sync = v
	}

	var res namecache.Result

	if sync {
		var err error

		res, err = s.names.LookupSync(r.Context(), serials)
		if err != nil {
			if len(res.Names) == 0 {
				s.writeAPIError(w, r, err)
				return
			}

			s.logger.Warn().Err(err).Int("missing", len(res.Missing)).Msg("Serving partial name lookup")
		}
	} else {
		res = s.names.Lookup(r.Context(), serials)
	}

	writeJSON(w, http.StatusOK, models.NameLookupResponse{
		Names:    res.Names,
		Missing:  res.Missing,
		Complete: res.Complete(),
	})
}

// handleEvents serves GET /api/events?device=&kind=&limit=&range=.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event source")
		return
	}

	q := r.URL.Query()
	query := models.EventQuery{
		Device: q.Get("device"),
		Kind:   q.Get("kind"),
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeAPIError(w, r, fmt.Errorf("%w: %w", models.ErrValidation, errInvalidLimit))
			return
		}

		query.Limit = limit
	}

	if raw := strings.TrimSpace(q.Get("range")); raw != "" {
		d, err := models.ParseDurationWithDays(raw)
		if err != nil || d <= 0 {
			s.writeAPIError(w, r, fmt.Errorf("%w: %w", models.ErrValidation, errInvalidRange))
			return
		}

		query.Range = d
	}

	evs, err := s.events.Events(r.Context(), query)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	if evs == nil {
		evs = []models.Event{}
	}

	writeJSON(w, http.StatusOK, models.EventsResponse{Items: evs, Count: len(evs)})
}

// handleInvalidate applies a cache invalidation locally and broadcasts it.
func (s *APIServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.names == nil {
		writeUnavailable(w, "name cache")
		return
	}

	var req models.CacheInvalidationRequest

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		s.writeAPIError(w, r, fmt.Errorf("%w: %w: %w", models.ErrValidation, errInvalidBody, err))
		return
	}

	invalidated, err := s.names.Invalidate(req)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), req); err != nil {
			s.logger.Warn().
				Err(err).
				Str("request_id", srHttp.RequestIDFromContext(r.Context())).
				Msg("Failed to broadcast cache invalidation")
		}
	}

	s.logger.Info().
		Str("device_id", req.DeviceID).
		Str("serial_number", req.SerialNumber).
		Bool("invalidate_all", req.InvalidateAll).
		Strs("invalidated", invalidated).
		Msg("Cache invalidated")

	writeJSON(w, http.StatusOK, models.CacheInvalidationResponse{Invalidated: invalidated})
}
