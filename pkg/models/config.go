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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/fleetview/pkg/logger"
)

// Duration is a time.Duration that unmarshals from "10s" style strings or
// from a number of nanoseconds.
type Duration time.Duration

var (
	errInvalidDuration    = errors.New("invalid duration")
	errMissingListenAddr  = errors.New("listen_addr is required")
	errEmptyModuleName    = errors.New("module name must not be empty")
	errDuplicateModule    = errors.New("duplicate module")
	errNegativeDuration   = errors.New("duration must not be negative")
	errMissingNATSSubject = errors.New("nats.subject is required when nats is enabled")
	errMissingNATSURL     = errors.New("nats.url is required when nats is enabled")
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := ParseDurationWithDays(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ParseDurationWithDays accepts everything time.ParseDuration does plus a
// plain "<n>d" day suffix.
func ParseDurationWithDays(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	if strings.HasSuffix(value, "d") {
		var days int
		if _, err := fmt.Sscanf(value, "%dd", &days); err == nil && fmt.Sprintf("%dd", days) == value {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}

	return time.ParseDuration(value)
}

const (
	defaultListenAddr          = ":8090"
	defaultBackendTimeout      = 10 * time.Second
	defaultBreakerThreshold    = 3
	defaultBreakerCooldown     = 30 * time.Second
	defaultFallbackEventLimit  = 500
	defaultFallbackEventWindow = 7 * 24 * time.Hour
	defaultPopulateTimeout     = 30 * time.Second
	defaultNATSSubject         = "fleetview.cache.invalidate"
	defaultAPIKeyHeader        = "X-API-Key"
	defaultIdentityHeader      = "X-Platform-Identity"
)

// FleetViewConfig is the root configuration for the fleetview service.
type FleetViewConfig struct {
	ListenAddr  string            `json:"listen_addr"`
	Backend     BackendConfig     `json:"backend"`
	Modules     []ModuleConfig    `json:"modules"`
	Aggregation AggregationConfig `json:"aggregation"`
	NameCache   NameCacheConfig   `json:"name_cache"`
	Events      EventsConfig      `json:"events"`
	NATS        *NATSConfig       `json:"nats,omitempty"`
	CORS        CORSConfig        `json:"cors"`
	Logging     *logger.Config    `json:"logging,omitempty"`
}

// BackendConfig describes the backend data service behind the Gateway.
// APIKey and PlatformIdentity are mutually exclusive on the wire; APIKey wins.
type BackendConfig struct {
	BaseURL          string   `json:"base_url"`
	APIKey           string   `json:"api_key,omitempty"`
	APIKeyHeader     string   `json:"api_key_header,omitempty"`
	PlatformIdentity string   `json:"platform_identity,omitempty"`
	IdentityHeader   string   `json:"identity_header,omitempty"`
	Timeout          Duration `json:"timeout"`
}

// ModuleConfig describes one per-domain dataset. Endpoint is a path template
// where "{id}" is replaced by the device id; FallbackOnly marks a module with
// no dedicated endpoint configured.
type ModuleConfig struct {
	Name         ModuleName `json:"name"`
	Endpoint     string     `json:"endpoint,omitempty"`
	FallbackOnly bool       `json:"fallback_only,omitempty"`
}

// AggregationConfig tunes the module aggregator.
type AggregationConfig struct {
	BreakerThreshold    int      `json:"breaker_threshold"`
	BreakerCooldown     Duration `json:"breaker_cooldown"`
	FallbackEventLimit  int      `json:"fallback_event_limit"`
	FallbackEventWindow Duration `json:"fallback_event_window"`
	DisableFallback     bool     `json:"disable_fallback,omitempty"`
}

// NameCacheConfig tunes the serial→name cache. A zero TTL disables expiry.
type NameCacheConfig struct {
	TTL             Duration `json:"ttl"`
	PopulateTimeout Duration `json:"populate_timeout"`
}

// EventsConfig optionally points event reads at the backend's Postgres store
// instead of the HTTP events endpoint.
type EventsConfig struct {
	Database *CNPGDatabase `json:"database,omitempty"`
	Table    string        `json:"table,omitempty"`
}

// CNPGDatabase describes a Postgres (CloudNativePG) connection.
type CNPGDatabase struct {
	Host               string            `json:"host"`
	Port               int               `json:"port"`
	Database           string            `json:"database"`
	Username           string            `json:"username"`
	Password           string            `json:"password"`
	SSLMode            string            `json:"ssl_mode"`
	ApplicationName    string            `json:"application_name"`
	MaxConnections     int32             `json:"max_connections"`
	MinConnections     int32             `json:"min_connections"`
	MaxConnLifetime    Duration          `json:"max_conn_lifetime"`
	HealthCheckPeriod  Duration          `json:"health_check_period"`
	StatementTimeout   Duration          `json:"statement_timeout"`
	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty"`
	CertDir            string            `json:"cert_dir,omitempty"`
	TLS                *TLSConfig        `json:"tls,omitempty"`
}

// TLSConfig names client certificate material. Relative paths resolve
// against the owning section's CertDir.
type TLSConfig struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
}

// NATSConfig enables the cross-replica cache invalidation bus.
type NATSConfig struct {
	Enabled    bool       `json:"enabled"`
	URL        string     `json:"url"`
	Subject    string     `json:"subject"`
	Source     string     `json:"source,omitempty"`
	CertDir    string     `json:"cert_dir,omitempty"`
	ServerName string     `json:"server_name,omitempty"`
	TLS        *TLSConfig `json:"tls,omitempty"`
}

// CORSConfig represents CORS configuration for the HTTP API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// ApplyDefaults fills unset fields with service defaults.
func (c *FleetViewConfig) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = Duration(defaultBackendTimeout)
	}

	if c.Backend.APIKeyHeader == "" {
		c.Backend.APIKeyHeader = defaultAPIKeyHeader
	}

	if c.Backend.IdentityHeader == "" {
		c.Backend.IdentityHeader = defaultIdentityHeader
	}

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")

	if len(c.Modules) == 0 {
		for _, name := range DefaultModules() {
			c.Modules = append(c.Modules, ModuleConfig{Name: name})
		}
	}

	if c.Aggregation.BreakerThreshold <= 0 {
		c.Aggregation.BreakerThreshold = defaultBreakerThreshold
	}

	if c.Aggregation.BreakerCooldown <= 0 {
		c.Aggregation.BreakerCooldown = Duration(defaultBreakerCooldown)
	}

	if c.Aggregation.FallbackEventLimit <= 0 {
		c.Aggregation.FallbackEventLimit = defaultFallbackEventLimit
	}

	if c.Aggregation.FallbackEventWindow <= 0 {
		c.Aggregation.FallbackEventWindow = Duration(defaultFallbackEventWindow)
	}

	if c.NameCache.PopulateTimeout <= 0 {
		c.NameCache.PopulateTimeout = Duration(defaultPopulateTimeout)
	}

	if c.NATS != nil && c.NATS.Subject == "" {
		c.NATS.Subject = defaultNATSSubject
	}
}

// Validate checks the configuration after defaults have been applied. A
// missing backend base URL is deliberately not rejected here: the Gateway
// reports it per call as a configuration error.
func (c *FleetViewConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errMissingListenAddr
	}

	seen := make(map[ModuleName]struct{}, len(c.Modules))

	for _, m := range c.Modules {
		name := ModuleName(strings.TrimSpace(string(m.Name)))
		if name == "" {
			return errEmptyModuleName
		}

		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", errDuplicateModule, name)
		}

		seen[name] = struct{}{}
	}

	if c.Backend.Timeout < 0 || c.NameCache.TTL < 0 || c.Aggregation.BreakerCooldown < 0 {
		return errNegativeDuration
	}

	if c.NATS != nil && c.NATS.Enabled {
		if strings.TrimSpace(c.NATS.URL) == "" {
			return errMissingNATSURL
		}

		if strings.TrimSpace(c.NATS.Subject) == "" {
			return errMissingNATSSubject
		}
	}

	return nil
}

// ModuleNames returns the configured module names in configuration order.
func (c *FleetViewConfig) ModuleNames() []ModuleName {
	names := make([]ModuleName, 0, len(c.Modules))
	for _, m := range c.Modules {
		names = append(names, m.Name)
	}

	return names
}
