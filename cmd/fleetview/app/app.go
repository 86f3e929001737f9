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

// Package app wires the fleetview service together.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/carverauto/fleetview/pkg/aggregator"
	"github.com/carverauto/fleetview/pkg/api"
	"github.com/carverauto/fleetview/pkg/config"
	"github.com/carverauto/fleetview/pkg/events"
	"github.com/carverauto/fleetview/pkg/gateway"
	srHttp "github.com/carverauto/fleetview/pkg/http"
	"github.com/carverauto/fleetview/pkg/identity"
	"github.com/carverauto/fleetview/pkg/lifecycle"
	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
	"github.com/carverauto/fleetview/pkg/namecache"
	"github.com/carverauto/fleetview/pkg/natsutil"
	"github.com/carverauto/fleetview/pkg/version"
)

const serviceName = "fleetview"

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

type poolCloser struct{ pool *pgxpool.Pool }

func (p poolCloser) Close() error {
	p.pool.Close()
	return nil
}

type natsCloser struct{ nc *nats.Conn }

func (n natsCloser) Close() error {
	return n.nc.Drain()
}

// Run boots the fleetview service using the provided options.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadFleetView(ctx, opts.ConfigPath, nil)
	if err != nil {
		return err
	}

	if err := lifecycle.InitializeLogger(ctx, cfg.Logging); err != nil {
		return err
	}

	basicLogger, err := lifecycle.CreateComponentLogger(ctx, "fleetview-main", cfg.Logging)
	if err != nil {
		return err
	}

	var otelCfg *logger.OTelConfig
	if cfg.Logging != nil {
		otelCfg = &cfg.Logging.OTel
	}

	if _, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Logger:         basicLogger,
		OTel:           otelCfg,
	}); err != nil {
		return err
	}

	if _, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           otelCfg,
	}); err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
		return err
	}

	defer func() {
		if shutdownErr := lifecycle.ShutdownLogger(); shutdownErr != nil {
			basicLogger.Error().Err(shutdownErr).Msg("Error shutting down logger")
		}
	}()

	componentLogger := func(name string) logger.Logger {
		l, lerr := lifecycle.CreateComponentLogger(ctx, name, cfg.Logging)
		if lerr != nil {
			return basicLogger
		}

		return l
	}

	var closers []lifecycle.Closer

	backend := gateway.NewClient(cfg.Backend, gateway.WithLogger(componentLogger("gateway")))
	if !backend.Configured() {
		basicLogger.Warn().Msg("Backend base URL is not configured; every backend call will fail with a configuration error")
	}

	resolver := identity.NewResolver(backend, identity.WithLogger(componentLogger("identity")))

	eventSource, eventClosers, err := buildEventSource(ctx, cfg, backend, componentLogger("events"))
	if err != nil {
		return err
	}

	closers = append(closers, eventClosers...)

	names := namecache.New(namecache.NewGatewayFetcher(backend),
		namecache.WithTTL(time.Duration(cfg.NameCache.TTL)),
		namecache.WithPopulateTimeout(time.Duration(cfg.NameCache.PopulateTimeout)),
		namecache.WithLogger(componentLogger("namecache")),
	)

	agg := buildAggregator(cfg, backend, eventSource, componentLogger("aggregator"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	apiOptions := []func(server *api.APIServer){
		api.WithResolver(resolver),
		api.WithAggregator(agg),
		api.WithNameCache(names),
		api.WithEventSource(eventSource),
		api.WithMetrics(srHttp.NewMetrics(registry)),
		api.WithLogger(componentLogger("api")),
	}

	if cfg.NATS != nil && cfg.NATS.Enabled {
		bus, busClosers, err := startInvalidationBus(ctx, cfg.NATS, names, componentLogger("nats"))
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}

			return err
		}

		closers = append(closers, busClosers...)
		apiOptions = append(apiOptions, api.WithInvalidationPublisher(bus))
	}

	apiServer := api.NewAPIServer(cfg.CORS, apiOptions...)

	basicLogger.Info().
		Str("version", version.GetFullVersion()).
		Strs("modules", moduleNames(cfg)).
		Msg("fleetview configured")

	return lifecycle.RunHTTPServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: serviceName,
		Handler:     apiServer.Handler(),
		Logger:      componentLogger("http"),
		Closers:     closers,
	})
}

// buildEventSource prefers the direct Postgres store when one is configured.
func buildEventSource(ctx context.Context, cfg *models.FleetViewConfig, backend gateway.Backend,
	log logger.Logger) (events.Source, []lifecycle.Closer, error) {
	if cfg.Events.Database == nil || cfg.Events.Database.Host == "" {
		return events.NewGatewaySource(backend), nil, nil
	}

	pool, err := events.NewPool(ctx, cfg.Events.Database, log)
	if err != nil {
		return nil, nil, err
	}

	store, err := events.NewPostgresStore(pool, cfg.Events.Table, log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	return store, []lifecycle.Closer{poolCloser{pool: pool}}, nil
}

func buildAggregator(cfg *models.FleetViewConfig, backend gateway.Backend, src events.Source,
	log logger.Logger) *aggregator.Aggregator {
	opts := []aggregator.Option{
		aggregator.WithLogger(log),
		aggregator.WithBreakerConfig(aggregator.BreakerConfig{
			FailureThreshold: cfg.Aggregation.BreakerThreshold,
			Cooldown:         time.Duration(cfg.Aggregation.BreakerCooldown),
		}),
	}

	if !cfg.Aggregation.DisableFallback {
		opts = append(opts, aggregator.WithFallback(aggregator.NewEventFallbackSource(
			src,
			cfg.Aggregation.FallbackEventLimit,
			time.Duration(cfg.Aggregation.FallbackEventWindow),
		)))
	}

	return aggregator.New(cfg.Modules, aggregator.NewPrimarySource(backend), opts...)
}

func startInvalidationBus(ctx context.Context, cfg *models.NATSConfig, names *namecache.Cache,
	log logger.Logger) (*natsutil.InvalidationBus, []lifecycle.Closer, error) {
	nc, err := natsutil.Connect(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	bus, err := natsutil.NewInvalidationBus(nc, cfg, log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	if err := bus.Subscribe(names); err != nil {
		nc.Close()
		return nil, nil, err
	}

	// Closers run in reverse: unsubscribe first, then drain the connection.
	return bus, []lifecycle.Closer{natsCloser{nc: nc}, bus}, nil
}

func moduleNames(cfg *models.FleetViewConfig) []string {
	out := make([]string, 0, len(cfg.Modules))
	for _, m := range cfg.ModuleNames() {
		out = append(out, string(m))
	}

	return out
}
