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

// Package natsutil carries name cache invalidations between fleetview
// replicas over NATS.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

const (
	// InvalidationEventType is the CloudEvent type of an invalidation broadcast.
	InvalidationEventType = "com.carverauto.fleetview.cache.invalidate"
	// InstanceHeader carries the publishing replica's id so it can skip its own messages.
	InstanceHeader = "Fleetview-Instance"

	defaultSource = "fleetview"
)

var (
	errNilConn         = errors.New("nats connection is nil")
	errAlreadyAttached = errors.New("invalidation bus already subscribed")
)

// Invalidator applies an invalidation locally.
type Invalidator interface {
	Invalidate(req models.CacheInvalidationRequest) ([]string, error)
}

// InvalidationBus publishes local invalidations and applies remote ones.
type InvalidationBus struct {
	nc         *nats.Conn
	subject    string
	source     string
	instanceID string
	logger     logger.Logger
	nowFn      func() time.Time

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewInvalidationBus binds a bus to an open connection.
func NewInvalidationBus(nc *nats.Conn, cfg *models.NATSConfig, log logger.Logger) (*InvalidationBus, error) {
	if nc == nil {
		return nil, errNilConn
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	source := defaultSource
	subject := ""

	if cfg != nil {
		subject = strings.TrimSpace(cfg.Subject)

		if s := strings.TrimSpace(cfg.Source); s != "" {
			source = s
		}
	}

	if subject == "" {
		return nil, fmt.Errorf("%w: nats subject is required", models.ErrConfiguration)
	}

	return &InvalidationBus{
		nc:         nc,
		subject:    subject,
		source:     source,
		instanceID: uuid.New().String(),
		logger:     log,
		nowFn:      time.Now,
	}, nil
}

// InstanceID identifies this replica on the bus.
func (b *InvalidationBus) InstanceID() string {
	return b.instanceID
}

// Publish broadcasts req to the other replicas and waits for the server to
// accept it.
func (b *InvalidationBus) Publish(ctx context.Context, req models.CacheInvalidationRequest) error {
	now := b.nowFn().UTC()

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          b.source,
		Type:            InvalidationEventType,
		DataContentType: "application/json",
		Subject:         b.subject,
		Time:            &now,
		Data:            req,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation event: %w", err)
	}

	msg := nats.NewMsg(b.subject)
	msg.Header.Set(InstanceHeader, b.instanceID)
	msg.Data = payload

	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish invalidation event: %w", err)
	}

	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush invalidation event: %w", err)
	}

	b.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", b.subject).
		Msg("Published cache invalidation")

	return nil
}

// invalidationEnvelope is the decode side of models.CloudEvent.
type invalidationEnvelope struct {
	ID   string                          `json:"id"`
	Type string                          `json:"type"`
	Data models.CacheInvalidationRequest `json:"data"`
}

// Subscribe applies every invalidation published by other replicas to target.
func (b *InvalidationBus) Subscribe(target Invalidator) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return errAlreadyAttached
	}

	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		b.handle(target, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	// Make sure the server registered the interest before returning.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	b.sub = sub

	b.logger.Info().
		Str("subject", b.subject).
		Str("instance_id", b.instanceID).
		Msg("Listening for cache invalidations")

	return nil
}

func (b *InvalidationBus) handle(target Invalidator, msg *nats.Msg) {
	if msg.Header != nil && msg.Header.Get(InstanceHeader) == b.instanceID {
		return
	}

	var env invalidationEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed invalidation message")
		return
	}

	if env.Type != InvalidationEventType {
		b.logger.Debug().Str("type", env.Type).Msg("Ignoring unrelated event on invalidation subject")
		return
	}

	domains, err := target.Invalidate(env.Data)
	if err != nil {
		b.logger.Warn().Err(err).Str("event_id", env.ID).Msg("Rejected remote cache invalidation")
		return
	}

	b.logger.Info().
		Str("event_id", env.ID).
		Strs("invalidated", domains).
		Msg("Applied remote cache invalidation")
}

// Close stops the subscription. The connection stays open.
func (b *InvalidationBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return nil
	}

	err := b.sub.Unsubscribe()
	b.sub = nil

	return err
}

// Connect opens a NATS connection for cfg with logging handlers attached.
func Connect(ctx context.Context, cfg *models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: nats url is required", models.ErrConfiguration)
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	opts := []nats.Option{
		nats.Name("fleetview"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	type result struct {
		nc  *nats.Conn
		err error
	}

	done := make(chan result, 1)

	go func() {
		nc, err := nats.Connect(cfg.URL, opts...)
		done <- result{nc: nc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()

		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", r.err)
		}

		return r.nc, nil
	}
}
