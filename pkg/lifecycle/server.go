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

package lifecycle

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/fleetview/pkg/logger"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

// Closer is a dependency released after the HTTP server has drained.
type Closer interface {
	Close() error
}

// ServerOptions configures RunHTTPServer.
type ServerOptions struct {
	ListenAddr      string
	ServiceName     string
	Handler         http.Handler
	Logger          logger.Logger
	ShutdownTimeout time.Duration
	// Listener, when set, is used instead of binding ListenAddr.
	Listener net.Listener
	Closers  []Closer
}

// RunHTTPServer serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests within ShutdownTimeout and closes Closers in
// reverse order.
func RunHTTPServer(ctx context.Context, opts *ServerOptions) error {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           opts.Handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info().
			Str("service", opts.ServiceName).
			Str("listen_addr", opts.ListenAddr).
			Msg("Starting HTTP server")

		var err error
		if opts.Listener != nil {
			err = srv.Serve(opts.Listener)
		} else {
			err = srv.ListenAndServe()
		}

		errCh <- err
	}()

	var serveErr error

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown requested, draining HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown did not complete cleanly")
			serveErr = err
		}
	}

	for i := len(opts.Closers) - 1; i >= 0; i-- {
		if err := opts.Closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing dependency")
		}
	}

	log.Info().Str("service", opts.ServiceName).Msg("HTTP server stopped")

	return serveErr
}
