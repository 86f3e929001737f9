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
	"fmt"

	"github.com/carverauto/fleetview/pkg/logger"
	"go.opentelemetry.io/otel/trace"
)

// InitializeLogger initializes the package-level logger. A nil config falls
// back to the environment defaults.
func InitializeLogger(ctx context.Context, config *logger.Config) error {
	if err := logger.Init(ctx, config); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// CreateLogger creates a logger instance that can be injected into services.
func CreateLogger(config *logger.Config) (logger.Logger, error) {
	return logger.NewFromConfig(config)
}

// CreateComponentLogger creates a logger tagged with a component name. When
// ctx carries a span, its trace and span ids are attached as well.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	base, err := logger.NewFromConfig(config)
	if err != nil {
		return nil, err
	}

	zctx := base.With().Str("component", component)

	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		zctx = zctx.
			Str("trace_id", spanCtx.TraceID().String()).
			Str("span_id", spanCtx.SpanID().String())
	}

	return logger.New(zctx.Logger()), nil
}

// ShutdownLogger flushes the trace and metric pipelines.
func ShutdownLogger() error {
	return logger.Shutdown()
}
