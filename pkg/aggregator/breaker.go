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

package aggregator

import (
	"sync"
	"time"

	"github.com/carverauto/fleetview/pkg/logger"
)

// BreakerState is the state of a per-module circuit breaker.
type BreakerState int

const (
	// StateClosed lets primary calls through.
	StateClosed BreakerState = iota
	// StateOpen skips the primary until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit skips the primary.
	Cooldown time.Duration
}

// Breaker tracks consecutive primary failures for one module. It only gates
// calls; it never retries one.
type Breaker struct {
	config       BreakerConfig
	state        BreakerState
	failureCount int
	openedAt     time.Time
	probing      bool
	mu           sync.Mutex
	logger       logger.Logger
	name         string
	nowFn        func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig, log logger.Logger, nowFn func() time.Time) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}

	if nowFn == nil {
		nowFn = time.Now
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
		logger: log,
		name:   name,
		nowFn:  nowFn,
	}
}

// Allow reports whether a primary call may be issued now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}

		b.state = StateHalfOpen
		b.probing = true

		b.logger.Info().
			Str("circuit_breaker", b.name).
			Msg("Circuit breaker transitioning to half-open")

		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}

		b.probing = true

		return true
	default:
		return false
	}
}

// Success records a call that reached the primary.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.logger.Info().
			Str("circuit_breaker", b.name).
			Msg("Circuit breaker closed after successful recovery")
	}

	b.state = StateClosed
	b.failureCount = 0
	b.probing = false
}

// Failure records a call that found the primary unavailable.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.probing = false

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.open()
			b.logger.Warn().
				Str("circuit_breaker", b.name).
				Int("failure_count", b.failureCount).
				Msg("Circuit breaker opened due to failures")
		}
	case StateHalfOpen:
		b.open()
		b.logger.Warn().
			Str("circuit_breaker", b.name).
			Msg("Circuit breaker reopened after failed attempt in half-open state")
	case StateOpen:
	}
}

// Release gives back a half-open probe slot that produced no verdict.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.nowFn()
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Metrics returns a snapshot for monitoring.
func (b *Breaker) Metrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"name":          b.name,
		"state":         b.state.String(),
		"failure_count": b.failureCount,
		"opened_at":     b.openedAt,
	}
}
