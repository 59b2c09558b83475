// Copyright 2026 The TrakRF Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cs108

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      time.Second,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return NewTransportError("open", "/dev/ttyUSB0", errors.New("busy"), ErrorTypeTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	permanent := NewTransportError("open", "", errors.New("no such device"), ErrorTypePermanent)
	calls := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return ErrCommandTimeout
	})
	require.ErrorIs(t, err, ErrCommandTimeout)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithConfig(ctx, fastRetryConfig(10), func() error {
		calls++
		cancel()
		return ErrCommandTimeout
	})
	require.ErrorIs(t, err, ErrCommandTimeout)
	assert.LessOrEqual(t, calls, 2)
}

func TestConnectionRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := ConnectionRetryConfig()
	assert.Equal(t, DefaultConnectionRetries, cfg.MaxAttempts)
	assert.Equal(t, ConnectionInitialBackoff, cfg.InitialBackoff)
	assert.Equal(t, ConnectionRetryTimeout, cfg.RetryTimeout)
}
