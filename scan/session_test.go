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

package scan

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cs108 "github.com/trakrf/go-cs108"
	devtest "github.com/trakrf/go-cs108/internal/testing"
)

// sessionHarness runs a session over a simulated device.
type sessionHarness struct {
	reader  *cs108.Reader
	dev     *devtest.VirtualCS108
	session *Session

	mu       sync.Mutex
	detected []string
	removed  []string
	updated  int
	barcodes []string
	voltages []uint16
}

func newSessionHarness(t *testing.T, config *Config) *sessionHarness {
	t.Helper()

	mt := cs108.NewMockTransport()
	dev := devtest.NewVirtualCS108()
	dev.SetSender(mt.Inject)
	mt.OnWrite(dev.HostWrite)

	reader := cs108.NewReader(mt, cs108.WithTriggerScanning(false))
	t.Cleanup(func() { _ = reader.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, reader.Connect(ctx))

	h := &sessionHarness{reader: reader, dev: dev}
	h.session = NewSession(reader, config)
	h.session.OnTagDetected = func(tag *TagState) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.detected = append(h.detected, tag.EPC)
		return nil
	}
	h.session.OnTagRemoved = func(epc string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removed = append(h.removed, epc)
	}
	h.session.OnTagUpdated = func(*TagState) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.updated++
		return nil
	}
	h.session.OnBarcode = func(data []byte) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.barcodes = append(h.barcodes, string(data))
	}
	h.session.OnBattery = func(mv uint16) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.voltages = append(h.voltages, mv)
	}
	return h
}

// start runs the session loop until the returned cancel fires.
func (h *sessionHarness) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.session.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})

	require.Eventually(t, func() bool { return h.dev.Scanning() },
		5*time.Second, 5*time.Millisecond, "session must start the inventory")
	return cancel
}

func (h *sessionHarness) detectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.detected)
}

func (h *sessionHarness) removedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.removed)
}

func TestSessionTagLifecycle(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, &Config{
		RemovalTimeout: 200 * time.Millisecond,
		SweepInterval:  50 * time.Millisecond,
	})
	h.start(t)

	epc := []byte{0x11, 0x22, 0x33, 0x44}
	h.dev.EmitCompactTag(epc, 0x48, 1)

	require.Eventually(t, func() bool { return h.detectedCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.True(t, h.session.Present(hex.EncodeToString(epc)))

	// A second read of the same tag updates, it does not re-detect.
	h.dev.EmitCompactTag(epc, 0x4B, 1)
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.updated >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.detectedCount())

	snap := h.session.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, hex.EncodeToString(epc), snap[0].EPC)
	assert.Equal(t, 2, snap[0].ReadCount)
	assert.GreaterOrEqual(t, snap[0].BestRSSI, snap[0].LastRSSI)

	// Silence past the removal timeout expires the tag.
	require.Eventually(t, func() bool { return h.removedCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.False(t, h.session.Present(hex.EncodeToString(epc)))
	assert.Empty(t, h.session.Snapshot())
}

func TestSessionMultipleTags(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, &Config{
		RemovalTimeout: 10 * time.Second, // no expiry during the test
		SweepInterval:  time.Second,
	})
	h.start(t)

	h.dev.EmitCompactTag([]byte{0x11, 0x11}, 0x40, 1)
	h.dev.EmitCompactTag([]byte{0x22, 0x22}, 0x40, 1)
	h.dev.EmitCompactTag([]byte{0x33, 0x33}, 0x40, 2)

	require.Eventually(t, func() bool { return h.detectedCount() == 3 },
		2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.session.Snapshot(), 3)
}

func TestSessionBarcodeAndBattery(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, nil)
	h.start(t)

	h.dev.EmitBarcode([]byte("4006381333931"))
	h.dev.EmitBatteryReport(3950)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.barcodes) == 1 && len(h.voltages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "4006381333931", h.barcodes[0])
	assert.Equal(t, uint16(3950), h.voltages[0])
}

func TestSessionPauseResume(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, nil)
	h.start(t)

	ctx := context.Background()
	require.NoError(t, h.session.Pause(ctx))
	require.Eventually(t, func() bool { return !h.dev.Scanning() },
		5*time.Second, 5*time.Millisecond)

	// Pausing twice is a no-op.
	require.NoError(t, h.session.Pause(ctx))

	require.NoError(t, h.session.Resume(ctx))
	require.Eventually(t, func() bool { return h.dev.Scanning() },
		5*time.Second, 5*time.Millisecond)
}

func TestSessionWithPaused(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, nil)
	h.start(t)

	var sawStopped bool
	err := h.session.WithPaused(context.Background(), func(context.Context) error {
		sawStopped = !h.dev.Scanning()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sawStopped, "fn must run with the inventory stopped")

	require.Eventually(t, func() bool { return h.dev.Scanning() },
		5*time.Second, 5*time.Millisecond, "inventory resumes after fn returns")
}
