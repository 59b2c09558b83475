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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// seqHarness wires a sequencer to a write recorder and a fake clock.
type seqHarness struct {
	clock  *fakeClock
	seq    *sequencer
	writes []string
	fail   error
}

func newSeqHarness() *seqHarness {
	h := &seqHarness{clock: newFakeClock()}
	h.seq = newSequencer(func(cmd *Command) error {
		if h.fail != nil {
			return h.fail
		}
		h.writes = append(h.writes, cmd.name())
		return nil
	}, h.clock.now)
	return h
}

func (h *seqHarness) submit(t *testing.T, cmd *Command) {
	t.Helper()
	require.NoError(t, h.seq.submit(cmd, func(CommandResult) {}))
}

func TestSequencerSingleInFlight(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	h.submit(t, newTriggerQueryCommand())
	h.submit(t, newBatteryQueryCommand())

	h.seq.pump()
	assert.Equal(t, []string{"trigger state query"}, h.writes,
		"second command must wait for the first to complete")

	h.seq.resolve(CommandResult{})
	h.clock.advance(CommandSpacing)
	h.seq.pump()
	assert.Equal(t, []string{"trigger state query", "battery report start"}, h.writes)
}

func TestSequencerCommandSpacing(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	h.submit(t, newTriggerQueryCommand())
	h.seq.pump()
	h.seq.resolve(CommandResult{})

	// A follower submitted immediately after the reply is held until the
	// spacing gate opens, even though the bus is free.
	h.submit(t, newBatteryQueryCommand())
	wake := h.seq.pump()
	require.Len(t, h.writes, 1)
	assert.Equal(t, h.clock.now().Add(CommandSpacing), wake)

	h.clock.advance(CommandSpacing)
	h.seq.pump()
	assert.Len(t, h.writes, 2)
}

func TestSequencerQueueFull(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	for i := 0; i < queueDepth; i++ {
		h.submit(t, newTriggerQueryCommand())
	}
	err := h.seq.submit(newTriggerQueryCommand(), func(CommandResult) {})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestSequencerTimeoutRetrySchedule(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	cmd := newSimpleCommand("probe", ModuleRFID, evtRFIDPowerOn, nil, time.Second)
	var res *CommandResult
	require.NoError(t, h.seq.submit(cmd, func(r CommandResult) { res = &r }))

	h.seq.pump()
	require.Len(t, h.writes, 1)

	// First timeout: requeued with a 500ms hold-down, not failed.
	h.clock.advance(cmd.timeout())
	h.seq.expire()
	require.Nil(t, res)
	wake := h.seq.pump()
	assert.Equal(t, h.clock.now().Add(CommandRetryDelay1), wake)
	require.Len(t, h.writes, 1, "resend must wait out the hold-down")

	h.clock.advance(CommandRetryDelay1)
	h.seq.pump()
	require.Len(t, h.writes, 2)

	// Second timeout: 1500ms hold-down.
	h.clock.advance(cmd.timeout())
	h.seq.expire()
	require.Nil(t, res)
	h.clock.advance(CommandRetryDelay2)
	h.seq.pump()
	require.Len(t, h.writes, 3)

	// Third timeout exhausts the attempt cap.
	h.clock.advance(cmd.timeout())
	h.seq.expire()
	require.NotNil(t, res)
	assert.ErrorIs(t, res.Err, ErrCommandTimeout)
}

func TestSequencerOmittedReplyIsSuccess(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	cmd := newBatteryStopCommand()
	var res *CommandResult
	require.NoError(t, h.seq.submit(cmd, func(r CommandResult) { res = &r }))
	h.seq.pump()

	h.clock.advance(cmd.timeout())
	h.seq.expire()
	require.NotNil(t, res)
	assert.NoError(t, res.Err, "omitted terminal reply resolves as success")
}

func TestSequencerExpireBeforeDeadline(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	h.submit(t, newTriggerQueryCommand())
	h.seq.pump()

	// A stale timer fire before the deadline must not touch the exchange.
	h.seq.expire()
	assert.NotNil(t, h.seq.current())
}

func TestSequencerWriteFailure(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	h.fail = errors.New("port gone")
	h.submit(t, newTriggerQueryCommand())

	var got *CommandResult
	require.NoError(t, h.seq.submit(newBatteryQueryCommand(), func(r CommandResult) { got = &r }))
	h.seq.pump()

	// Both commands fail on write; nothing is left in flight.
	require.NotNil(t, got)
	assert.ErrorContains(t, got.Err, "port gone")
	assert.True(t, h.seq.idle())
}

func TestSequencerFlush(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	var results []error
	for i := 0; i < 3; i++ {
		require.NoError(t, h.seq.submit(newTriggerQueryCommand(), func(r CommandResult) {
			results = append(results, r.Err)
		}))
	}
	h.seq.pump()

	h.seq.flush(ErrReaderClosed)
	require.Len(t, results, 3)
	for _, err := range results {
		assert.ErrorIs(t, err, ErrReaderClosed)
	}
	assert.True(t, h.seq.idle())
}

func TestSequencerLateReplyAfterTimeout(t *testing.T) {
	t.Parallel()

	h := newSeqHarness()
	cmd := newBatteryStopCommand()
	calls := 0
	require.NoError(t, h.seq.submit(cmd, func(CommandResult) { calls++ }))
	h.seq.pump()

	h.clock.advance(cmd.timeout())
	h.seq.expire()
	require.Equal(t, 1, calls)

	// The reply arriving after the timeout resolution is a no-op.
	h.seq.resolve(CommandResult{})
	assert.Equal(t, 1, calls)
}
