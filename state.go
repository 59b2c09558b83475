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

import "time"

// ReaderState is the lifecycle state of a reader session. All transitions
// happen on the engine goroutine; Reader.State reads a mirrored copy.
type ReaderState int

const (
	// StateDisconnected is the initial and terminal state.
	StateDisconnected ReaderState = iota
	// StateConnecting covers transport dial and link establishment.
	StateConnecting
	// StateConfiguring covers the post-connect initialization sequence
	// (module power, notification subscriptions, radio profile).
	StateConfiguring
	// StateIdle means connected and configured, with no inventory running.
	StateIdle
	// StateScanning means a continuous inventory is in progress.
	StateScanning
	// StateBusy means a one-shot exclusive operation (tag access, barcode
	// scan) holds the radio; inventory starts are rejected.
	StateBusy
	// StateReadyForDisconnect means teardown commands have been issued and
	// the transport is about to close.
	StateReadyForDisconnect
)

func (s ReaderState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateBusy:
		return "busy"
	case StateReadyForDisconnect:
		return "ready-for-disconnect"
	default:
		return "unknown"
	}
}

// Connected reports whether the state represents an established session.
func (s ReaderState) Connected() bool {
	switch s {
	case StateIdle, StateScanning, StateBusy, StateReadyForDisconnect:
		return true
	default:
		return false
	}
}

// validTransitions is the full transition relation. Anything absent is
// rejected with a StateTransitionError. Every state may fall to
// Disconnected: transport loss preempts everything.
var validTransitions = map[ReaderState][]ReaderState{
	StateDisconnected:       {StateConnecting},
	StateConnecting:         {StateConfiguring, StateDisconnected},
	StateConfiguring:        {StateIdle, StateDisconnected},
	StateIdle:               {StateScanning, StateBusy, StateReadyForDisconnect, StateDisconnected},
	StateScanning:           {StateIdle, StateReadyForDisconnect, StateDisconnected},
	StateBusy:               {StateIdle, StateReadyForDisconnect, StateDisconnected},
	StateReadyForDisconnect: {StateDisconnected},
}

// stateMachine tracks the session state and the inventory restart dwell.
// It is a passive record driven by the engine loop, never locked.
type stateMachine struct {
	current     ReaderState
	lastScanEnd time.Time // zero until the first inventory stops
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateDisconnected}
}

// canTransition reports whether moving to next is legal from the current state.
func (m *stateMachine) canTransition(next ReaderState) bool {
	for _, s := range validTransitions[m.current] {
		if s == next {
			return true
		}
	}
	return false
}

// transition moves to next, or returns a StateTransitionError naming op.
func (m *stateMachine) transition(next ReaderState, op string) error {
	if !m.canTransition(next) {
		return &StateTransitionError{From: m.current, To: next, Op: op}
	}
	if m.current == StateScanning && next != StateScanning {
		m.lastScanEnd = time.Now()
	}
	m.current = next
	return nil
}

// scanStartDelay returns how long an inventory start must still be held back
// to honor the firmware's stop-to-start settle time, or zero if it may
// proceed immediately.
func (m *stateMachine) scanStartDelay(now time.Time) time.Duration {
	if m.lastScanEnd.IsZero() {
		return 0
	}
	elapsed := now.Sub(m.lastScanEnd)
	if elapsed >= ScanRestartDwell {
		return 0
	}
	return ScanRestartDwell - elapsed
}
