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

// triggerAction is a corrective step the reconciler wants taken.
type triggerAction int

const (
	triggerNone triggerAction = iota
	triggerStartScan
	triggerStopScan
)

// maxCompensations bounds corrective actions issued without a fresh
// physical edge. Two covers the worst legitimate case (a press-release
// landing mid-action needs one stop after a start, or vice versa); beyond
// that the device and host disagree in a way more actions will not fix.
const maxCompensations = 2

// triggerReconciler converges the radio's scanning state onto the physical
// trigger state. Physical edges are recorded unconditionally the moment
// they arrive; the debounce window only delays acting on them, so a flap
// that settles back never fires a spurious start/stop pair.
//
// Passive and loop-driven like the sequencer: the engine calls observe on
// each notification, next whenever something changed or a timer fired, and
// actionDone when a start/stop it issued completes.
type triggerReconciler struct {
	now func() time.Time

	pressed  bool      // last recorded physical state
	lastEdge time.Time // when pressed last changed

	scanning      bool // logical radio state as last confirmed
	inFlight      bool // a reconciler-issued start/stop is outstanding
	compensations int
	enabled       bool
}

func newTriggerReconciler(now func() time.Time) *triggerReconciler {
	if now == nil {
		now = time.Now
	}
	return &triggerReconciler{now: now}
}

// setEnabled turns trigger-driven scanning on or off. Disabled, the
// reconciler keeps recording physical state but never acts.
func (r *triggerReconciler) setEnabled(on bool) {
	r.enabled = on
}

// observe records a physical trigger notification. Returns true when it is
// an edge (state actually changed). A fresh edge resets the compensation
// budget: the human moved, so convergence starts over.
func (r *triggerReconciler) observe(pressed bool) bool {
	if pressed == r.pressed {
		return false
	}
	r.pressed = pressed
	r.lastEdge = r.now()
	r.compensations = 0
	return true
}

// syncScanning records a scanning-state change made outside the reconciler
// (an API-initiated start or stop) so it does not fight the caller.
func (r *triggerReconciler) syncScanning(scanning bool) {
	r.scanning = scanning
}

// next returns the action to take now, or the time to re-check. A zero
// wake time with triggerNone means the reconciler is converged or waiting
// on an in-flight action.
func (r *triggerReconciler) next() (triggerAction, time.Time) {
	if !r.enabled || r.inFlight {
		return triggerNone, time.Time{}
	}
	if r.pressed == r.scanning {
		return triggerNone, time.Time{}
	}
	if r.compensations >= maxCompensations {
		return triggerNone, time.Time{}
	}

	// Act only once the state has held through the debounce window.
	settle := r.lastEdge.Add(TriggerDebounce)
	if now := r.now(); now.Before(settle) {
		return triggerNone, settle
	}

	r.inFlight = true
	r.compensations++
	if r.pressed {
		return triggerStartScan, time.Time{}
	}
	return triggerStopScan, time.Time{}
}

// actionDone reports completion of a reconciler-issued action and the
// resulting scanning state. The engine must follow up with next: the
// physical state may have moved again while the action was in flight.
func (r *triggerReconciler) actionDone(scanning bool) {
	r.inFlight = false
	r.scanning = scanning
}

// reset clears all reconciler state, for use on disconnect.
func (r *triggerReconciler) reset() {
	r.pressed = false
	r.lastEdge = time.Time{}
	r.scanning = false
	r.inFlight = false
	r.compensations = 0
}
