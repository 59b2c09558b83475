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

// Event is a typed envelope delivered on the reader's event channel. No
// shared mutable state crosses the channel; every payload is owned by the
// receiver once delivered.
type Event interface {
	event()
}

// TagReadEvent carries one inventoried tag.
type TagReadEvent struct {
	Tag TagRecord
}

// StateChangeEvent reports a reader lifecycle transition.
type StateChangeEvent struct {
	Old ReaderState
	New ReaderState
}

// TriggerEvent reports a physical trigger edge, post-debounce bookkeeping
// but pre-action: it fires for every notification, including flaps the
// reconciler chooses not to act on.
type TriggerEvent struct {
	Pressed bool
}

// BatteryEvent carries a battery voltage report.
type BatteryEvent struct {
	Millivolts uint16
}

// Voltage returns the battery level in volts.
func (e BatteryEvent) Voltage() float64 {
	return float64(e.Millivolts) / 1000
}

// BarcodeEvent carries one decoded barcode payload.
type BarcodeEvent struct {
	Data []byte
}

// ErrorEvent surfaces a non-fatal protocol anomaly or a fatal session
// error. Fatal events are always followed by a StateChangeEvent to
// StateDisconnected.
type ErrorEvent struct {
	Err   error
	Fatal bool
}

func (TagReadEvent) event()     {}
func (StateChangeEvent) event() {}
func (TriggerEvent) event()     {}
func (BatteryEvent) event()     {}
func (BarcodeEvent) event()     {}
func (ErrorEvent) event()       {}
