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

package frame

// SequenceTracker follows the per-frame sequence counter the RFID module
// stamps on uplink frames. The counter increments 0..255 and wraps; a gap
// means the transport probably dropped a frame. That is diagnostic, not
// fatal: inventory data is repetitive and the next burst heals it.
type SequenceTracker struct {
	last byte
	seen bool
}

// Observe records seq and reports whether the stream is in sequence along
// with the number of frames apparently lost since the previous observation.
// The first observation always succeeds.
func (t *SequenceTracker) Observe(seq byte) (ok bool, lost int) {
	if !t.seen {
		t.seen = true
		t.last = seq
		return true, 0
	}
	expected := t.last + 1 // wraps naturally at 255
	t.last = seq
	if seq == expected {
		return true, 0
	}
	return false, int(seq - expected)
}

// Reset forgets the last observed value, for use on session restart.
func (t *SequenceTracker) Reset() {
	t.seen = false
	t.last = 0
}
