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

import (
	"bytes"
	"errors"
)

// DefaultBufferSize is sized generously so bursty inventory traffic never
// forces a drop while the engine loop is busy parsing.
const DefaultBufferSize = 1 << 20

// ErrBufferFull indicates the reassembly buffer overflowed, which means the
// consumer stopped draining frames. The stream is unrecoverable at that
// point and the session should be torn down.
var ErrBufferFull = errors.New("reassembly buffer full")

// Reassembler absorbs arbitrarily chunked transport input and carves out
// complete frames. BLE notifications arrive in MTU-sized fragments, so a
// single frame routinely spans several chunks and a single chunk routinely
// carries the tail of one frame plus the head of the next.
//
// Not safe for concurrent use; the engine loop owns it exclusively.
type Reassembler struct {
	buf     []byte
	start   int // read cursor into buf
	skipped int // garbage bytes dropped since last Stats reset
}

// NewReassembler creates a reassembler with a bounded buffer of size bytes
// (DefaultBufferSize if size <= 0).
func NewReassembler(size int) *Reassembler {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Reassembler{buf: make([]byte, 0, size)}
}

// Write appends one transport chunk to the accumulation window.
func (r *Reassembler) Write(chunk []byte) error {
	r.compact()
	if len(r.buf)-r.start+len(chunk) > cap(r.buf) {
		return ErrBufferFull
	}
	r.buf = append(r.buf, chunk...)
	return nil
}

// Next extracts the next complete frame, or returns nil when the window
// holds no complete frame yet. It never returns a partial frame.
//
// Leading bytes that do not start a frame are discarded. This is the
// defense against the six-byte anomalous fragments seen on BLE: they are
// mid-frame continuation bytes misaligned by an upstream chunk boundary,
// not independent packets, and resynchronizing on the next 0xA7 recovers
// the stream.
func (r *Reassembler) Next() *Frame {
	for {
		window := r.buf[r.start:]
		if len(window) == 0 {
			return nil
		}

		// The abort acknowledgement bypasses the header framing entirely;
		// recognize it in the raw stream before treating bytes as garbage.
		if n, match := matchAbort(window); match {
			if n < len(AbortResponse) {
				return nil // prefix of the control sequence, wait for the rest
			}
			r.start += len(AbortResponse)
			payload := make([]byte, len(AbortResponse))
			copy(payload, AbortResponse)
			return &Frame{Control: true, Dir: DirUplink, Payload: payload}
		}

		// Resynchronize on the frame prefix.
		if window[0] != Prefix {
			idx := bytes.IndexByte(window, Prefix)
			if idx < 0 {
				r.skipped += len(window)
				r.start = len(r.buf)
				return nil
			}
			r.skipped += idx
			r.start += idx
			window = r.buf[r.start:]
		}

		// Wait for the full header, then the full frame.
		if len(window) < HeaderLen {
			return nil
		}
		total := TotalLen(window)
		if int(window[lenOffset]) > MaxPayloadLen {
			// Bogus length: this 0xA7 was payload, not a frame start.
			r.start++
			r.skipped++
			continue
		}
		if len(window) < total {
			return nil
		}

		f, err := Parse(window[:total])
		if err != nil {
			// Oversize/CRC failures drop the frame; a bad prefix cannot
			// happen here. Either way, advance past this prefix byte and
			// rescan rather than discarding the whole window.
			if errors.Is(err, ErrCRCMismatch) {
				r.start += total
			} else {
				r.start++
				r.skipped++
			}
			continue
		}
		r.start += total
		return f
	}
}

// Skipped returns and resets the count of garbage bytes dropped during
// resynchronization, for diagnostics.
func (r *Reassembler) Skipped() int {
	n := r.skipped
	r.skipped = 0
	return n
}

// Pending returns the number of buffered bytes not yet consumed.
func (r *Reassembler) Pending() int {
	return len(r.buf) - r.start
}

// Reset discards all buffered data, for use on transport reconnect.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.start = 0
	r.skipped = 0
}

// matchAbort reports how many leading bytes of window match the abort
// acknowledgement sequence, and whether the match is still viable.
func matchAbort(window []byte) (int, bool) {
	n := min(len(window), len(AbortResponse))
	for i := 0; i < n; i++ {
		if window[i] != AbortResponse[i] {
			return 0, false
		}
	}
	return n, n > 0
}

// compact reclaims consumed space once the read cursor passes the midpoint,
// keeping Write amortized O(1) without unbounded growth.
func (r *Reassembler) compact() {
	if r.start == 0 {
		return
	}
	if r.start >= len(r.buf) {
		r.buf = r.buf[:0]
		r.start = 0
		return
	}
	if r.start > cap(r.buf)/2 {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
}
