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
	"encoding/hex"
	"time"

	cs108 "github.com/trakrf/go-cs108"
)

// TagState is the session's aggregate view of one tag in the field.
type TagState struct {
	// EPC is the hex-encoded EPC, the dedup key.
	EPC string
	// PC is the protocol control word from the most recent read.
	PC uint16
	// FirstSeen is when this tag entered the field.
	FirstSeen time.Time
	// LastSeen is the most recent read.
	LastSeen time.Time
	// ReadCount is the total number of reads this presence.
	ReadCount int
	// LastRSSI is the signal strength of the most recent read, in dB.
	LastRSSI float64
	// BestRSSI is the strongest read this presence, in dB.
	BestRSSI float64
	// AntennaPort is from the most recent read.
	AntennaPort byte
}

// update folds one read into the aggregate.
func (t *TagState) update(rec *cs108.TagRecord, now time.Time) {
	t.PC = rec.PC
	t.LastSeen = now
	t.ReadCount++
	t.LastRSSI = rec.RSSI
	if rec.RSSI > t.BestRSSI {
		t.BestRSSI = rec.RSSI
	}
	t.AntennaPort = rec.AntennaPort
}

func newTagState(rec *cs108.TagRecord, now time.Time) *TagState {
	return &TagState{
		EPC:         hex.EncodeToString(rec.EPC),
		PC:          rec.PC,
		FirstSeen:   now,
		LastSeen:    now,
		ReadCount:   1,
		LastRSSI:    rec.RSSI,
		BestRSSI:    rec.RSSI,
		AntennaPort: rec.AntennaPort,
	}
}
