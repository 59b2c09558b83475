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
	"encoding/binary"
	"fmt"
	"math"
)

// TagRecord is one inventoried tag observation.
type TagRecord struct {
	// EPC is the tag's Electronic Product Code backscatter.
	EPC []byte
	// Data carries extra backscatter words beyond PC+EPC+CRC when the
	// radio profile requests them (TID, user memory).
	Data []byte
	// PC is the protocol control word preceding the EPC.
	PC uint16
	// CRC is the tag's backscattered CRC-16, zero in compact mode.
	CRC uint16
	// Millis is the firmware millisecond counter at read time, zero in
	// compact mode.
	Millis uint32
	// RSSI is the narrowband receive signal strength in dB.
	RSSI float64
	// Phase is the carrier phase in radians; valid only when PhaseValid.
	Phase      float64
	PhaseValid bool
	// AntennaPort is the reporting antenna.
	AntennaPort byte
	// Seq is the frame sequence counter the observation arrived under.
	Seq byte
}

// Narrowband RSSI rides as a 5-bit exponent and 3-bit mantissa; the
// wideband variant splits 4/4. Both encode 2^exp * (1 + mant/scale) on a
// 20*log10 dB scale.

// NarrowbandRSSI converts a narrowband RSSI byte to dB.
func NarrowbandRSSI(raw byte) float64 {
	exp := raw >> 3
	mant := raw & 0x07
	return 20 * math.Log10(math.Exp2(float64(exp))*(1+float64(mant)/8))
}

// WidebandRSSI converts a wideband RSSI byte to dB.
func WidebandRSSI(raw byte) float64 {
	exp := raw >> 4
	mant := raw & 0x0F
	return 20 * math.Log10(math.Exp2(float64(exp))*(1+float64(mant)/16))
}

// tagPhase converts the 6-bit phase field to radians.
func tagPhase(raw byte) float64 {
	return float64(raw&0x3F) * 2 * math.Pi / 128
}

// Normal-mode inventory packet layout after the common MAC header:
// millisecond counter (u32 LE), wideband RSSI, narrowband RSSI, phase,
// channel index, port, reserved, then the raw backscatter (PC, EPC, CRC).
const invMetaLen = 12

// parseNormalInventory decodes a version-3 inventory packet into one tag.
func parseNormalInventory(pkt *macPacket) (*TagRecord, error) {
	if len(pkt.Data) < invMetaLen {
		return nil, fmt.Errorf("%w: inventory metadata %d bytes", ErrMalformedPayload, len(pkt.Data))
	}

	// Declared length counts header words; the flags high bits carry how
	// many pad bytes round the backscatter up to a word boundary.
	pad := int(pkt.Flags >> 6)
	backLen := (int(pkt.Words)-3)*4 - pad
	raw := pkt.Data[invMetaLen:]
	if backLen < 4 || backLen > len(raw) {
		return nil, fmt.Errorf("%w: backscatter length %d of %d", ErrMalformedPayload, backLen, len(raw))
	}
	back := raw[:backLen]

	rec := &TagRecord{
		Millis:      binary.LittleEndian.Uint32(pkt.Data[0:4]),
		RSSI:        NarrowbandRSSI(pkt.Data[5]),
		Phase:       tagPhase(pkt.Data[6]),
		PhaseValid:  true,
		AntennaPort: pkt.Data[8],
	}

	// Backscatter is PC (u16 BE), EPC, trailing CRC-16.
	rec.PC = binary.BigEndian.Uint16(back[0:2])
	epcLen := int(rec.PC>>11) * 2
	if 2+epcLen+2 > backLen {
		return nil, fmt.Errorf("%w: EPC length %d exceeds backscatter", ErrMalformedPayload, epcLen)
	}
	rec.EPC = make([]byte, epcLen)
	copy(rec.EPC, back[2:2+epcLen])
	rec.CRC = binary.BigEndian.Uint16(back[2+epcLen : 4+epcLen])
	if extra := back[4+epcLen:]; len(extra) > 0 {
		rec.Data = make([]byte, len(extra))
		copy(rec.Data, extra)
	}
	return rec, nil
}

// parseCompactInventory decodes a version-4 compact inventory payload. The
// two-byte prefix is the version byte and the antenna port; tag records
// (PC, EPC, narrowband RSSI) repeat until the payload is exhausted. A
// truncated trailing record is dropped, not an error: compact payloads are
// cut at frame boundaries mid-record by design of the firmware.
func parseCompactInventory(p []byte, seq byte) ([]*TagRecord, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("%w: compact inventory %d bytes", ErrMalformedPayload, len(p))
	}
	port := p[1]
	rest := p[2:]

	var tags []*TagRecord
	for len(rest) >= 2 {
		pc := binary.BigEndian.Uint16(rest[0:2])
		epcLen := int(pc>>11) * 2
		if len(rest) < 2+epcLen+1 {
			break
		}
		rec := &TagRecord{
			PC:          pc,
			EPC:         make([]byte, epcLen),
			RSSI:        NarrowbandRSSI(rest[2+epcLen]),
			AntennaPort: port,
			Seq:         seq,
		}
		copy(rec.EPC, rest[2:2+epcLen])
		tags = append(tags, rec)
		rest = rest[2+epcLen+1:]
	}
	return tags, nil
}

// parseBatteryReport decodes a battery voltage notification payload (after
// the event code): millivolts, most-significant byte first.
func parseBatteryReport(p []byte) (uint16, error) {
	if len(p) < 2 {
		return 0, fmt.Errorf("%w: battery report %d bytes", ErrMalformedPayload, len(p))
	}
	return binary.BigEndian.Uint16(p[0:2]), nil
}
