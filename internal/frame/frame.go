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
	"errors"
	"fmt"
)

// Header byte offsets.
const (
	prefixOffset = 0
	connOffset   = 1
	lenOffset    = 2
	moduleOffset = 3
	seqOffset    = 4
	dirOffset    = 5
	crcHiOffset  = 6
	crcLoOffset  = 7
)

// Codec errors. Callers distinguish resynchronizable garbage
// (ErrInvalidPrefix) from droppable frames (ErrCRCMismatch).
var (
	ErrInvalidPrefix   = errors.New("invalid frame prefix")
	ErrPayloadTooLarge = errors.New("payload exceeds 120 bytes")
	ErrTruncated       = errors.New("frame truncated")
	ErrCRCMismatch     = errors.New("frame CRC mismatch")
	ErrUnknownModule   = errors.New("unknown module identifier")
)

// Frame is one complete protocol unit: the decoded 8-byte header plus payload.
type Frame struct {
	Payload  []byte
	Conn     byte
	Module   byte
	Seq      byte // sequence counter (uplink RFID) or reserve byte
	Dir      byte
	CRCValid bool // true when the CRC bytes were non-zero and matched
	Control  bool // true for the headerless abort control sequence
}

// Uplink reports whether the frame travelled device-to-host.
func (f *Frame) Uplink() bool {
	return f.Dir == DirUplink
}

// EventCode returns the 16-bit event code from the first two payload bytes.
// Event codes ride most-significant byte first, unlike register values.
func (f *Frame) EventCode() (uint16, bool) {
	if len(f.Payload) < 2 {
		return 0, false
	}
	return uint16(f.Payload[0])<<8 | uint16(f.Payload[1]), true
}

// Marshal encodes a downlink frame. Per protocol convention the CRC bytes
// are left zero on downlink; the firmware does not verify them.
func Marshal(conn, module byte, payload []byte) ([]byte, error) {
	return marshal(conn, module, ReserveDownlink, DirDownlink, payload, false)
}

// MarshalUplink encodes an uplink frame with a populated CRC. It exists for
// the wire simulator and tests; hosts never produce uplink frames.
func MarshalUplink(conn, module, seq byte, payload []byte) ([]byte, error) {
	return marshal(conn, module, seq, DirUplink, payload, true)
}

func marshal(conn, module, seq, dir byte, payload []byte, withCRC bool) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if !ValidModule(module) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownModule, module)
	}

	pkt := make([]byte, HeaderLen+len(payload))
	pkt[prefixOffset] = Prefix
	pkt[connOffset] = conn
	pkt[lenOffset] = byte(len(payload))
	pkt[moduleOffset] = module
	pkt[seqOffset] = seq
	pkt[dirOffset] = dir
	copy(pkt[HeaderLen:], payload)

	if withCRC {
		crc := checksumFrame(pkt)
		pkt[crcHiOffset] = byte(crc >> 8)
		pkt[crcLoOffset] = byte(crc)
	}
	return pkt, nil
}

// Parse decodes one complete frame from data. data must hold the entire
// frame; use Reassembler to carve frames out of a raw chunk stream.
//
// A CRC mismatch returns both the decoded frame and ErrCRCMismatch so the
// caller can log the offending header before dropping it.
func Parse(data []byte) (*Frame, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if data[prefixOffset] != Prefix {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidPrefix, data[prefixOffset])
	}

	payloadLen := int(data[lenOffset])
	if payloadLen > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}
	if len(data) < HeaderLen+payloadLen {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, HeaderLen+payloadLen, len(data))
	}

	f := &Frame{
		Conn:    data[connOffset],
		Module:  data[moduleOffset],
		Seq:     data[seqOffset],
		Dir:     data[dirOffset],
		Payload: make([]byte, payloadLen),
	}
	copy(f.Payload, data[HeaderLen:HeaderLen+payloadLen])

	// CRC bytes of zero mean "not populated"; only verify when present.
	wireCRC := uint16(data[crcHiOffset])<<8 | uint16(data[crcLoOffset])
	if wireCRC != 0 {
		if checksumFrame(data[:HeaderLen+payloadLen]) != wireCRC {
			return f, fmt.Errorf("%w: header 0x%04X", ErrCRCMismatch, wireCRC)
		}
		f.CRCValid = true
	}
	return f, nil
}

// TotalLen returns the full wire length of the frame starting at data, or 0
// if the header is not yet complete.
func TotalLen(data []byte) int {
	if len(data) < lenOffset+1 {
		return 0
	}
	return HeaderLen + int(data[lenOffset])
}
