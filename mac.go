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

// The RFID module encapsulates a second protocol layer: MAC packets ride
// inside RFID frames after the event code. Downlink MAC commands read and
// write firmware registers; uplink MAC packets report command lifecycle
// (begin/active/end), inventoried tags, and tag access results.
//
// Register addresses and 32-bit data words are little-endian ("reverse
// populated") while the 16-bit MAC command selector itself rides MSB first,
// matching the raw abort sequence 40 03.

import (
	"encoding/binary"
	"fmt"

	"github.com/trakrf/go-cs108/internal/frame"
)

// Downlink MAC command selectors.
const (
	macCmdRegisterRead  uint16 = 0x7000
	macCmdRegisterWrite uint16 = 0x7001
	macCmdAbort         uint16 = 0x4003
)

// Uplink MAC packet types, from the little-endian type field of the common
// packet header.
const (
	macPktCommandBegin    uint16 = 0x0000
	macPktCommandEnd      uint16 = 0x0001
	macPktInventory       uint16 = 0x0005
	macPktTagAccess       uint16 = 0x0006
	macPktAntennaCycleEnd uint16 = 0x0007
	macPktCommandActive   uint16 = 0x000E
)

// Uplink MAC packet version bytes. Inventory data declares its wire format
// here; everything else uses the common header versions.
const (
	macVerCommand          byte = 0x01
	macVerCommandExtended  byte = 0x02
	macVerInventoryNormal  byte = 0x03
	macVerInventoryCompact byte = 0x04
)

// macHeaderLen is the fixed length of the common uplink MAC packet header:
// version, flags, type (LE u16), length in 32-bit words (LE u16), reserved.
const macHeaderLen = 8

// macPacket is one decoded uplink MAC packet.
type macPacket struct {
	Data    []byte // bytes following the common header
	Type    uint16
	Words   uint16 // declared data length in 32-bit words
	Version byte
	Flags   byte
}

// buildRegisterRead encodes a MAC register read command.
func buildRegisterRead(addr uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(macCmdRegisterRead >> 8)
	p[1] = byte(macCmdRegisterRead & 0xFF)
	binary.LittleEndian.PutUint16(p[2:], addr)
	return p
}

// buildRegisterWrite encodes a MAC register write command.
func buildRegisterWrite(addr uint16, value uint32) []byte {
	p := make([]byte, 8)
	p[0] = byte(macCmdRegisterWrite >> 8)
	p[1] = byte(macCmdRegisterWrite & 0xFF)
	binary.LittleEndian.PutUint16(p[2:], addr)
	binary.LittleEndian.PutUint32(p[4:], value)
	return p
}

// registerResponse is the uplink answer to a register read or write.
type registerResponse struct {
	Addr  uint16
	Value uint32
	Write bool
}

// isRegisterResponse reports whether an uplink RFID payload is a register
// response rather than a versioned MAC packet. Register responses echo the
// 0x70xx selector; MAC packet version bytes never reach 0x70.
func isRegisterResponse(p []byte) bool {
	return len(p) >= 2 && p[0] == 0x70
}

// parseRegisterResponse decodes a register read/write response.
func parseRegisterResponse(p []byte) (*registerResponse, error) {
	if len(p) < 8 {
		return nil, fmt.Errorf("%w: register response %d bytes", ErrMalformedPayload, len(p))
	}
	sel := uint16(p[0])<<8 | uint16(p[1])
	if sel != macCmdRegisterRead && sel != macCmdRegisterWrite {
		return nil, fmt.Errorf("%w: register selector 0x%04X", ErrMalformedPayload, sel)
	}
	return &registerResponse{
		Write: sel == macCmdRegisterWrite,
		Addr:  binary.LittleEndian.Uint16(p[2:4]),
		Value: binary.LittleEndian.Uint32(p[4:8]),
	}, nil
}

// parseMACPacket decodes the common uplink packet header.
func parseMACPacket(p []byte) (*macPacket, error) {
	if len(p) < macHeaderLen {
		return nil, fmt.Errorf("%w: MAC packet %d bytes", ErrMalformedPayload, len(p))
	}
	pkt := &macPacket{
		Version: p[0],
		Flags:   p[1],
		Type:    binary.LittleEndian.Uint16(p[2:4]),
		Words:   binary.LittleEndian.Uint16(p[4:6]),
		Data:    p[macHeaderLen:],
	}
	switch pkt.Version {
	case macVerCommand, macVerCommandExtended, macVerInventoryNormal, macVerInventoryCompact:
		return pkt, nil
	default:
		return nil, fmt.Errorf("%w: MAC packet version 0x%02X", ErrMalformedPayload, pkt.Version)
	}
}

// commandEndStatus extracts the status word from a Command-End packet:
// millisecond counter (u32) then status (u16), both little-endian.
func commandEndStatus(pkt *macPacket) (millis uint32, status uint16, err error) {
	if len(pkt.Data) < 6 {
		return 0, 0, fmt.Errorf("%w: command end %d bytes", ErrMalformedPayload, len(pkt.Data))
	}
	return binary.LittleEndian.Uint32(pkt.Data[0:4]), binary.LittleEndian.Uint16(pkt.Data[4:6]), nil
}

// tagAccessResult is one decoded Tag-Access packet.
type tagAccessResult struct {
	Data      []byte
	Millis    uint32
	AccessCmd byte
	TagError  byte
	Failed    bool
}

// parseTagAccess decodes a Tag-Access result packet. The error flag lives
// in bit 0 of the header flags; data words follow the fixed prefix.
func parseTagAccess(pkt *macPacket) (*tagAccessResult, error) {
	if len(pkt.Data) < 8 {
		return nil, fmt.Errorf("%w: tag access %d bytes", ErrMalformedPayload, len(pkt.Data))
	}
	res := &tagAccessResult{
		Millis:    binary.LittleEndian.Uint32(pkt.Data[0:4]),
		AccessCmd: pkt.Data[4],
		TagError:  pkt.Data[5],
		Failed:    pkt.Flags&0x01 != 0,
	}
	if len(pkt.Data) > 8 {
		res.Data = make([]byte, len(pkt.Data)-8)
		copy(res.Data, pkt.Data[8:])
	}
	return res, nil
}

// stripAbortTrailer removes the abort signature the firmware appends to the
// tail of an otherwise valid payload when an inventory is torn down
// mid-flight. Returns the trimmed payload and whether the trailer was found.
func stripAbortTrailer(p []byte) ([]byte, bool) {
	n := len(frame.AbortResponse)
	if len(p) < n {
		return p, false
	}
	tail := p[len(p)-n:]
	for i := range tail {
		if tail[i] != frame.AbortResponse[i] {
			return p, false
		}
	}
	return p[:len(p)-n], true
}

// isAbortResponse reports whether an uplink payload is exactly the abort
// acknowledgement control sequence.
func isAbortResponse(p []byte) bool {
	if len(p) != len(frame.AbortResponse) {
		return false
	}
	for i := range p {
		if p[i] != frame.AbortResponse[i] {
			return false
		}
	}
	return true
}
