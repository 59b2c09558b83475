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

// Package frame implements the CS108 vendor framing layer: the 8-byte
// header, the table-driven CRC-16, and reassembly of fragmented
// transport chunks into complete frames.
//
// Wire format (CS108 Low Level API):
//
//	[0] 0xA7 prefix
//	[1] connection byte (0xB3 BLE, 0xE6 USB)
//	[2] payload length, 1..120
//	[3] destination/source module ID
//	[4] reserve (downlink) or sequence counter (uplink RFID)
//	[5] direction (0x37 downlink, 0x9E uplink)
//	[6] CRC high byte
//	[7] CRC low byte
//	[8..] payload
package frame

// Frame layout constants.
const (
	// Prefix is the first byte of every framed packet.
	Prefix byte = 0xA7

	// HeaderLen is the fixed header size preceding the payload.
	HeaderLen = 8

	// MaxPayloadLen is the largest payload the firmware accepts in one frame.
	MaxPayloadLen = 120

	// MaxFrameLen is the largest complete frame on the wire.
	MaxFrameLen = HeaderLen + MaxPayloadLen
)

// Connection bytes identify the transport the frame travels over.
const (
	ConnBLE byte = 0xB3
	ConnUSB byte = 0xE6
)

// Direction bytes, header byte 5.
const (
	DirDownlink byte = 0x37
	DirUplink   byte = 0x9E
)

// ReserveDownlink is the fixed value of header byte 4 on downlink frames.
// On uplink RFID frames the same byte carries a wrapping sequence counter.
const ReserveDownlink byte = 0x82

// Module identifiers, header byte 3.
const (
	ModuleRFID        byte = 0xC2
	ModuleBarcode     byte = 0x6A
	ModuleNotify      byte = 0xD9
	ModuleSiliconLab  byte = 0xE8
	ModuleBluetoothIC byte = 0x5F
)

// ValidModule reports whether b is a known module identifier.
func ValidModule(b byte) bool {
	switch b {
	case ModuleRFID, ModuleBarcode, ModuleNotify, ModuleSiliconLab, ModuleBluetoothIC:
		return true
	default:
		return false
	}
}

// AbortCommand is the fixed downlink abort control frame. It bypasses the
// normal header framing entirely and is written to the transport as-is.
var AbortCommand = []byte{0x40, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// AbortResponse is the uplink answer to AbortCommand. The firmware may also
// append it to the tail of an otherwise valid RFID payload when an inventory
// is torn down mid-burst; parsers strip it and mark the operation aborted.
var AbortResponse = []byte{0x40, 0x03, 0xBF, 0xFC, 0xBF, 0xFC, 0xBF, 0xFC}
