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

// crcPoly is the reflected CRC-16 polynomial used by the CS108 firmware
// (CRC-16/MCRF4XX family: poly 0x8408, init 0xFFFF, refin/refout).
const crcPoly uint16 = 0x8408

// crcTable is the byte-indexed lookup table, built once at package init.
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// Checksum computes the vendor CRC-16 over data.
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}

// checksumFrame computes the CRC over a complete frame with the two CRC
// header bytes treated as zero, which is how the firmware populates them.
func checksumFrame(pkt []byte) uint16 {
	crc := uint16(0xFFFF)
	for i, b := range pkt {
		if i == crcHiOffset || i == crcLoOffset {
			b = 0
		}
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}
