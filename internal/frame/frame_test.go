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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalDownlinkHeader(t *testing.T) {
	t.Parallel()

	payload := []byte{0x80, 0x00}
	pkt, err := Marshal(ConnBLE, ModuleRFID, payload)
	require.NoError(t, err)

	require.Len(t, pkt, HeaderLen+len(payload))
	assert.Equal(t, Prefix, pkt[0])
	assert.Equal(t, ConnBLE, pkt[1])
	assert.Equal(t, byte(len(payload)), pkt[2])
	assert.Equal(t, ModuleRFID, pkt[3])
	assert.Equal(t, ReserveDownlink, pkt[4])
	assert.Equal(t, DirDownlink, pkt[5])
	// Downlink frames carry zero CRC bytes by convention.
	assert.Equal(t, byte(0), pkt[6])
	assert.Equal(t, byte(0), pkt[7])
	assert.Equal(t, payload, pkt[HeaderLen:])
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	modules := []byte{ModuleRFID, ModuleBarcode, ModuleNotify, ModuleSiliconLab, ModuleBluetoothIC}
	for _, module := range modules {
		for _, size := range []int{0, 1, 2, 17, MaxPayloadLen} {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i * 7)
			}

			pkt, err := MarshalUplink(ConnUSB, module, 0x42, payload)
			require.NoError(t, err)

			f, err := Parse(pkt)
			require.NoError(t, err, "module 0x%02X size %d", module, size)
			assert.Equal(t, module, f.Module)
			assert.Equal(t, byte(0x42), f.Seq)
			assert.Equal(t, ConnUSB, f.Conn)
			assert.True(t, f.Uplink())
			assert.True(t, f.CRCValid)
			assert.Equal(t, payload, f.Payload)
		}
	}
}

func TestMarshalRejectsOversizePayload(t *testing.T) {
	t.Parallel()

	_, err := Marshal(ConnBLE, ModuleRFID, make([]byte, MaxPayloadLen+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestMarshalRejectsUnknownModule(t *testing.T) {
	t.Parallel()

	_, err := Marshal(ConnBLE, 0x00, []byte{0x01})
	require.ErrorIs(t, err, ErrUnknownModule)
}

func TestParseInvalidPrefix(t *testing.T) {
	t.Parallel()

	pkt, err := MarshalUplink(ConnBLE, ModuleNotify, 0, []byte{0xA0, 0x00})
	require.NoError(t, err)
	pkt[0] = 0x55

	_, err = Parse(pkt)
	require.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestParseCRCMismatch(t *testing.T) {
	t.Parallel()

	pkt, err := MarshalUplink(ConnBLE, ModuleRFID, 3, []byte{0x81, 0x00, 0x01})
	require.NoError(t, err)
	pkt[HeaderLen] ^= 0xFF // corrupt payload, leave CRC

	f, err := Parse(pkt)
	require.ErrorIs(t, err, ErrCRCMismatch)
	// The decoded header is still returned for logging.
	require.NotNil(t, f)
	assert.Equal(t, ModuleRFID, f.Module)
}

func TestParseZeroCRCSkipsCheck(t *testing.T) {
	t.Parallel()

	// Downlink-style frames with zeroed CRC bytes must parse without a
	// checksum error even though the computed CRC is non-zero.
	pkt, err := Marshal(ConnUSB, ModuleBarcode, []byte{0x90, 0x03})
	require.NoError(t, err)

	f, err := Parse(pkt)
	require.NoError(t, err)
	assert.False(t, f.CRCValid)
}

func TestParseTruncated(t *testing.T) {
	t.Parallel()

	pkt, err := MarshalUplink(ConnBLE, ModuleRFID, 0, make([]byte, 20))
	require.NoError(t, err)

	_, err = Parse(pkt[:HeaderLen+10])
	require.ErrorIs(t, err, ErrTruncated)

	_, err = Parse(pkt[:5])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestEventCode(t *testing.T) {
	t.Parallel()

	f := &Frame{Payload: []byte{0xA1, 0x02, 0x01}}
	code, ok := f.EventCode()
	require.True(t, ok)
	assert.Equal(t, uint16(0xA102), code)

	f = &Frame{Payload: []byte{0xA1}}
	_, ok = f.EventCode()
	assert.False(t, ok)
}

func TestChecksumStability(t *testing.T) {
	t.Parallel()

	// The table-driven CRC must agree with the straightforward bitwise
	// implementation it replaced.
	bitwise := func(data []byte) uint16 {
		crc := uint16(0xFFFF)
		for _, b := range data {
			crc ^= uint16(b)
			for i := 0; i < 8; i++ {
				if crc&0x0001 != 0 {
					crc = (crc >> 1) ^ 0x8408
				} else {
					crc >>= 1
				}
			}
		}
		return crc
	}

	data := bytes.Repeat([]byte{0xA7, 0x00, 0x33, 0xC2}, 13)
	for i := 0; i <= len(data); i++ {
		assert.Equal(t, bitwise(data[:i]), Checksum(data[:i]), "length %d", i)
	}
}
