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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakrf/go-cs108/internal/frame"
)

func TestBuildRegisterCommands(t *testing.T) {
	t.Parallel()

	// Selector rides MSB first, address little-endian.
	assert.Equal(t, []byte{0x70, 0x00, 0x01, 0x09}, buildRegisterRead(RegInvCfg))

	// Write adds the 32-bit value, little-endian.
	got := buildRegisterWrite(RegHostCmd, HostCmdInventory)
	assert.Equal(t, []byte{0x70, 0x01, 0x00, 0xF0, 0x0F, 0x00, 0x00, 0x00}, got)
}

func TestParseRegisterResponse(t *testing.T) {
	t.Parallel()

	resp, err := parseRegisterResponse([]byte{0x70, 0x00, 0x06, 0x07, 0x2C, 0x01, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, RegAntennaPower, resp.Addr)
	assert.Equal(t, uint32(300), resp.Value)
	assert.False(t, resp.Write)

	resp, err = parseRegisterResponse(buildRegisterWrite(RegAntennaDwell, 2000))
	require.NoError(t, err)
	assert.Equal(t, RegAntennaDwell, resp.Addr)
	assert.Equal(t, uint32(2000), resp.Value)
	assert.True(t, resp.Write)

	_, err = parseRegisterResponse([]byte{0x70, 0x00, 0x06})
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = parseRegisterResponse([]byte{0x70, 0x7F, 0, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrMalformedPayload, "unknown selector")
}

func TestIsRegisterResponse(t *testing.T) {
	t.Parallel()

	assert.True(t, isRegisterResponse([]byte{0x70, 0x00, 0x01, 0x09}))
	assert.True(t, isRegisterResponse([]byte{0x70, 0x01}))
	assert.False(t, isRegisterResponse([]byte{0x01, 0x00}), "MAC packet version byte")
	assert.False(t, isRegisterResponse([]byte{0x70}))
}

// buildMACPacket assembles an uplink packet from its header fields and data.
func buildMACPacket(version, flags byte, pktType uint16, data []byte) []byte {
	p := make([]byte, macHeaderLen+len(data))
	p[0] = version
	p[1] = flags
	binary.LittleEndian.PutUint16(p[2:4], pktType)
	binary.LittleEndian.PutUint16(p[4:6], uint16(2+(len(data)+3)/4))
	copy(p[macHeaderLen:], data)
	return p
}

func TestParseMACPacket(t *testing.T) {
	t.Parallel()

	raw := buildMACPacket(macVerCommand, 0x00, macPktCommandBegin, []byte{0x01, 0x02, 0x03, 0x04})
	pkt, err := parseMACPacket(raw)
	require.NoError(t, err)
	assert.Equal(t, macVerCommand, pkt.Version)
	assert.Equal(t, macPktCommandBegin, pkt.Type)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, pkt.Data)

	_, err = parseMACPacket([]byte{0x01, 0x00, 0x00})
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = parseMACPacket(buildMACPacket(0x5A, 0, macPktCommandBegin, nil))
	require.ErrorIs(t, err, ErrMalformedPayload, "unknown version byte")
}

func TestCommandEndStatus(t *testing.T) {
	t.Parallel()

	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], 98765)
	binary.LittleEndian.PutUint16(data[4:6], 0x0306)
	pkt, err := parseMACPacket(buildMACPacket(macVerCommand, 0, macPktCommandEnd, data))
	require.NoError(t, err)

	millis, status, err := commandEndStatus(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(98765), millis)
	assert.Equal(t, uint16(0x0306), status)

	_, _, err = commandEndStatus(&macPacket{Data: make([]byte, 4)})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseTagAccess(t *testing.T) {
	t.Parallel()

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 555)
	data[4] = 0xC2 // access command
	data[5] = 0x00
	copy(data[8:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	pkt, err := parseMACPacket(buildMACPacket(macVerCommand, 0x00, macPktTagAccess, data))
	require.NoError(t, err)
	res, err := parseTagAccess(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(555), res.Millis)
	assert.Equal(t, byte(0xC2), res.AccessCmd)
	assert.False(t, res.Failed)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, res.Data)

	// Error flag in header bit 0, tag error code in the data.
	data[5] = 0x03
	pkt, err = parseMACPacket(buildMACPacket(macVerCommand, 0x01, macPktTagAccess, data[:8]))
	require.NoError(t, err)
	res, err = parseTagAccess(pkt)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, byte(0x03), res.TagError)
	assert.Empty(t, res.Data)
}

func TestStripAbortTrailer(t *testing.T) {
	t.Parallel()

	payload := []byte{0x01, 0x00, 0x05, 0x00, 0xAA, 0xBB}

	withTrailer := append(append([]byte{}, payload...), frame.AbortResponse...)
	got, found := stripAbortTrailer(withTrailer)
	assert.True(t, found)
	assert.Equal(t, payload, got)

	got, found = stripAbortTrailer(payload)
	assert.False(t, found)
	assert.Equal(t, payload, got)

	// Bare abort response strips to nothing.
	got, found = stripAbortTrailer(append([]byte{}, frame.AbortResponse...))
	assert.True(t, found)
	assert.Empty(t, got)

	short := []byte{0xBF, 0xFC}
	_, found = stripAbortTrailer(short)
	assert.False(t, found)
}

func TestIsAbortResponse(t *testing.T) {
	t.Parallel()

	assert.True(t, isAbortResponse(append([]byte{}, frame.AbortResponse...)))
	assert.False(t, isAbortResponse(frame.AbortCommand))
	assert.False(t, isAbortResponse(append(append([]byte{}, frame.AbortResponse...), 0x00)))
}
