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

// Package testing provides a wire-level CS108 device simulator. The
// VirtualCS108 consumes raw downlink bytes and produces raw uplink chunks,
// fragmented at a configurable MTU the way BLE notifications are. It
// models the documented firmware quirks (omitted stop acknowledgements,
// abort trailers) so engine tests can exercise them deterministically.
package testing

import (
	"encoding/binary"

	"github.com/trakrf/go-cs108/internal/frame"
	"github.com/trakrf/go-cs108/internal/syncutil"
)

// Event codes mirrored from the engine, big-endian on the wire.
const (
	codeRFIDPowerOn   uint16 = 0x8000
	codeRFIDPowerOff  uint16 = 0x8001
	codeRFIDCommand   uint16 = 0x8002
	codeRFIDFirmware  uint16 = 0x8003
	codeRFIDResponse  uint16 = 0x8100
	codeBarcodePwrOn  uint16 = 0x9000
	codeBarcodePwrOff uint16 = 0x9001
	codeBarcodeStart  uint16 = 0x9003
	codeBarcodeStop   uint16 = 0x9004
	codeBarcodeData   uint16 = 0x9100
	codeBatteryReport uint16 = 0xA000
	codeTriggerQuery  uint16 = 0xA001
	codeBatteryStart  uint16 = 0xA002
	codeBatteryStop   uint16 = 0xA003
	codeTriggerStart  uint16 = 0xA008
	codeTriggerStop   uint16 = 0xA009
	codeTriggerPush   uint16 = 0xA102
	codeTriggerFree   uint16 = 0xA103
	codeSilabVersion  uint16 = 0xB000
	codeSilabSerial   uint16 = 0xB004
	codeBTICVersion   uint16 = 0xC000
	codeBTICGetName   uint16 = 0xC001
	codeBTICSetName   uint16 = 0xC003
)

const (
	regHostCmd       uint16 = 0xF000
	hostCmdInventory uint32 = 0x0F
	hostCmdRead      uint32 = 0x10
	hostCmdWrite     uint32 = 0x11
	hostCmdLock      uint32 = 0x12
)

// VirtualCS108 simulates the device side of the protocol.
type VirtualCS108 struct {
	mu   syncutil.Mutex
	rb   *frame.Reassembler
	send func(chunk []byte)

	// MTU fragments uplink traffic; 20 matches the default BLE payload.
	MTU int

	// Quirk switches.
	OmitBatteryStopReply bool // drop the battery stop acknowledgement
	OmitTriggerStopReply bool // drop the trigger stop acknowledgement
	DropAbortAck         bool // never acknowledge the inventory abort
	AbortAsTrailer       bool // append the abort ack to the next RFID payload
	HoldTagAccessResult  bool // park the tag access result until released

	seq            byte
	rfidPowered    bool
	barcodePowered bool
	scanning       bool
	batteryReports bool
	triggerReports bool
	triggerPressed bool
	deviceName     []byte
	registers      map[uint16]uint32
	tagAccessData  []byte // canned data for the next tag access
	parkedAccess   []byte // tag access result held by HoldTagAccessResult
	pendingTrailer bool
}

// NewVirtualCS108 creates a powered-off simulated device.
func NewVirtualCS108() *VirtualCS108 {
	return &VirtualCS108{
		MTU:        20,
		rb:         frame.NewReassembler(0),
		registers:  make(map[uint16]uint32),
		deviceName: []byte("CS108 Reader"),
	}
}

// SetSender registers where uplink chunks go. Tests typically wire this to
// a mock transport's Inject.
func (v *VirtualCS108) SetSender(fn func(chunk []byte)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.send = fn
}

// Scanning reports whether an inventory is running.
func (v *VirtualCS108) Scanning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scanning
}

// Register returns the last value written to a firmware register.
func (v *VirtualCS108) Register(addr uint16) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registers[addr]
}

// SetTagAccessData sets the payload the next tag access result carries.
func (v *VirtualCS108) SetTagAccessData(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tagAccessData = data
}

// HostWrite consumes raw downlink bytes from the host.
func (v *VirtualCS108) HostWrite(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// The abort command bypasses framing; it can only appear whole since
	// downlink writes are not fragmented.
	if len(data) >= len(frame.AbortCommand) && matches(data[:len(frame.AbortCommand)], frame.AbortCommand) {
		v.handleAbort()
		return
	}

	if err := v.rb.Write(data); err != nil {
		return
	}
	for f := v.rb.Next(); f != nil; f = v.rb.Next() {
		if f.Control {
			v.handleAbort()
			continue
		}
		v.handleFrame(f)
	}
}

func (v *VirtualCS108) handleAbort() {
	v.scanning = false
	if v.DropAbortAck {
		return
	}
	if v.AbortAsTrailer {
		v.pendingTrailer = true
		return
	}
	v.emitRaw(frame.AbortResponse)
}

func (v *VirtualCS108) handleFrame(f *frame.Frame) {
	code, ok := f.EventCode()
	if !ok {
		return
	}
	payload := f.Payload[2:]

	switch f.Module {
	case frame.ModuleRFID:
		v.handleRFID(code, payload)
	case frame.ModuleBarcode:
		v.handleBarcode(code)
	case frame.ModuleNotify:
		v.handleNotify(code)
	case frame.ModuleSiliconLab:
		v.handleSilab(code)
	case frame.ModuleBluetoothIC:
		v.handleBTIC(code, payload)
	}
}

func (v *VirtualCS108) handleRFID(code uint16, payload []byte) {
	switch code {
	case codeRFIDPowerOn:
		v.rfidPowered = true
		v.echo(frame.ModuleRFID, code, []byte{0x00})
	case codeRFIDPowerOff:
		v.rfidPowered = false
		v.scanning = false
		v.echo(frame.ModuleRFID, code, []byte{0x00})
	case codeRFIDFirmware:
		v.echo(frame.ModuleRFID, code, []byte{2, 6, 8, 0})
	case codeRFIDCommand:
		v.handleMACCommand(payload)
	}
}

// handleMACCommand decodes register reads and writes.
func (v *VirtualCS108) handleMACCommand(p []byte) {
	if len(p) < 4 {
		return
	}
	sel := uint16(p[0])<<8 | uint16(p[1])
	addr := binary.LittleEndian.Uint16(p[2:4])

	switch sel {
	case 0x7000: // register read
		v.emitRegisterResponse(sel, addr, v.registers[addr])
	case 0x7001: // register write
		if len(p) < 8 {
			return
		}
		value := binary.LittleEndian.Uint32(p[4:8])
		v.registers[addr] = value
		if addr == regHostCmd {
			v.handleHostCommand(value)
			return
		}
		v.emitRegisterResponse(sel, addr, value)
	}
}

// handleHostCommand launches the radio operation named by a RegHostCmd
// write. The write itself is still echoed first, like real firmware.
func (v *VirtualCS108) handleHostCommand(value uint32) {
	v.emitRegisterResponse(0x7001, regHostCmd, value)
	switch value {
	case hostCmdInventory:
		v.scanning = true
		v.emitMACPacket(0x01, 0, 0x0000, nil) // command begin
	case hostCmdRead, hostCmdWrite, hostCmdLock:
		data := make([]byte, 8+len(v.tagAccessData))
		copy(data[8:], v.tagAccessData)
		if v.HoldTagAccessResult {
			v.parkedAccess = data
			return
		}
		v.emitMACPacket(0x01, 0, 0x0006, data)
	}
}

func (v *VirtualCS108) handleBarcode(code uint16) {
	switch code {
	case codeBarcodePwrOn:
		v.barcodePowered = true
		v.echo(frame.ModuleBarcode, code, []byte{0x00})
	case codeBarcodePwrOff:
		v.barcodePowered = false
		v.echo(frame.ModuleBarcode, code, []byte{0x00})
	case codeBarcodeStart, codeBarcodeStop:
		v.echo(frame.ModuleBarcode, code, []byte{0x00})
	}
}

func (v *VirtualCS108) handleNotify(code uint16) {
	switch code {
	case codeBatteryStart:
		v.batteryReports = true
		v.echo(frame.ModuleNotify, code, []byte{0x00})
	case codeBatteryStop:
		v.batteryReports = false
		if !v.OmitBatteryStopReply {
			v.echo(frame.ModuleNotify, code, []byte{0x00})
		}
	case codeTriggerStart:
		v.triggerReports = true
		v.echo(frame.ModuleNotify, code, []byte{0x00})
	case codeTriggerStop:
		v.triggerReports = false
		if !v.OmitTriggerStopReply {
			v.echo(frame.ModuleNotify, code, []byte{0x00})
		}
	case codeTriggerQuery:
		state := byte(0)
		if v.triggerPressed {
			state = 1
		}
		v.echo(frame.ModuleNotify, code, []byte{state})
	}
}

func (v *VirtualCS108) handleSilab(code uint16) {
	switch code {
	case codeSilabVersion:
		v.echo(frame.ModuleSiliconLab, code, []byte{1, 0, 2})
	case codeSilabSerial:
		v.echo(frame.ModuleSiliconLab, code, []byte("CS108-00421"))
	}
}

func (v *VirtualCS108) handleBTIC(code uint16, payload []byte) {
	switch code {
	case codeBTICVersion:
		v.echo(frame.ModuleBluetoothIC, code, []byte{1, 0, 13})
	case codeBTICGetName:
		v.echo(frame.ModuleBluetoothIC, code, v.deviceName)
	case codeBTICSetName:
		v.deviceName = append([]byte(nil), payload...)
		v.echo(frame.ModuleBluetoothIC, code, []byte{0x00})
	}
}

// ReleaseTagAccess emits a tag access result parked by HoldTagAccessResult.
func (v *VirtualCS108) ReleaseTagAccess() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.parkedAccess == nil {
		return
	}
	data := v.parkedAccess
	v.parkedAccess = nil
	v.emitMACPacket(0x01, 0, 0x0006, data)
}

// PressTrigger simulates the physical trigger being pulled.
func (v *VirtualCS108) PressTrigger() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggerPressed = true
	if v.triggerReports {
		v.emitEvent(frame.ModuleNotify, codeTriggerPush, nil)
	}
}

// ReleaseTrigger simulates the physical trigger being let go.
func (v *VirtualCS108) ReleaseTrigger() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggerPressed = false
	if v.triggerReports {
		v.emitEvent(frame.ModuleNotify, codeTriggerFree, nil)
	}
}

// EmitBatteryReport sends one battery voltage notification.
func (v *VirtualCS108) EmitBatteryReport(millivolts uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, millivolts)
	v.emitEvent(frame.ModuleNotify, codeBatteryReport, p)
}

// EmitBarcode sends one decoded barcode.
func (v *VirtualCS108) EmitBarcode(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emitEvent(frame.ModuleBarcode, codeBarcodeData, data)
}

// EmitCompactTag reports one tag read in compact inventory format.
func (v *VirtualCS108) EmitCompactTag(epc []byte, rssi byte, port byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.scanning {
		return
	}
	pc := uint16(len(epc)/2) << 11
	p := make([]byte, 0, 2+2+len(epc)+1)
	p = append(p, 0x04, port)
	p = append(p, byte(pc>>8), byte(pc))
	p = append(p, epc...)
	p = append(p, rssi)
	v.emitEvent(frame.ModuleRFID, codeRFIDResponse, p)
}

// EmitCommandEnd reports the inventory ending with the given status.
func (v *VirtualCS108) EmitCommandEnd(status uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scanning = false
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[4:6], status)
	v.emitMACPacket(0x01, 0, 0x0001, data)
}

func (v *VirtualCS108) echo(module byte, code uint16, payload []byte) {
	v.emitEvent(module, code, payload)
}

// emitEvent frames and sends one uplink event, honoring a pending abort
// trailer on RFID traffic.
func (v *VirtualCS108) emitEvent(module byte, code uint16, payload []byte) {
	p := make([]byte, 0, 2+len(payload)+len(frame.AbortResponse))
	p = append(p, byte(code>>8), byte(code))
	p = append(p, payload...)
	if v.pendingTrailer && module == frame.ModuleRFID {
		p = append(p, frame.AbortResponse...)
		v.pendingTrailer = false
	}
	seq := byte(0)
	if module == frame.ModuleRFID {
		seq = v.seq
		v.seq++
	}
	pkt, err := frame.MarshalUplink(frame.ConnBLE, module, seq, p)
	if err != nil {
		return
	}
	v.emitRaw(pkt)
}

// emitRegisterResponse echoes a register read or write back to the host:
// selector MSB first, address and value reverse populated, inside an RFID
// response frame.
func (v *VirtualCS108) emitRegisterResponse(sel, addr uint16, value uint32) {
	p := make([]byte, 8)
	p[0] = byte(sel >> 8)
	p[1] = byte(sel & 0xFF)
	binary.LittleEndian.PutUint16(p[2:4], addr)
	binary.LittleEndian.PutUint32(p[4:8], value)
	v.emitEvent(frame.ModuleRFID, codeRFIDResponse, p)
}

// emitMACPacket sends a MAC packet inside an RFID response frame with the
// 8-byte common header.
func (v *VirtualCS108) emitMACPacket(version, flags byte, pktType uint16, data []byte) {
	words := (len(data) + 3) / 4
	p := make([]byte, 8+len(data))
	p[0] = version
	p[1] = flags
	binary.LittleEndian.PutUint16(p[2:4], pktType)
	binary.LittleEndian.PutUint16(p[4:6], uint16(words))
	copy(p[8:], data)
	v.emitEvent(frame.ModuleRFID, codeRFIDResponse, p)
}

// emitRaw fragments bytes at the MTU and hands them to the sender.
func (v *VirtualCS108) emitRaw(data []byte) {
	if v.send == nil {
		return
	}
	mtu := v.MTU
	if mtu <= 0 {
		mtu = len(data)
	}
	for len(data) > 0 {
		n := min(mtu, len(data))
		chunk := make([]byte, n)
		copy(chunk, data[:n])
		v.send(chunk)
		data = data[n:]
	}
}

func matches(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
