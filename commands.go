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
	"time"

	"github.com/trakrf/go-cs108/internal/frame"
)

// Module identifiers, re-exported from the framing layer.
const (
	ModuleRFID        = frame.ModuleRFID
	ModuleBarcode     = frame.ModuleBarcode
	ModuleNotify      = frame.ModuleNotify
	ModuleSiliconLab  = frame.ModuleSiliconLab
	ModuleBluetoothIC = frame.ModuleBluetoothIC
)

// EventCode is the 16-bit operation code carried in the first two payload
// bytes of a frame, most-significant byte first. Register addresses and data
// words inside RFID payloads are little-endian; the event code is not.
type EventCode uint16

// RFID module event codes.
const (
	evtRFIDPowerOn  EventCode = 0x8000 // downlink; echoed with status
	evtRFIDPowerOff EventCode = 0x8001
	evtRFIDCommand  EventCode = 0x8002 // downlink; carries a MAC command
	evtRFIDFirmware EventCode = 0x8003
	evtRFIDResponse EventCode = 0x8100 // uplink; carries a MAC packet
)

// Barcode module event codes.
const (
	evtBarcodePowerOn   EventCode = 0x9000
	evtBarcodePowerOff  EventCode = 0x9001
	evtBarcodeScanStart EventCode = 0x9003
	evtBarcodeScanStop  EventCode = 0x9004
	evtBarcodeData      EventCode = 0x9100 // uplink
	evtBarcodeGoodRead  EventCode = 0x9101 // uplink
)

// Notification module event codes.
const (
	evtBatteryReport    EventCode = 0xA000 // uplink, periodic
	evtTriggerQuery     EventCode = 0xA001
	evtBatteryStart     EventCode = 0xA002
	evtBatteryStop      EventCode = 0xA003
	evtTriggerStart     EventCode = 0xA008
	evtTriggerStop      EventCode = 0xA009
	evtErrorNotify      EventCode = 0xA101 // uplink
	evtTriggerPushed    EventCode = 0xA102 // uplink
	evtTriggerReleased  EventCode = 0xA103 // uplink
)

// Silicon Labs and Bluetooth IC event codes. Firmware/identity operations,
// out of the hot path.
const (
	evtSilabVersion EventCode = 0xB000
	evtSilabSerial  EventCode = 0xB004
	evtBTICVersion  EventCode = 0xC000
	evtBTICGetName  EventCode = 0xC001
	evtBTICSetName  EventCode = 0xC003
)

// completionMode selects which uplink traffic resolves a pending exchange.
type completionMode int

const (
	// completeOnEcho resolves on an uplink frame carrying the same event
	// code (simple module commands) or the matching register response.
	completeOnEcho completionMode = iota
	// completeOnBegin resolves on the MAC Command-Begin packet. Used for
	// inventory start, whose Command-End only arrives when the inventory
	// eventually stops.
	completeOnBegin
	// completeOnEnd resolves on the MAC Command-End packet.
	completeOnEnd
	// completeOnTagAccess resolves on the Tag-Access result packet.
	completeOnTagAccess
)

// Command is one outbound intent for the device. It is created by the
// application layer, consumed exactly once by the command sequencer, and
// destroyed on completion, timeout, or queue flush.
type Command struct {
	// Name appears in errors and debug logs.
	Name string
	// Module addresses the destination module.
	Module byte
	// Code is the event code; the first two payload bytes on the wire.
	Code EventCode
	// Payload follows the event code bytes. May be nil.
	Payload []byte
	// Raw, when non-nil, bypasses framing entirely and is written to the
	// transport verbatim. Used for the abort control sequence.
	Raw []byte
	// Timeout bounds the wait for the completing reply.
	Timeout time.Duration
	// Retryable commands are requeued with backoff on timeout.
	Retryable bool
	// OmitReplyOK marks commands whose terminal reply the firmware is
	// known to sometimes drop; their timeout resolves as success.
	OmitReplyOK bool

	complete completionMode
}

// CommandResult is the terminal outcome of one command exchange.
type CommandResult struct {
	// Err is non-nil for timeouts, cancellations, and device errors.
	Err error
	// Payload is the reply payload after the event code bytes, or the
	// register/tag-access data for RFID commands.
	Payload []byte
	// Status is the device status word from the completing packet.
	Status uint16
	// Aborted marks exchanges terminated by a host abort rather than
	// normal completion.
	Aborted bool
}

func (c *Command) name() string {
	if c.Name != "" {
		return c.Name
	}
	return "command"
}

func (c *Command) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCommandTimeout
}

// Simple command constructors. Each returns a fresh Command so callers and
// the sequencer can mutate their copy freely.

func newSimpleCommand(name string, module byte, code EventCode, payload []byte, timeout time.Duration) *Command {
	return &Command{
		Name:      name,
		Module:    module,
		Code:      code,
		Payload:   payload,
		Timeout:   timeout,
		Retryable: true,
		complete:  completeOnEcho,
	}
}

func newRFIDPowerOnCommand() *Command {
	return newSimpleCommand("rfid power on", ModuleRFID, evtRFIDPowerOn, nil, DefaultCommandTimeout)
}

func newRFIDPowerOffCommand() *Command {
	return newSimpleCommand("rfid power off", ModuleRFID, evtRFIDPowerOff, nil, DefaultCommandTimeout)
}

func newRFIDFirmwareCommand() *Command {
	return newSimpleCommand("rfid firmware version", ModuleRFID, evtRFIDFirmware, nil, DefaultCommandTimeout)
}

func newBatteryQueryCommand() *Command {
	return newSimpleCommand("battery report start", ModuleNotify, evtBatteryStart, nil, BatteryCommandTimeout)
}

func newBatteryStopCommand() *Command {
	cmd := newSimpleCommand("battery report stop", ModuleNotify, evtBatteryStop, nil, BatteryCommandTimeout)
	// Documented firmware quirk: the stop acknowledgement is often dropped.
	cmd.OmitReplyOK = true
	cmd.Retryable = false
	return cmd
}

func newTriggerQueryCommand() *Command {
	return newSimpleCommand("trigger state query", ModuleNotify, evtTriggerQuery, nil, TriggerCommandTimeout)
}

func newTriggerStartCommand() *Command {
	return newSimpleCommand("trigger report start", ModuleNotify, evtTriggerStart, nil, TriggerCommandTimeout)
}

func newTriggerStopCommand() *Command {
	cmd := newSimpleCommand("trigger report stop", ModuleNotify, evtTriggerStop, nil, TriggerCommandTimeout)
	cmd.OmitReplyOK = true
	cmd.Retryable = false
	return cmd
}

func newBarcodePowerCommand(on bool) *Command {
	if on {
		return newSimpleCommand("barcode power on", ModuleBarcode, evtBarcodePowerOn, nil, DefaultCommandTimeout)
	}
	return newSimpleCommand("barcode power off", ModuleBarcode, evtBarcodePowerOff, nil, DefaultCommandTimeout)
}

func newBarcodeScanCommand(start bool) *Command {
	if start {
		return newSimpleCommand("barcode scan start", ModuleBarcode, evtBarcodeScanStart, nil, DefaultCommandTimeout)
	}
	return newSimpleCommand("barcode scan stop", ModuleBarcode, evtBarcodeScanStop, nil, DefaultCommandTimeout)
}

func newSilabVersionCommand() *Command {
	return newSimpleCommand("silicon labs version", ModuleSiliconLab, evtSilabVersion, nil, DefaultCommandTimeout)
}

func newSerialNumberCommand() *Command {
	return newSimpleCommand("serial number", ModuleSiliconLab, evtSilabSerial, nil, DefaultCommandTimeout)
}

func newBTICVersionCommand() *Command {
	return newSimpleCommand("bluetooth ic version", ModuleBluetoothIC, evtBTICVersion, nil, DefaultCommandTimeout)
}

func newDeviceNameCommand() *Command {
	return newSimpleCommand("get device name", ModuleBluetoothIC, evtBTICGetName, nil, DefaultCommandTimeout)
}

func newSetDeviceNameCommand(name string) *Command {
	return newSimpleCommand("set device name", ModuleBluetoothIC, evtBTICSetName, []byte(name), DefaultCommandTimeout)
}
