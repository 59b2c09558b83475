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

import "github.com/trakrf/go-cs108/internal/frame"

// RFID firmware register addresses. Writing a command value to RegHostCmd
// launches the corresponding radio operation; the other registers configure
// it first. Addresses and data words are little-endian on the wire.
const (
	// RegHostCmd launches a radio operation.
	RegHostCmd uint16 = 0xF000

	// Inventory configuration.
	RegInvCfg        uint16 = 0x0901
	RegInvAlgoParm0  uint16 = 0x0903
	RegInvAlgoParm1  uint16 = 0x0904
	RegInvAlgoParm2  uint16 = 0x0905
	RegInvEPCMatch   uint16 = 0x0805
	RegQueryCfg      uint16 = 0x0900
	RegAntennaPort   uint16 = 0x0701
	RegAntennaCfg    uint16 = 0x0702
	RegAntennaDwell  uint16 = 0x0705
	RegAntennaPower  uint16 = 0x0706
	RegCurrentLinkPr uint16 = 0x0B00

	// Tag access configuration.
	RegTagAccessDesc uint16 = 0x0A01
	RegTagAccessBank uint16 = 0x0A02
	RegTagAccessPtr  uint16 = 0x0A03
	RegTagAccessCnt  uint16 = 0x0A04
	RegTagAccessLock uint16 = 0x0A05
	RegTagWriteData0 uint16 = 0x0A06
	RegAccessPasswd  uint16 = 0x0A00
)

// RegHostCmd command values.
const (
	HostCmdIdle      uint32 = 0x00
	HostCmdInventory uint32 = 0x0F
	HostCmdRead      uint32 = 0x10
	HostCmdWrite     uint32 = 0x11
	HostCmdLock      uint32 = 0x12
	HostCmdKill      uint32 = 0x13
)

// MemoryBank selects a tag memory bank for access operations.
type MemoryBank uint32

const (
	BankReserved MemoryBank = 0
	BankEPC      MemoryBank = 1
	BankTID      MemoryBank = 2
	BankUser     MemoryBank = 3
)

func (b MemoryBank) String() string {
	switch b {
	case BankReserved:
		return "reserved"
	case BankEPC:
		return "epc"
	case BankTID:
		return "tid"
	case BankUser:
		return "user"
	default:
		return "invalid"
	}
}

// newRegisterReadCommand builds the RFID frame command for a register read.
// Register exchanges complete on the echoed register response.
func newRegisterReadCommand(addr uint16) *Command {
	return &Command{
		Name:      "register read",
		Module:    ModuleRFID,
		Code:      evtRFIDCommand,
		Payload:   buildRegisterRead(addr),
		Timeout:   DefaultCommandTimeout,
		Retryable: true,
		complete:  completeOnEcho,
	}
}

// newRegisterWriteCommand builds the RFID frame command for a register write.
func newRegisterWriteCommand(addr uint16, value uint32) *Command {
	return &Command{
		Name:      "register write",
		Module:    ModuleRFID,
		Code:      evtRFIDCommand,
		Payload:   buildRegisterWrite(addr, value),
		Timeout:   DefaultCommandTimeout,
		Retryable: true,
		complete:  completeOnEcho,
	}
}

// newHostCommand launches a radio operation by writing RegHostCmd. mode
// selects how the exchange resolves: inventory starts resolve on
// Command-Begin, one-shot access operations on their result packet.
func newHostCommand(name string, cmd uint32, mode completionMode) *Command {
	return &Command{
		Name:     name,
		Module:   ModuleRFID,
		Code:     evtRFIDCommand,
		Payload:  buildRegisterWrite(RegHostCmd, cmd),
		complete: mode,
	}
}

// newInventoryStartCommand starts a continuous inventory. Not retryable: a
// lost start is surfaced so the caller can decide, because a blind resend
// can double-start the radio.
func newInventoryStartCommand() *Command {
	c := newHostCommand("inventory start", HostCmdInventory, completeOnBegin)
	c.Timeout = ScanStartTimeout
	return c
}

// newInventoryStopCommand aborts a running inventory with the raw control
// sequence. The acknowledgement frequently never arrives on production
// firmware, so its timeout resolves as success.
func newInventoryStopCommand() *Command {
	raw := make([]byte, len(frame.AbortCommand))
	copy(raw, frame.AbortCommand)
	return &Command{
		Name:        "inventory stop",
		Module:      ModuleRFID,
		Raw:         raw,
		Timeout:     ScanStopTimeout,
		OmitReplyOK: true,
		complete:    completeOnEnd,
	}
}

// newTagAccessCommand launches a one-shot tag access operation after the
// access registers have been staged.
func newTagAccessCommand(name string, cmd uint32) *Command {
	c := newHostCommand(name, cmd, completeOnTagAccess)
	c.Timeout = TagAccessTimeout
	return c
}
