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
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

// Error categories for error handling and retry logic
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportClosed  = errors.New("transport is closed")

	// Framing errors - frame dropped, session continues
	ErrFrameCorrupted = errors.New("frame corrupted")
	ErrFrameDropped   = errors.New("uplink frame dropped")

	// Protocol errors - logged, non-fatal
	ErrUnknownFrame     = errors.New("unknown module/event combination")
	ErrMalformedPayload = errors.New("malformed payload")

	// Command errors
	ErrCommandTimeout   = errors.New("command timed out")
	ErrQueueFull        = errors.New("command queue full")
	ErrCommandCancelled = errors.New("command cancelled")
	ErrReaderClosed     = errors.New("reader is closed")

	// State errors - rejected synchronously, never queued
	ErrInvalidStateTransition = errors.New("invalid reader state transition")
	ErrNotConnected           = errors.New("reader not connected")

	// Device discovery errors
	ErrDeviceNotFound = errors.New("device not found")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// DeviceError wraps a non-zero status carried in a Command-End packet,
// mapped against the vendor's MAC error table.
type DeviceError struct {
	Command string
	Code    uint16
}

func (e *DeviceError) Error() string {
	base := fmt.Sprintf("device error 0x%04X (%s)", e.Code, macErrorMeaning(e.Code))
	if e.Command != "" {
		base = e.Command + ": " + base
	}
	return base
}

// macErrorMeaning returns a human-readable meaning for the MAC error codes
// the RFID firmware reports in Command-End status words.
func macErrorMeaning(code uint16) string {
	meanings := map[uint16]string{
		0x0000: "success",
		0x0001: "general error",
		0x0002: "parameter out of range",
		0x0003: "parameter length mismatch",
		0x0004: "unsupported command",
		0x0005: "unsupported register",
		0x0006: "command aborted",
		0x0007: "flash busy",
		0x0008: "power level out of range",
		0x0101: "CRC error on tag backscatter",
		0x0102: "tag did not reply",
		0x0103: "tag access password failure",
		0x0104: "tag memory locked",
		0x0105: "tag memory overrun",
		0x0204: "RF transceiver fault",
		0x0205: "antenna disconnected",
		0x0207: "over-temperature shutdown",
		0x0306: "inventory aborted by host",
		0x0309: "no tags in field",
	}
	if m, ok := meanings[code]; ok {
		return m
	}
	return "unknown error"
}

// IsAborted returns true if the status indicates a host-initiated abort
// rather than a device fault.
func (e *DeviceError) IsAborted() bool {
	return e.Code == 0x0006 || e.Code == 0x0306
}

// IsTagError returns true if the error is a per-tag access failure rather
// than a reader fault; the operation can be retried on the same tag.
func (e *DeviceError) IsTagError() bool {
	return e.Code >= 0x0100 && e.Code <= 0x01FF
}

// StateTransitionError reports a rejected reader state transition.
type StateTransitionError struct {
	From ReaderState
	To   ReaderState
	Op   string
}

func (e *StateTransitionError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: cannot transition %s -> %s", e.Op, e.From, e.To)
	}
	return fmt.Sprintf("cannot transition %s -> %s", e.From, e.To)
}

func (*StateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	var de *DeviceError
	if errors.As(err, &de) {
		// Per-tag failures are worth retrying; reader faults are not.
		return de.IsTagError()
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrCommandTimeout),
		errors.Is(err, ErrFrameCorrupted):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/connection is gone
// and the session should end. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrReaderClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// isDeviceGoneError checks for OS-level errors indicating device
// disconnection. These occur when the USB cable is unplugged or the BLE
// link drops during I/O.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}
	}

	return false
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if len(data) > 32 {
		parts := make([]string, 32)
		for i := 0; i < 32; i++ {
			parts[i] = fmt.Sprintf("%02X", data[i])
		}
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
