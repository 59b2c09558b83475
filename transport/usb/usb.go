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

// Package usb provides the USB (CDC serial) transport for the CS108. The
// device enumerates as a virtual COM port; frames ride the serial stream
// with no extra encapsulation.
package usb

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	cs108 "github.com/trakrf/go-cs108"
	"github.com/trakrf/go-cs108/internal/syncutil"
	"go.bug.st/serial"
)

const (
	baudRate = 115200
	// readBufSize comfortably exceeds one max frame; serial reads return
	// whatever is pending, the reassembler handles the rest.
	readBufSize = 512
)

// readTimeout is the serial poll interval. Windows drivers need a longer
// window to avoid spurious zero-byte reads.
func readTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// Transport implements cs108.Transport over a serial port.
type Transport struct {
	port     serial.Port
	portName string

	mu           syncutil.Mutex
	receiver     func([]byte)
	onDisconnect func(error)
	closed       bool

	done chan struct{}
}

// Open opens the named serial port and starts the receive pump.
func Open(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		// Enumeration races right after plug-in make opens transiently
		// fail; callers retry with RetryWithConfig.
		return nil, cs108.NewTransportError("open", portName, err, cs108.ErrorTypeTransient)
	}
	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}

	t := &Transport{
		port:     port,
		portName: portName,
		done:     make(chan struct{}),
	}
	go t.readPump()
	return t, nil
}

// Write sends raw bytes to the device.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return cs108.ErrTransportClosed
	}
	for len(data) > 0 {
		n, err := t.port.Write(data)
		if err != nil {
			return cs108.NewTransportError("write", t.portName, err, cs108.ErrorTypeTransient)
		}
		data = data[n:]
	}
	return nil
}

// SetReceiver registers the chunk callback.
func (t *Transport) SetReceiver(fn func(chunk []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = fn
}

// SetOnDisconnect registers the link-loss callback.
func (t *Transport) SetOnDisconnect(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// Close closes the port and stops the receive pump.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.port.Close()
	<-t.done
	if err != nil {
		return fmt.Errorf("close serial port %s: %w", t.portName, err)
	}
	return nil
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type identifies the link layer.
func (t *Transport) Type() cs108.TransportType {
	return cs108.TransportUSB
}

// PortName returns the underlying serial port name.
func (t *Transport) PortName() string {
	return t.portName
}

// readPump drains the port and hands chunks to the receiver. A read error
// on an open port means the cable is gone.
func (t *Transport) readPump() {
	defer close(t.done)
	buf := make([]byte, readBufSize)
	for {
		n, err := t.port.Read(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			fn := t.onDisconnect
			t.mu.Unlock()
			var pe *serial.PortError
			if closed || (errors.As(err, &pe) && pe.Code() == serial.PortClosed) {
				return
			}
			if fn != nil {
				fn(cs108.NewTransportError("read", t.portName, err, cs108.ErrorTypePermanent))
			}
			return
		}
		if n == 0 {
			continue // poll timeout
		}
		t.mu.Lock()
		fn := t.receiver
		t.mu.Unlock()
		if fn != nil {
			fn(buf[:n])
		}
	}
}
