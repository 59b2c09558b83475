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
	"github.com/trakrf/go-cs108/internal/frame"
	"github.com/trakrf/go-cs108/internal/syncutil"
)

// TransportType identifies the link layer carrying frames.
type TransportType string

const (
	TransportBLE  TransportType = "ble"
	TransportUSB  TransportType = "usb"
	TransportMock TransportType = "mock"
)

// connByte returns the connection byte the device expects in the frame
// header for this link type.
func (t TransportType) connByte() byte {
	if t == TransportUSB {
		return frame.ConnUSB
	}
	return frame.ConnBLE
}

// Transport is a byte-chunk pipe to the device. Implementations deliver
// received chunks to the registered receiver exactly as they arrive from
// the link layer; fragmentation and frame boundaries are the reassembler's
// problem, not the transport's.
//
// Write must be safe for concurrent use. The receiver callback must never
// block for long: it feeds the engine loop.
type Transport interface {
	// Write sends raw bytes to the device.
	Write(data []byte) error

	// SetReceiver registers the callback for received chunks. Must be
	// called before data can arrive; chunks received with no receiver
	// registered are dropped.
	SetReceiver(fn func(chunk []byte))

	// SetOnDisconnect registers the callback for unsolicited link loss.
	SetOnDisconnect(fn func(err error))

	// Close tears down the link. Safe to call more than once.
	Close() error

	// IsConnected reports whether the link is currently up.
	IsConnected() bool

	// Type identifies the link layer.
	Type() TransportType
}

// MockTransport is an in-memory Transport for tests. Writes are captured
// for inspection; Inject simulates device-to-host chunks.
type MockTransport struct {
	mu           syncutil.Mutex
	writes       [][]byte
	receiver     func([]byte)
	onDisconnect func(error)
	writeErr     error
	onWrite      func(data []byte)
	closed       bool
}

// NewMockTransport creates a connected mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Write(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrTransportClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)
	hook := m.onWrite
	m.mu.Unlock()

	// Run the hook outside the lock so it can Inject a reply.
	if hook != nil {
		hook(buf)
	}
	return nil
}

func (m *MockTransport) SetReceiver(fn func(chunk []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiver = fn
}

func (m *MockTransport) SetOnDisconnect(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *MockTransport) Type() TransportType {
	return TransportMock
}

// Inject delivers a device-to-host chunk to the registered receiver.
func (m *MockTransport) Inject(chunk []byte) {
	m.mu.Lock()
	fn := m.receiver
	m.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

// Drop simulates unsolicited link loss.
func (m *MockTransport) Drop(err error) {
	m.mu.Lock()
	m.closed = true
	fn := m.onDisconnect
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Writes returns a copy of all captured downlink writes.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// LastWrite returns the most recent downlink write, or nil.
func (m *MockTransport) LastWrite() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil
	}
	return m.writes[len(m.writes)-1]
}

// SetWriteError makes subsequent writes fail with err.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// OnWrite registers a hook invoked after every successful write, outside
// the transport lock. Tests use it to script device replies.
func (m *MockTransport) OnWrite(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}
