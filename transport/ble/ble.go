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

// Package ble provides the Bluetooth Low Energy transport for the CS108.
// The device exposes a vendor service with one write characteristic for
// downlink and one notify characteristic for uplink; notifications arrive
// in MTU-sized fragments the engine reassembles.
package ble

import (
	"context"
	"fmt"
	"strings"
	"time"

	cs108 "github.com/trakrf/go-cs108"
	"github.com/trakrf/go-cs108/internal/syncutil"
	"tinygo.org/x/bluetooth"
)

// CS108 vendor GATT identifiers.
var (
	serviceUUID = bluetooth.New16BitUUID(0x9800)
	writeUUID   = bluetooth.New16BitUUID(0x9900)
	notifyUUID  = bluetooth.New16BitUUID(0x9901)
)

// defaultNamePrefix matches the factory advertising name.
const defaultNamePrefix = "CS108"

// defaultScanTimeout bounds device discovery.
const defaultScanTimeout = 10 * time.Second

// Transport implements cs108.Transport over a BLE link.
type Transport struct {
	device bluetooth.Device
	write  bluetooth.DeviceCharacteristic
	notify bluetooth.DeviceCharacteristic
	name   string

	mu           syncutil.Mutex
	receiver     func([]byte)
	onDisconnect func(error)
	closed       bool
}

// Connect scans for a CS108 advertising under namePrefix (the factory
// default when empty), connects, and wires the vendor characteristics.
func Connect(ctx context.Context, namePrefix string) (*Transport, error) {
	if namePrefix == "" {
		namePrefix = defaultNamePrefix
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable BLE adapter: %w", err)
	}

	addr, name, err := scan(ctx, adapter, namePrefix)
	if err != nil {
		return nil, err
	}

	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, cs108.NewTransportError("connect", name, err, cs108.ErrorTypeTransient)
	}

	t := &Transport{device: device, name: name}
	if err := t.wireCharacteristics(); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		if !connected {
			t.linkLost()
		}
	})
	return t, nil
}

// scan finds the first advertiser whose local name carries prefix.
func scan(ctx context.Context, adapter *bluetooth.Adapter, prefix string) (bluetooth.Address, string, error) {
	type hit struct {
		addr bluetooth.Address
		name string
	}
	found := make(chan hit, 1)

	scanCtx, cancel := context.WithTimeout(ctx, defaultScanTimeout)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		_ = adapter.StopScan()
	}()

	err := adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !strings.HasPrefix(name, prefix) {
			return
		}
		select {
		case found <- hit{addr: result.Address, name: name}:
		default:
		}
		_ = adapter.StopScan()
	})
	if err != nil {
		return bluetooth.Address{}, "", fmt.Errorf("BLE scan: %w", err)
	}

	select {
	case h := <-found:
		return h.addr, h.name, nil
	default:
		return bluetooth.Address{}, "", fmt.Errorf("scan for %q: %w", prefix, cs108.ErrDeviceNotFound)
	}
}

// wireCharacteristics discovers the vendor service and subscribes to
// uplink notifications.
func (t *Transport) wireCharacteristics() error {
	svcs, err := t.device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(svcs) == 0 {
		return cs108.NewTransportError("discover service", t.name, err, cs108.ErrorTypePermanent)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil || len(chars) < 2 {
		return cs108.NewTransportError("discover characteristics", t.name, err, cs108.ErrorTypePermanent)
	}
	for _, c := range chars {
		switch c.UUID() {
		case writeUUID:
			t.write = c
		case notifyUUID:
			t.notify = c
		}
	}

	return t.notify.EnableNotifications(func(buf []byte) {
		t.mu.Lock()
		fn := t.receiver
		t.mu.Unlock()
		if fn != nil {
			fn(buf)
		}
	})
}

// Write sends raw bytes over the downlink characteristic.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return cs108.ErrTransportClosed
	}
	if _, err := t.write.WriteWithoutResponse(data); err != nil {
		return cs108.NewTransportError("write", t.name, err, cs108.ErrorTypeTransient)
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

// Close disconnects the BLE link.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", t.name, err)
	}
	return nil
}

// IsConnected reports whether the link is up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type identifies the link layer.
func (t *Transport) Type() cs108.TransportType {
	return cs108.TransportBLE
}

// Name returns the advertised device name the transport connected to.
func (t *Transport) Name() string {
	return t.name
}

// linkLost reports an unsolicited disconnect exactly once.
func (t *Transport) linkLost() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fn := t.onDisconnect
	t.mu.Unlock()
	if fn != nil {
		fn(cs108.NewTransportError("link", t.name, cs108.ErrTransportClosed, cs108.ErrorTypePermanent))
	}
}
