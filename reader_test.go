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
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devtest "github.com/trakrf/go-cs108/internal/testing"
)

// newVirtualReader wires a reader to a simulated device over the mock
// transport: downlink writes feed the simulator, uplink chunks come back
// through Inject with BLE-sized fragmentation.
func newVirtualReader(t *testing.T, opts ...Option) (*Reader, *MockTransport, *devtest.VirtualCS108) {
	t.Helper()
	mt := NewMockTransport()
	dev := devtest.NewVirtualCS108()
	dev.SetSender(mt.Inject)
	mt.OnWrite(dev.HostWrite)

	r := NewReader(mt, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r, mt, dev
}

func connect(t *testing.T, r *Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))
	require.Equal(t, StateIdle, r.State())
}

// waitEvent discards events until one matches, or fails the test.
func waitEvent(t *testing.T, r *Reader, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-r.Events():
			require.True(t, ok, "event channel closed while waiting")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func waitState(t *testing.T, r *Reader, want ReaderState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State() == want },
		5*time.Second, 5*time.Millisecond, "want state %s, have %s", want, r.State())
}

func TestReaderConnectConfiguresDevice(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t)
	connect(t, r)

	// The initialization sequence lands the radio profile in the firmware
	// registers.
	assert.Equal(t, uint32(0x01), dev.Register(RegInvCfg))
	assert.Equal(t, uint32(2000), dev.Register(RegAntennaDwell))
	assert.Equal(t, uint32(300), dev.Register(RegAntennaPower))
}

func TestReaderConnectTwice(t *testing.T) {
	t.Parallel()

	r, _, _ := newVirtualReader(t)
	connect(t, r)

	err := r.Connect(context.Background())
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestReaderCustomAntennaPower(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithAntennaPower(150))
	connect(t, r)
	assert.Equal(t, uint32(150), dev.Register(RegAntennaPower))
}

func TestReaderInventoryLifecycle(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	ctx := context.Background()
	require.NoError(t, r.StartInventory(ctx))
	assert.Equal(t, StateScanning, r.State())
	assert.True(t, dev.Scanning())

	epc := []byte{0xE2, 0x80, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA}
	dev.EmitCompactTag(epc, 0x48, 1)

	ev := waitEvent(t, r, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(TagReadEvent)
		return ok
	})
	tag := ev.(TagReadEvent).Tag
	assert.Equal(t, epc, tag.EPC)
	assert.Equal(t, byte(1), tag.AntennaPort)
	assert.InDelta(t, 54.1854, tag.RSSI, 0.001)

	require.NoError(t, r.StopInventory(ctx))
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, dev.Scanning())
}

func TestReaderStartInventoryRejectedWhileScanning(t *testing.T) {
	t.Parallel()

	r, _, _ := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	ctx := context.Background()
	require.NoError(t, r.StartInventory(ctx))

	err := r.StartInventory(ctx)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, StateScanning, r.State(), "failed start must not disturb the running inventory")
}

func TestReaderStopInventoryOmittedAck(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	dev.DropAbortAck = true
	connect(t, r)

	ctx := context.Background()
	require.NoError(t, r.StartInventory(ctx))

	// The firmware never acknowledges the abort; the stop still resolves as
	// success once its timeout passes.
	start := time.Now()
	require.NoError(t, r.StopInventory(ctx))
	assert.GreaterOrEqual(t, time.Since(start), ScanStopTimeout)
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, dev.Scanning())
}

func TestReaderStopInventoryAbortTrailer(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	dev.AbortAsTrailer = true
	connect(t, r)

	ctx := context.Background()
	require.NoError(t, r.StartInventory(ctx))

	stopped := make(chan error, 1)
	go func() { stopped <- r.StopInventory(ctx) }()

	// The abort ack arrives glued to the tail of the next RFID payload
	// instead of standalone.
	require.Eventually(t, func() bool { return !dev.Scanning() }, 2*time.Second, 5*time.Millisecond)
	dev.EmitCommandEnd(0x0000)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not resolve")
	}
	waitState(t, r, StateIdle)
}

func TestReaderSpontaneousInventoryEnd(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	require.NoError(t, r.StartInventory(context.Background()))

	// The radio stops on its own with no stop command in flight.
	dev.EmitCommandEnd(0x0000)
	waitState(t, r, StateIdle)
}

func TestReaderTriggerScanning(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t)
	connect(t, r)

	dev.PressTrigger()
	ev := waitEvent(t, r, 2*time.Second, func(ev Event) bool {
		te, ok := ev.(TriggerEvent)
		return ok && te.Pressed
	})
	assert.True(t, ev.(TriggerEvent).Pressed)

	// After the debounce window the reconciler starts the inventory.
	waitState(t, r, StateScanning)
	require.Eventually(t, func() bool { return dev.Scanning() }, 2*time.Second, 5*time.Millisecond)

	dev.ReleaseTrigger()
	waitState(t, r, StateIdle)
	assert.False(t, dev.Scanning())
}

func TestReaderRegisterRoundTrip(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t)
	connect(t, r)

	ctx := context.Background()
	require.NoError(t, r.WriteRegister(ctx, RegInvAlgoParm0, 0x0040))
	assert.Equal(t, uint32(0x0040), dev.Register(RegInvAlgoParm0))

	got, err := r.ReadRegister(ctx, RegInvAlgoParm0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0040), got)
}

func TestReaderTagAccess(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	tid := []byte{0xE2, 0x80, 0x68, 0x94}
	dev.SetTagAccessData(tid)

	ctx := context.Background()
	data, err := r.ReadTagMemory(ctx, BankTID, 0, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, tid, data)

	// Staging registers reached the firmware; the radio is Idle again.
	assert.Equal(t, uint32(BankTID), dev.Register(RegTagAccessBank))
	assert.Equal(t, uint32(2), dev.Register(RegTagAccessCnt))
	assert.Equal(t, StateIdle, r.State())
}

func TestReaderWriteTagMemory(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t)
	connect(t, r)

	ctx := context.Background()
	err := r.WriteTagMemory(ctx, BankUser, 0, []byte{0x12, 0x34, 0x56, 0x78}, 0)
	require.NoError(t, err)

	// Each word lands in its staging register with the offset in the upper
	// half.
	assert.Equal(t, uint32(0x00001234), dev.Register(RegTagWriteData0))
	assert.Equal(t, uint32(0x00015678), dev.Register(RegTagWriteData0+1))

	err = r.WriteTagMemory(ctx, BankUser, 0, []byte{0x12}, 0)
	require.ErrorIs(t, err, ErrMalformedPayload, "odd byte counts are rejected")
}

func TestReaderDeviceIdentity(t *testing.T) {
	t.Parallel()

	r, _, _ := newVirtualReader(t)
	connect(t, r)

	ctx := context.Background()
	fw, err := r.RFIDFirmwareVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.6.8", fw)

	mcu, err := r.SiliconLabVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", mcu)

	sn, err := r.SerialNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CS108-00421", sn)

	name, err := r.DeviceName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CS108 Reader", name)

	require.NoError(t, r.SetDeviceName(ctx, "dock-3"))
	name, err = r.DeviceName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dock-3", name)
}

func TestReaderQueryTrigger(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	ctx := context.Background()
	pressed, err := r.QueryTrigger(ctx)
	require.NoError(t, err)
	assert.False(t, pressed)

	dev.PressTrigger()
	pressed, err = r.QueryTrigger(ctx)
	require.NoError(t, err)
	assert.True(t, pressed)
}

func TestReaderBatteryAndBarcodeEvents(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t)
	connect(t, r)

	dev.EmitBatteryReport(4005)
	ev := waitEvent(t, r, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(BatteryEvent)
		return ok
	})
	batt := ev.(BatteryEvent)
	assert.Equal(t, uint16(4005), batt.Millivolts)
	assert.InDelta(t, 4.005, batt.Voltage(), 0.0001)

	dev.EmitBarcode([]byte("0123456789012"))
	ev = waitEvent(t, r, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(BarcodeEvent)
		return ok
	})
	assert.Equal(t, "0123456789012", string(ev.(BarcodeEvent).Data))
}

func TestTrimBarcode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte("4006381333931"), trimBarcode([]byte("4006381333931")))
	assert.Equal(t, []byte("4006381333931"), trimBarcode([]byte("\x024006381333931\x03\r\n")))
	assert.Empty(t, trimBarcode([]byte("\x02\r\n")))
}

func TestReaderTransportLost(t *testing.T) {
	t.Parallel()

	r, mt, _ := newVirtualReader(t)
	connect(t, r)

	mt.Drop(io.EOF)
	ev := waitEvent(t, r, 2*time.Second, func(ev Event) bool {
		ee, ok := ev.(ErrorEvent)
		return ok && ee.Fatal
	})
	require.ErrorIs(t, ev.(ErrorEvent).Err, io.EOF)
	waitState(t, r, StateDisconnected)
}

func TestReaderTransportLossCancelsPending(t *testing.T) {
	t.Parallel()

	r, mt, _ := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	// Swallow downlink traffic so the next command stays in flight.
	wrote := make(chan struct{}, 1)
	mt.OnWrite(func([]byte) {
		select {
		case wrote <- struct{}{}:
		default:
		}
	})

	errC := make(chan error, 1)
	go func() {
		_, err := r.QueryTrigger(context.Background())
		errC <- err
	}()

	<-wrote
	mt.Drop(io.EOF)

	select {
	case err := <-errC:
		require.ErrorIs(t, err, ErrCommandCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command did not resolve")
	}
	waitState(t, r, StateDisconnected)
}

func TestReaderStartInventoryRejectedWhileBusy(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	dev.HoldTagAccessResult = true
	connect(t, r)

	dev.SetTagAccessData([]byte{0xE2, 0x80})
	ctx := context.Background()
	readC := make(chan error, 1)
	go func() {
		_, err := r.ReadTagMemory(ctx, BankTID, 0, 1, 0)
		readC <- err
	}()

	// The access holds the radio in Busy until the firmware reports back.
	require.Eventually(t, func() bool {
		return dev.Register(RegHostCmd) == HostCmdRead
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateBusy, r.State())

	err := r.StartInventory(ctx)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, HostCmdRead, dev.Register(RegHostCmd), "no inventory command may reach the radio")
	assert.False(t, dev.Scanning())

	dev.ReleaseTagAccess()
	require.NoError(t, <-readC)
	waitState(t, r, StateIdle)
}

func TestReaderInventoryRestartDwell(t *testing.T) {
	t.Parallel()

	r, _, dev := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	ctx := context.Background()
	require.NoError(t, r.StartInventory(ctx))
	require.NoError(t, r.StopInventory(ctx))
	stopped := time.Now()

	// An immediate restart is held until the firmware settle time passes.
	require.NoError(t, r.StartInventory(ctx))
	assert.GreaterOrEqual(t, time.Since(stopped), ScanRestartDwell-50*time.Millisecond)
	assert.True(t, dev.Scanning())
	assert.Equal(t, StateScanning, r.State())
}

func TestReaderWriteFailure(t *testing.T) {
	t.Parallel()

	r, mt, _ := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	mt.SetWriteError(errors.New("pipe broken"))
	_, err := r.Send(context.Background(), newTriggerQueryCommand())
	require.ErrorIs(t, err, ErrTransportWrite)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write", te.Op)
}

func TestReaderDisconnect(t *testing.T) {
	t.Parallel()

	r, mt, dev := newVirtualReader(t, WithTriggerScanning(false))
	connect(t, r)

	require.NoError(t, r.StartInventory(context.Background()))
	require.NoError(t, r.Disconnect(context.Background()))

	assert.Equal(t, StateDisconnected, r.State())
	assert.False(t, dev.Scanning(), "inventory stopped before teardown")
	assert.False(t, mt.IsConnected())

	// The event channel is closed; drains terminate.
	for range r.Events() {
	}
}

func TestReaderCloseIdempotent(t *testing.T) {
	t.Parallel()

	r, _, _ := newVirtualReader(t)
	connect(t, r)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestReaderSendAfterClose(t *testing.T) {
	t.Parallel()

	r, _, _ := newVirtualReader(t)
	connect(t, r)
	require.NoError(t, r.Close())

	_, err := r.Send(context.Background(), newTriggerQueryCommand())
	require.ErrorIs(t, err, ErrReaderClosed)
}
