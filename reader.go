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

// Package cs108 implements the host-side protocol engine for the CS108
// handheld RFID/barcode reader: vendor framing, command sequencing, tag
// stream decoding, and device lifecycle management over BLE or USB.
//
// All protocol state lives on a single engine goroutine. Transport chunks,
// API calls, and timer expirations are funneled into it as messages; the
// public API is safe for concurrent use.
package cs108

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trakrf/go-cs108/internal/frame"
)

// Default configuration register values applied during Connect.
const (
	// defaultAntennaPower is the transmit power in 0.1 dBm units.
	defaultAntennaPower uint32 = 300
	// defaultAntennaDwell is the per-antenna dwell time in milliseconds.
	defaultAntennaDwell uint32 = 2000
	// defaultInvCfg selects compact inventory reporting.
	defaultInvCfg uint32 = 0x01
)

// Option configures a Reader.
type Option func(*Reader)

// WithEventBuffer sets the event channel capacity. Events are dropped,
// never blocked on, when the consumer falls behind.
func WithEventBuffer(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.eventBuffer = n
		}
	}
}

// WithTriggerScanning controls whether the physical trigger starts and
// stops inventory. Enabled by default.
func WithTriggerScanning(on bool) Option {
	return func(r *Reader) { r.triggerScan = on }
}

// WithBatteryReports controls periodic battery voltage events. Enabled by
// default.
func WithBatteryReports(on bool) Option {
	return func(r *Reader) { r.batteryReports = on }
}

// WithBarcodePower powers the barcode module during Connect. Off by
// default; the barcode engine draws enough to matter on battery.
func WithBarcodePower(on bool) Option {
	return func(r *Reader) { r.barcodePower = on }
}

// WithAntennaPower sets the transmit power in 0.1 dBm units (max 300).
func WithAntennaPower(p uint32) Option {
	return func(r *Reader) { r.antennaPower = p }
}

// Reader is one CS108 device session.
type Reader struct {
	transport Transport
	conn      byte

	events  chan Event
	actions chan func()
	chunkC  chan []byte
	stopC   chan struct{}
	doneC   chan struct{}

	// engine-goroutine state
	sm      *stateMachine
	seq     *sequencer
	trig    *triggerReconciler
	rt      *router
	rb      *frame.Reassembler
	rfidSeq *frame.SequenceTracker
	timer   *time.Timer

	scanPending bool

	stateMirror   atomic.Int32
	droppedEvents atomic.Uint64
	closeOnce     sync.Once
	started       atomic.Bool

	eventBuffer    int
	triggerScan    bool
	batteryReports bool
	barcodePower   bool
	antennaPower   uint32
}

// NewReader creates a session over an established transport. Call Connect
// to start the engine and run the device initialization sequence.
func NewReader(t Transport, opts ...Option) *Reader {
	r := &Reader{
		transport:      t,
		conn:           t.Type().connByte(),
		eventBuffer:    64,
		triggerScan:    true,
		batteryReports: true,
		antennaPower:   defaultAntennaPower,
		actions:        make(chan func(), 16),
		chunkC:         make(chan []byte, 64),
		stopC:          make(chan struct{}),
		doneC:          make(chan struct{}),
		sm:             newStateMachine(),
		trig:           newTriggerReconciler(nil),
		rb:             frame.NewReassembler(0),
		rfidSeq:        &frame.SequenceTracker{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events = make(chan Event, r.eventBuffer)
	r.seq = newSequencer(r.writeCommand, nil)
	r.rt = newRouter(r.onUnknownFrame)
	r.registerRoutes()
	return r
}

// Events returns the event stream. Closed by Close.
func (r *Reader) Events() <-chan Event {
	return r.events
}

// State returns the current lifecycle state.
func (r *Reader) State() ReaderState {
	return ReaderState(r.stateMirror.Load())
}

// DroppedEvents returns the count of events discarded because the consumer
// fell behind.
func (r *Reader) DroppedEvents() uint64 {
	return r.droppedEvents.Load()
}

// Connect starts the engine and runs the device initialization sequence:
// RFID power, notification subscriptions, radio configuration. On return
// the reader is Idle and ready to scan.
func (r *Reader) Connect(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("connect: %w", ErrInvalidStateTransition)
	}

	r.transport.SetReceiver(r.onChunk)
	r.transport.SetOnDisconnect(r.onTransportLost)
	go r.loop()

	if err := r.transitionSync(ctx, StateConnecting, "connect"); err != nil {
		return err
	}
	if !r.transport.IsConnected() {
		r.fail("connect")
		return fmt.Errorf("connect: %w", ErrNotConnected)
	}
	if err := r.transitionSync(ctx, StateConfiguring, "connect"); err != nil {
		return err
	}

	if err := r.configure(ctx); err != nil {
		r.fail("configure")
		return fmt.Errorf("configure: %w", err)
	}

	if err := r.transitionSync(ctx, StateIdle, "connect"); err != nil {
		return err
	}
	if r.triggerScan {
		r.post(func() { r.trig.setEnabled(true) })
	}
	return nil
}

// configure runs the post-connect command sequence.
func (r *Reader) configure(ctx context.Context) error {
	steps := []*Command{newRFIDPowerOnCommand(), newRFIDFirmwareCommand()}
	if r.batteryReports {
		steps = append(steps, newBatteryQueryCommand())
	}
	steps = append(steps, newTriggerStartCommand())
	if r.barcodePower {
		steps = append(steps, newBarcodePowerCommand(true))
	}
	for _, cmd := range steps {
		if res, err := r.Send(ctx, cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd.name(), firstErr(err, res.Err))
		}
	}

	regs := []struct {
		addr  uint16
		value uint32
	}{
		{RegInvCfg, defaultInvCfg},
		{RegAntennaDwell, defaultAntennaDwell},
		{RegAntennaPower, r.antennaPower},
	}
	for _, w := range regs {
		if err := r.WriteRegister(ctx, w.addr, w.value); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect runs the polite teardown sequence and closes the reader.
// Command failures during teardown are ignored; the device side recovers
// from an abrupt close on its own.
func (r *Reader) Disconnect(ctx context.Context) error {
	if r.State() == StateScanning {
		_ = r.StopInventory(ctx)
	}
	if r.State().Connected() {
		_, _ = r.Send(ctx, newTriggerStopCommand())
		if r.batteryReports {
			_, _ = r.Send(ctx, newBatteryStopCommand())
		}
		_, _ = r.Send(ctx, newRFIDPowerOffCommand())
		_ = r.transitionSync(ctx, StateReadyForDisconnect, "disconnect")
	}
	return r.Close()
}

// Close abruptly stops the engine, closes the transport, and closes the
// event channel. Safe to call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopC)
		if r.started.Load() {
			<-r.doneC
		}
		_ = r.transport.Close()
		r.stateMirror.Store(int32(StateDisconnected))
		close(r.events)
	})
	return nil
}

// Send submits a command and waits for its terminal result.
func (r *Reader) Send(ctx context.Context, cmd *Command) (CommandResult, error) {
	resC := make(chan CommandResult, 1)
	err := r.do(ctx, func() {
		if err := r.seq.submit(cmd, func(res CommandResult) { resC <- res }); err != nil {
			resC <- CommandResult{Err: err}
		}
	})
	if err != nil {
		return CommandResult{}, err
	}
	select {
	case res := <-resC:
		return res, res.Err
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	case <-r.stopC:
		return CommandResult{}, ErrReaderClosed
	}
}

// StartInventory begins a continuous inventory. Rejected unless Idle; a
// start issued within the firmware settle time after the previous stop is
// delayed, not dropped.
func (r *Reader) StartInventory(ctx context.Context) error {
	errC := make(chan error, 1)
	if err := r.do(ctx, func() {
		r.beginScan(func(err error) { errC <- err }, false)
	}); err != nil {
		return err
	}
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopC:
		return ErrReaderClosed
	}
}

// StopInventory aborts a running inventory. A no-op when not scanning.
func (r *Reader) StopInventory(ctx context.Context) error {
	errC := make(chan error, 1)
	if err := r.do(ctx, func() {
		r.endScan(func(err error) { errC <- err }, false)
	}); err != nil {
		return err
	}
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopC:
		return ErrReaderClosed
	}
}

// ReadRegister reads one RFID firmware register.
func (r *Reader) ReadRegister(ctx context.Context, addr uint16) (uint32, error) {
	res, err := r.Send(ctx, newRegisterReadCommand(addr))
	if err != nil {
		return 0, err
	}
	resp, err := parseRegisterResponse(res.Payload)
	if err != nil {
		return 0, err
	}
	if resp.Addr != addr {
		return 0, fmt.Errorf("%w: read 0x%04X answered 0x%04X", ErrMalformedPayload, addr, resp.Addr)
	}
	return resp.Value, nil
}

// WriteRegister writes one RFID firmware register.
func (r *Reader) WriteRegister(ctx context.Context, addr uint16, value uint32) error {
	_, err := r.Send(ctx, newRegisterWriteCommand(addr, value))
	return err
}

// QueryTrigger asks the device for the current physical trigger state.
func (r *Reader) QueryTrigger(ctx context.Context) (bool, error) {
	res, err := r.Send(ctx, newTriggerQueryCommand())
	if err != nil {
		return false, err
	}
	if len(res.Payload) < 1 {
		return false, fmt.Errorf("%w: trigger query reply empty", ErrMalformedPayload)
	}
	return res.Payload[0] != 0, nil
}

// StartBatteryReports enables periodic battery voltage reports, delivered
// as BatteryEvent on Events.
func (r *Reader) StartBatteryReports(ctx context.Context) error {
	_, err := r.Send(ctx, newBatteryQueryCommand())
	return err
}

// StopBatteryReports stops periodic battery reports.
func (r *Reader) StopBatteryReports(ctx context.Context) error {
	_, err := r.Send(ctx, newBatteryStopCommand())
	return err
}

// SetBarcodePower powers the barcode engine on or off.
func (r *Reader) SetBarcodePower(ctx context.Context, on bool) error {
	_, err := r.Send(ctx, newBarcodePowerCommand(on))
	return err
}

// StartBarcodeScan triggers a barcode decode attempt. Decoded data arrives
// as BarcodeEvent.
func (r *Reader) StartBarcodeScan(ctx context.Context) error {
	_, err := r.Send(ctx, newBarcodeScanCommand(true))
	return err
}

// StopBarcodeScan cancels a barcode decode attempt.
func (r *Reader) StopBarcodeScan(ctx context.Context) error {
	_, err := r.Send(ctx, newBarcodeScanCommand(false))
	return err
}

// RFIDFirmwareVersion returns the radio firmware version string.
func (r *Reader) RFIDFirmwareVersion(ctx context.Context) (string, error) {
	return r.versionString(ctx, newRFIDFirmwareCommand())
}

// SiliconLabVersion returns the MCU firmware version string.
func (r *Reader) SiliconLabVersion(ctx context.Context) (string, error) {
	return r.versionString(ctx, newSilabVersionCommand())
}

// BluetoothICVersion returns the BLE controller firmware version string.
func (r *Reader) BluetoothICVersion(ctx context.Context) (string, error) {
	return r.versionString(ctx, newBTICVersionCommand())
}

func (r *Reader) versionString(ctx context.Context, cmd *Command) (string, error) {
	res, err := r.Send(ctx, cmd)
	if err != nil {
		return "", err
	}
	if len(res.Payload) < 3 {
		return "", fmt.Errorf("%w: version reply %d bytes", ErrMalformedPayload, len(res.Payload))
	}
	return fmt.Sprintf("%d.%d.%d", res.Payload[0], res.Payload[1], res.Payload[2]), nil
}

// SerialNumber returns the device serial number.
func (r *Reader) SerialNumber(ctx context.Context) (string, error) {
	res, err := r.Send(ctx, newSerialNumberCommand())
	if err != nil {
		return "", err
	}
	return string(trimTrailingZeros(res.Payload)), nil
}

// DeviceName returns the advertised Bluetooth device name.
func (r *Reader) DeviceName(ctx context.Context) (string, error) {
	res, err := r.Send(ctx, newDeviceNameCommand())
	if err != nil {
		return "", err
	}
	return string(trimTrailingZeros(res.Payload)), nil
}

// SetDeviceName sets the advertised Bluetooth device name.
func (r *Reader) SetDeviceName(ctx context.Context, name string) error {
	_, err := r.Send(ctx, newSetDeviceNameCommand(name))
	return err
}

// ReadTagMemory reads wordCount 16-bit words from a tag memory bank. The
// reader must be Idle; the radio is exclusively held for the duration.
func (r *Reader) ReadTagMemory(ctx context.Context, bank MemoryBank, wordAddr, wordCount uint32, password uint32) ([]byte, error) {
	stage := []regWrite{
		{RegAccessPasswd, password},
		{RegTagAccessBank, uint32(bank)},
		{RegTagAccessPtr, wordAddr},
		{RegTagAccessCnt, wordCount},
	}
	return r.tagAccess(ctx, "tag read", HostCmdRead, stage)
}

// WriteTagMemory writes data (whole 16-bit words) to a tag memory bank.
func (r *Reader) WriteTagMemory(ctx context.Context, bank MemoryBank, wordAddr uint32, data []byte, password uint32) error {
	if len(data) == 0 || len(data)%2 != 0 {
		return fmt.Errorf("%w: write data must be whole words, got %d bytes", ErrMalformedPayload, len(data))
	}
	words := uint32(len(data) / 2)
	stage := []regWrite{
		{RegAccessPasswd, password},
		{RegTagAccessBank, uint32(bank)},
		{RegTagAccessPtr, wordAddr},
		{RegTagAccessCnt, words},
	}
	// One data word per staging register, its offset in the upper half so
	// the firmware can scatter out-of-order writes.
	for i := uint32(0); i < words; i++ {
		w := binary.BigEndian.Uint16(data[i*2:])
		stage = append(stage, regWrite{RegTagWriteData0 + uint16(i), uint32(i)<<16 | uint32(w)})
	}
	_, err := r.tagAccess(ctx, "tag write", HostCmdWrite, stage)
	return err
}

// LockTag applies a Gen2 lock operation: mask selects which lock bits to
// change, action their new values, both 10-bit fields.
func (r *Reader) LockTag(ctx context.Context, mask, action uint32, password uint32) error {
	stage := []regWrite{
		{RegAccessPasswd, password},
		{RegTagAccessLock, (mask&0x3FF)<<10 | action&0x3FF},
	}
	_, err := r.tagAccess(ctx, "tag lock", HostCmdLock, stage)
	return err
}

type regWrite struct {
	addr  uint16
	value uint32
}

// tagAccess stages the access registers, holds the radio in Busy, launches
// the host command, and waits for the tag access result.
func (r *Reader) tagAccess(ctx context.Context, name string, cmd uint32, stage []regWrite) ([]byte, error) {
	if err := r.transitionSync(ctx, StateBusy, name); err != nil {
		return nil, err
	}
	defer func() {
		if r.State() == StateBusy {
			_ = r.transitionSync(context.Background(), StateIdle, name)
		}
	}()

	for _, w := range stage {
		if err := r.WriteRegister(ctx, w.addr, w.value); err != nil {
			return nil, fmt.Errorf("%s: stage 0x%04X: %w", name, w.addr, err)
		}
	}
	res, err := r.Send(ctx, newTagAccessCommand(name, cmd))
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// do runs fn on the engine goroutine, waiting for it to be accepted.
func (r *Reader) do(ctx context.Context, fn func()) error {
	select {
	case r.actions <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopC:
		return ErrReaderClosed
	}
}

// post is do without a context, for callbacks that cannot block forever.
func (r *Reader) post(fn func()) {
	select {
	case r.actions <- fn:
	case <-r.stopC:
	}
}

// after schedules fn on the engine goroutine once d elapses.
func (r *Reader) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { r.post(fn) })
}

// transitionSync performs a state transition on the engine goroutine and
// waits for the verdict.
func (r *Reader) transitionSync(ctx context.Context, next ReaderState, op string) error {
	errC := make(chan error, 1)
	if err := r.do(ctx, func() { errC <- r.setState(next, op) }); err != nil {
		return err
	}
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopC:
		return ErrReaderClosed
	}
}

// fail drops the session back to Disconnected after a Connect-path error.
// Uses a fresh context: the caller's may already be cancelled.
func (r *Reader) fail(op string) {
	_ = r.transitionSync(context.Background(), StateDisconnected, op)
}

// loop is the engine goroutine. All protocol state is touched only here.
func (r *Reader) loop() {
	defer close(r.doneC)
	r.timer = time.NewTimer(time.Hour)
	if !r.timer.Stop() {
		<-r.timer.C
	}
	for {
		select {
		case <-r.stopC:
			r.seq.flush(ErrReaderClosed)
			return
		case chunk := <-r.chunkC:
			r.ingest(chunk)
			r.advance()
		case fn := <-r.actions:
			fn()
			r.advance()
		case <-r.timer.C:
			r.seq.expire()
			r.advance()
		}
	}
}

// advance runs the trigger reconciler and the sequencer pump, then re-arms
// the wake-up timer. Called after every loop message.
func (r *Reader) advance() {
	var trigWake time.Time
	for {
		act, wake := r.trig.next()
		if act == triggerNone {
			trigWake = wake
			break
		}
		switch act {
		case triggerStartScan:
			r.beginScan(nil, true)
		case triggerStopScan:
			r.endScan(nil, true)
		}
	}
	r.rearm(r.seq.pump(), trigWake)
}

// rearm points the loop timer at the earliest of the given wake times.
func (r *Reader) rearm(wakes ...time.Time) {
	var next time.Time
	for _, w := range wakes {
		if !w.IsZero() && (next.IsZero() || w.Before(next)) {
			next = w
		}
	}
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	if next.IsZero() {
		return
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	r.timer.Reset(d)
}

// onChunk runs on the transport's receive goroutine.
func (r *Reader) onChunk(chunk []byte) {
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	select {
	case r.chunkC <- buf:
	case <-r.stopC:
	}
}

// onTransportLost runs on the transport's goroutine.
func (r *Reader) onTransportLost(err error) {
	r.post(func() { r.fatal(fmt.Errorf("transport lost: %w", firstErr(err, ErrTransportClosed))) })
}

// fatal tears the session down from the engine goroutine.
func (r *Reader) fatal(err error) {
	Debugf("reader: fatal: %v", err)
	r.emit(ErrorEvent{Err: err, Fatal: true})
	r.seq.flush(fmt.Errorf("%w: %v", ErrCommandCancelled, err))
	r.scanPending = false
	r.trig.reset()
	r.rb.Reset()
	r.rfidSeq.Reset()
	_ = r.setState(StateDisconnected, "fatal")
	_ = r.transport.Close()
}

// setState transitions the lifecycle state and publishes the change.
func (r *Reader) setState(next ReaderState, op string) error {
	old := r.sm.current
	if err := r.sm.transition(next, op); err != nil {
		return err
	}
	r.stateMirror.Store(int32(next))
	if old != next {
		Debugf("reader: %s -> %s (%s)", old, next, op)
		r.emit(StateChangeEvent{Old: old, New: next})
	}
	return nil
}

// emit publishes an event without ever blocking the engine.
func (r *Reader) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.droppedEvents.Add(1)
	}
}

func (r *Reader) emitErr(err error) {
	r.emit(ErrorEvent{Err: err})
}

// ingest pushes one transport chunk through reassembly and routes every
// complete frame that falls out.
func (r *Reader) ingest(chunk []byte) {
	if err := r.rb.Write(chunk); err != nil {
		r.fatal(err)
		return
	}
	for f := r.rb.Next(); f != nil; f = r.rb.Next() {
		if f.Control {
			r.onAbortAck()
			continue
		}
		if f.Module == frame.ModuleRFID && f.Uplink() {
			if ok, lost := r.rfidSeq.Observe(f.Seq); !ok {
				r.emitErr(fmt.Errorf("%w: %d frames lost before seq %d", ErrFrameDropped, lost, f.Seq))
			}
		}
		r.rt.route(f)
	}
	if n := r.rb.Skipped(); n > 0 {
		Debugf("reader: resync skipped %d bytes", n)
	}
}

// writeCommand marshals and writes one command. Called by the sequencer on
// the engine goroutine.
func (r *Reader) writeCommand(cmd *Command) error {
	var pkt []byte
	if cmd.Raw != nil {
		pkt = cmd.Raw
	} else {
		payload := make([]byte, 2+len(cmd.Payload))
		payload[0] = byte(cmd.Code >> 8)
		payload[1] = byte(cmd.Code)
		copy(payload[2:], cmd.Payload)
		var err error
		pkt, err = frame.Marshal(r.conn, cmd.Module, payload)
		if err != nil {
			return err
		}
	}
	Debugf("reader: -> %s: %s", cmd.name(), formatHexBytes(pkt))
	if err := r.transport.Write(pkt); err != nil {
		kind := ErrorTypeTransient
		if isDeviceGoneError(err) {
			kind = ErrorTypePermanent
		}
		return NewTransportError("write", string(r.transport.Type()),
			fmt.Errorf("%w: %v", ErrTransportWrite, err), kind)
	}
	return nil
}

// beginScan starts an inventory on the engine goroutine. done may be nil
// (trigger-initiated starts report through the reconciler instead).
func (r *Reader) beginScan(done func(error), fromTrigger bool) {
	finish := func(err error) {
		if fromTrigger {
			r.trig.actionDone(r.sm.current == StateScanning)
		}
		if done != nil {
			done(err)
		}
	}

	if r.sm.current != StateIdle || r.scanPending {
		finish(&StateTransitionError{From: r.sm.current, To: StateScanning, Op: "start inventory"})
		return
	}
	if delay := r.sm.scanStartDelay(time.Now()); delay > 0 {
		Debugf("reader: delaying inventory start %v for firmware settle", delay)
		r.scanPending = true
		r.after(delay, func() {
			r.scanPending = false
			r.beginScan(done, fromTrigger)
		})
		return
	}

	r.scanPending = true
	err := r.seq.submit(newInventoryStartCommand(), func(res CommandResult) {
		r.scanPending = false
		if res.Err != nil {
			r.emitErr(res.Err)
			finish(res.Err)
			return
		}
		err := r.setState(StateScanning, "start inventory")
		if !fromTrigger {
			r.trig.syncScanning(true)
		}
		finish(err)
	})
	if err != nil {
		r.scanPending = false
		finish(err)
	}
}

// endScan stops a running inventory on the engine goroutine.
func (r *Reader) endScan(done func(error), fromTrigger bool) {
	finish := func(err error) {
		if fromTrigger {
			r.trig.actionDone(r.sm.current == StateScanning)
		}
		if done != nil {
			done(err)
		}
	}

	if r.sm.current != StateScanning {
		finish(nil)
		return
	}
	err := r.seq.submit(newInventoryStopCommand(), func(res CommandResult) {
		if res.Err != nil {
			r.emitErr(res.Err)
			finish(res.Err)
			return
		}
		err := r.setState(StateIdle, "stop inventory")
		if !fromTrigger {
			r.trig.syncScanning(false)
		}
		finish(err)
	})
	if err != nil {
		finish(err)
	}
}

// registerRoutes wires the uplink dispatch table.
func (r *Reader) registerRoutes() {
	echoCodes := []struct {
		module byte
		code   EventCode
	}{
		{ModuleRFID, evtRFIDPowerOn},
		{ModuleRFID, evtRFIDPowerOff},
		{ModuleRFID, evtRFIDFirmware},
		{ModuleBarcode, evtBarcodePowerOn},
		{ModuleBarcode, evtBarcodePowerOff},
		{ModuleBarcode, evtBarcodeScanStart},
		{ModuleBarcode, evtBarcodeScanStop},
		{ModuleNotify, evtBatteryStart},
		{ModuleNotify, evtBatteryStop},
		{ModuleNotify, evtTriggerStart},
		{ModuleNotify, evtTriggerStop},
		{ModuleSiliconLab, evtSilabVersion},
		{ModuleSiliconLab, evtSilabSerial},
		{ModuleBluetoothIC, evtBTICVersion},
		{ModuleBluetoothIC, evtBTICGetName},
		{ModuleBluetoothIC, evtBTICSetName},
	}
	for _, e := range echoCodes {
		r.rt.handle(e.module, e.code, r.onEcho)
	}

	r.rt.handle(ModuleRFID, evtRFIDResponse, r.onRFIDResponse)
	r.rt.handle(ModuleNotify, evtBatteryReport, r.onBatteryReport)
	r.rt.handle(ModuleNotify, evtTriggerPushed, func(f *frame.Frame, p []byte) { r.onTrigger(true) })
	r.rt.handle(ModuleNotify, evtTriggerReleased, func(f *frame.Frame, p []byte) { r.onTrigger(false) })
	r.rt.handle(ModuleNotify, evtTriggerQuery, r.onTriggerQuery)
	r.rt.handle(ModuleNotify, evtErrorNotify, r.onErrorNotify)
	r.rt.handle(ModuleBarcode, evtBarcodeData, r.onBarcodeData)
	r.rt.handle(ModuleBarcode, evtBarcodeGoodRead, func(f *frame.Frame, p []byte) {
		Debugf("reader: barcode good read")
	})
}

// onEcho resolves simple command exchanges on their echoed event code.
func (r *Reader) onEcho(f *frame.Frame, payload []byte) {
	cmd := r.seq.current()
	code, _ := f.EventCode()
	if cmd == nil || cmd.complete != completeOnEcho || cmd.Module != f.Module || EventCode(code) != cmd.Code {
		Debugf("reader: unexpected echo 0x%04X from module 0x%02X", code, f.Module)
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	r.seq.resolve(CommandResult{Payload: data})
}

// onRFIDResponse decodes the MAC sublayer riding in RFID uplink frames.
func (r *Reader) onRFIDResponse(f *frame.Frame, payload []byte) {
	payload, aborted := stripAbortTrailer(payload)
	if aborted {
		defer r.onAbortAck()
	}
	if len(payload) == 0 {
		return
	}

	if isRegisterResponse(payload) {
		r.onRegisterResponse(payload)
		return
	}

	// Compact inventory payloads carry no common header, just the version
	// byte and port before the packed tag records.
	if payload[0] == macVerInventoryCompact {
		tags, err := parseCompactInventory(payload, f.Seq)
		if err != nil {
			r.emitErr(err)
			return
		}
		for _, tag := range tags {
			r.emit(TagReadEvent{Tag: *tag})
		}
		return
	}

	pkt, err := parseMACPacket(payload)
	if err != nil {
		r.emitErr(err)
		return
	}
	switch {
	case pkt.Version == macVerInventoryNormal:
		rec, err := parseNormalInventory(pkt)
		if err != nil {
			r.emitErr(err)
			return
		}
		rec.Seq = f.Seq
		r.emit(TagReadEvent{Tag: *rec})
	default:
		r.onMACControl(pkt)
	}
}

// onRegisterResponse resolves register read/write exchanges.
func (r *Reader) onRegisterResponse(payload []byte) {
	cmd := r.seq.current()
	if cmd == nil || cmd.complete != completeOnEcho || cmd.Code != evtRFIDCommand {
		Debugf("reader: unsolicited register response: %s", formatHexBytes(payload))
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	r.seq.resolve(CommandResult{Payload: data})
}

// onMACControl handles command lifecycle and tag access packets.
func (r *Reader) onMACControl(pkt *macPacket) {
	cmd := r.seq.current()
	switch pkt.Type {
	case macPktCommandBegin:
		if cmd != nil && cmd.complete == completeOnBegin {
			r.seq.resolve(CommandResult{})
		}
	case macPktCommandEnd:
		_, status, err := commandEndStatus(pkt)
		if err != nil {
			r.emitErr(err)
			return
		}
		res := CommandResult{Status: status}
		if status != 0 {
			name := ""
			if cmd != nil {
				name = cmd.name()
			}
			de := &DeviceError{Command: name, Code: status}
			if de.IsAborted() {
				res.Aborted = true
			} else {
				res.Err = de
			}
		}
		if cmd != nil && cmd.complete == completeOnEnd {
			r.seq.resolve(res)
			return
		}
		// Spontaneous end: the radio stopped on its own (duration limit,
		// fault) with no stop command in flight.
		if r.sm.current == StateScanning {
			_ = r.setState(StateIdle, "inventory ended")
			r.trig.syncScanning(false)
		}
		if res.Err != nil {
			r.emitErr(res.Err)
		}
	case macPktTagAccess:
		ta, err := parseTagAccess(pkt)
		if err != nil {
			r.emitErr(err)
			return
		}
		if cmd == nil || cmd.complete != completeOnTagAccess {
			Debugf("reader: unsolicited tag access result")
			return
		}
		res := CommandResult{Payload: ta.Data}
		if ta.Failed {
			res.Err = &DeviceError{Command: cmd.name(), Code: 0x0100 | uint16(ta.TagError)}
		}
		r.seq.resolve(res)
	case macPktInventory:
		// Versioned inventory data is handled by packet version above;
		// nothing rides type 0x0005 with a command version byte.
		Debugf("reader: inventory packet with command version 0x%02X", pkt.Version)
	case macPktAntennaCycleEnd:
		Debugf("reader: antenna cycle end")
	case macPktCommandActive:
		// Keep-alive while an inventory runs with no tags in field.
	default:
		r.emitErr(fmt.Errorf("%w: MAC packet type 0x%04X", ErrUnknownFrame, pkt.Type))
	}
}

// onAbortAck resolves a pending stop when the raw abort acknowledgement
// arrives, whether standalone or as a payload trailer.
func (r *Reader) onAbortAck() {
	cmd := r.seq.current()
	if cmd != nil && cmd.complete == completeOnEnd {
		r.seq.resolve(CommandResult{Aborted: true})
		return
	}
	if r.sm.current == StateScanning {
		_ = r.setState(StateIdle, "inventory aborted")
		r.trig.syncScanning(false)
	}
}

func (r *Reader) onBatteryReport(f *frame.Frame, payload []byte) {
	mv, err := parseBatteryReport(payload)
	if err != nil {
		r.emitErr(err)
		return
	}
	r.emit(BatteryEvent{Millivolts: mv})
}

// onTrigger records a physical trigger edge. The reconciler acts on it
// from advance once the debounce window passes.
func (r *Reader) onTrigger(pressed bool) {
	if r.trig.observe(pressed) {
		r.emit(TriggerEvent{Pressed: pressed})
	}
}

// onTriggerQuery doubles as echo resolution and a state observation: the
// reply carries the physical state, which must be recorded even when the
// query was issued for reconciliation.
func (r *Reader) onTriggerQuery(f *frame.Frame, payload []byte) {
	if len(payload) > 0 {
		r.onTrigger(payload[0] != 0)
	}
	r.onEcho(f, payload)
}

func (r *Reader) onErrorNotify(f *frame.Frame, payload []byte) {
	if len(payload) >= 2 {
		code := binary.BigEndian.Uint16(payload)
		r.emitErr(fmt.Errorf("device error notification 0x%04X", code))
		return
	}
	r.emitErr(fmt.Errorf("device error notification: %s", formatHexBytes(payload)))
}

func (r *Reader) onBarcodeData(f *frame.Frame, payload []byte) {
	data := trimBarcode(payload)
	if len(data) == 0 {
		return
	}
	r.emit(BarcodeEvent{Data: data})
}

// trimBarcode strips the scan engine's STX/ETX wrapper and CR/LF terminator
// from a decoded barcode, returning a copy.
func trimBarcode(p []byte) []byte {
	start, end := 0, len(p)
	if start < end && p[start] == 0x02 {
		start++
	}
	for end > start && (p[end-1] == '\r' || p[end-1] == '\n' || p[end-1] == 0x03) {
		end--
	}
	out := make([]byte, end-start)
	copy(out, p[start:end])
	return out
}

// onUnknownFrame is the router's sink for unroutable frames. Logged, never
// fatal: firmware revisions add event codes faster than hosts learn them.
func (r *Reader) onUnknownFrame(f *frame.Frame, err error) {
	Debugf("reader: %v: %s", err, formatHexBytes(f.Payload))
	r.emitErr(err)
}

func trimTrailingZeros(p []byte) []byte {
	end := len(p)
	for end > 0 && p[end-1] == 0 {
		end--
	}
	return p[:end]
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
