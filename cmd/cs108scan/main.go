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

// cs108scan connects to a CS108 reader and streams tag reads to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cs108 "github.com/trakrf/go-cs108"
	"github.com/trakrf/go-cs108/detection"
	_ "github.com/trakrf/go-cs108/detection/usb"
	"github.com/trakrf/go-cs108/scan"
	"github.com/trakrf/go-cs108/transport/ble"
	"github.com/trakrf/go-cs108/transport/usb"
	"github.com/sirupsen/logrus"
)

var (
	flagDevice   string
	flagBLE      string
	flagUseBLE   bool
	flagDebug    bool
	flagPower    uint
	flagBarcode  bool
	flagDuration time.Duration
)

func init() {
	flag.StringVar(&flagDevice, "device", "", "Serial port path (auto-detect if empty)")
	flag.StringVar(&flagBLE, "ble-name", "", "BLE device name prefix (implies -ble)")
	flag.BoolVar(&flagUseBLE, "ble", false, "Connect over BLE instead of USB")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.UintVar(&flagPower, "power", 300, "Transmit power in 0.1 dBm units (max 300)")
	flag.BoolVar(&flagBarcode, "barcode", false, "Power the barcode engine")
	flag.DurationVar(&flagDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
}

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagDebug {
		log.SetLevel(logrus.DebugLevel)
		cs108.SetDebugEnabled(true)
		if path, err := cs108.InitSessionLog(); err == nil {
			defer func() { _ = cs108.CloseSessionLog() }()
			log.WithField("path", path).Info("session log enabled")
		} else {
			log.WithError(err).Warn("session log unavailable")
		}
	}

	if err := run(log); err != nil {
		log.WithError(err).Fatal("cs108scan failed")
	}
}

func run(log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flagDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagDuration)
		defer cancel()
	}

	transport, err := openTransport(ctx, log)
	if err != nil {
		return err
	}

	opts := []cs108.Option{cs108.WithAntennaPower(uint32(flagPower))}
	if flagBarcode {
		opts = append(opts, cs108.WithBarcodePower(true))
	}
	reader := cs108.NewReader(transport, opts...)
	defer func() { _ = reader.Close() }()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := reader.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	logDeviceInfo(ctx, log, reader)

	session := scan.NewSession(reader, nil)
	session.OnTagDetected = func(tag *scan.TagState) error {
		log.WithFields(logrus.Fields{
			"epc":  tag.EPC,
			"rssi": fmt.Sprintf("%.1f", tag.LastRSSI),
			"port": tag.AntennaPort,
		}).Info("tag detected")
		return nil
	}
	session.OnTagRemoved = func(epc string) {
		log.WithField("epc", epc).Info("tag removed")
	}
	session.OnBarcode = func(data []byte) {
		log.WithField("barcode", string(data)).Info("barcode")
	}
	session.OnBattery = func(mv uint16) {
		log.WithField("voltage", fmt.Sprintf("%.2fV", float64(mv)/1000)).Debug("battery")
	}
	session.OnError = func(err error) {
		log.WithError(err).Warn("reader error")
	}

	log.Info("scanning, press Ctrl-C to stop")
	err = session.Start(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	disconnectCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if derr := reader.Disconnect(disconnectCtx); derr != nil && err == nil {
		err = derr
	}
	return err
}

// openTransport connects over BLE or USB, auto-detecting a serial port
// when none is given.
func openTransport(ctx context.Context, log *logrus.Logger) (cs108.Transport, error) {
	if flagUseBLE || flagBLE != "" {
		log.WithField("name", flagBLE).Info("scanning for BLE device")
		t, err := ble.Connect(ctx, flagBLE)
		if err != nil {
			return nil, fmt.Errorf("BLE connect: %w", err)
		}
		log.WithField("name", t.Name()).Info("connected over BLE")
		return t, nil
	}

	path := flagDevice
	if path == "" {
		detected, err := autoDetect(ctx, log)
		if err != nil {
			return nil, err
		}
		path = detected
	}
	var t *usb.Transport
	err := cs108.RetryWithConfig(ctx, cs108.ConnectionRetryConfig(), func() error {
		var openErr error
		t, openErr = usb.Open(path)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.WithField("port", path).Info("connected over USB")
	return t, nil
}

func autoDetect(ctx context.Context, log *logrus.Logger) (string, error) {
	opts := detection.DefaultOptions()
	detectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	devices, err := detection.DetectAll(detectCtx, &opts)
	if err != nil {
		return "", fmt.Errorf("auto-detect: %w", err)
	}
	for _, d := range devices {
		log.WithFields(logrus.Fields{
			"path":       d.Path,
			"confidence": d.Confidence.String(),
		}).Debug("detected device")
	}
	return devices[0].Path, nil
}

func logDeviceInfo(ctx context.Context, log *logrus.Logger, reader *cs108.Reader) {
	infoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	fields := logrus.Fields{}
	if v, err := reader.RFIDFirmwareVersion(infoCtx); err == nil {
		fields["rfid_fw"] = v
	}
	if v, err := reader.SiliconLabVersion(infoCtx); err == nil {
		fields["mcu_fw"] = v
	}
	if sn, err := reader.SerialNumber(infoCtx); err == nil {
		fields["serial"] = sn
	}
	log.WithFields(fields).Info("device ready")
}
