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

// Package usb detects CS108 readers on USB serial ports.
package usb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trakrf/go-cs108/detection"
	"github.com/trakrf/go-cs108/internal/frame"
	"github.com/trakrf/go-cs108/transport/usb"
	"go.bug.st/serial/enumerator"
)

// detector implements detection.Detector for USB serial ports.
type detector struct{}

// New creates a new USB detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type.
func (*detector) Transport() string {
	return "usb"
}

// knownVIDPIDs lists USB bridge chips CS108 units ship with.
var knownVIDPIDs = []string{
	"10C4:EA60", // Silicon Labs CP210x, the factory bridge
	"10C4:EA61",
}

// Detect searches serial ports for CS108 readers.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		select {
		case <-ctx.Done():
			return devices, nil
		default:
		}

		if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
			continue
		}
		vidpid := ""
		if port.IsUSB {
			vidpid = strings.ToUpper(port.VID + ":" + port.PID)
			if detection.IsBlocked(vidpid, opts.Blocklist) {
				continue
			}
		}

		likely := isLikelyCS108(vidpid, port.Product)
		if opts.Mode == detection.Passive {
			if likely {
				devices = append(devices, deviceInfo(port, vidpid, detection.Medium))
			}
			continue
		}

		// Safe mode: only probe plausible hardware. Writing vendor frames
		// at unknown serial devices is how detection breaks peripherals.
		if !likely {
			continue
		}
		confidence := detection.Medium
		if probePort(ctx, port.Name) {
			confidence = detection.High
		}
		devices = append(devices, deviceInfo(port, vidpid, confidence))
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func deviceInfo(port *enumerator.PortDetails, vidpid string, confidence detection.Confidence) detection.DeviceInfo {
	info := detection.DeviceInfo{
		Transport:  "usb",
		Path:       port.Name,
		Name:       port.Product,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if vidpid != "" {
		info.Metadata["vidpid"] = vidpid
	}
	if port.SerialNumber != "" {
		info.Metadata["serial"] = port.SerialNumber
	}
	return info
}

// isLikelyCS108 checks descriptors for CS108 hardware.
func isLikelyCS108(vidpid, product string) bool {
	for _, known := range knownVIDPIDs {
		if vidpid == known {
			return true
		}
	}
	lower := strings.ToLower(product)
	return strings.Contains(lower, "cs108") || strings.Contains(lower, "cp210")
}

// probePort opens the port and sends a trigger state query, a harmless
// command every firmware revision answers. Single attempt only: retrying
// against a device that is not a CS108 stresses whatever it actually is.
func probePort(ctx context.Context, path string) bool {
	t, err := usb.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = t.Close() }()

	answered := make(chan struct{}, 1)
	t.SetReceiver(func(chunk []byte) {
		for _, b := range chunk {
			if b == frame.Prefix {
				select {
				case answered <- struct{}{}:
				default:
				}
				return
			}
		}
	})

	pkt, err := frame.Marshal(frame.ConnUSB, frame.ModuleNotify, []byte{0xA0, 0x01})
	if err != nil {
		return false
	}
	if err := t.Write(pkt); err != nil {
		return false
	}

	select {
	case <-answered:
		return true
	case <-time.After(2 * time.Second):
		return false
	case <-ctx.Done():
		return false
	}
}
