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

// Package detection discovers CS108 readers without user configuration.
// Transport-specific detectors register themselves on import; DetectAll
// runs them in parallel and merges the results.
package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode represents the level of invasiveness for device detection.
type Mode int

const (
	// Passive mode only checks device descriptors without any communication.
	Passive Mode = iota
	// Safe mode sends a single harmless query to candidate devices.
	Safe
)

// Confidence represents how certain a detector is about a device.
type Confidence int

const (
	// Low confidence - the port exists but nothing confirms a CS108.
	Low Confidence = iota
	// Medium confidence - descriptors match known CS108 hardware.
	Medium
	// High confidence - the device answered a CS108 command.
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents one detected reader.
type DeviceInfo struct {
	// Metadata carries extra descriptor fields (vidpid, serial, name).
	Metadata map[string]string
	// Transport type: "usb" or "ble".
	Transport string
	// Path is the connection path (serial port, BLE name).
	Path string
	// Name is a human-readable device name.
	Name       string
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures detection behavior.
type Options struct {
	// Blocklist holds USB VID:PID pairs to skip.
	Blocklist []string
	// IgnorePaths holds device paths to skip outright.
	IgnorePaths []string
	// Transports limits which detectors run (empty = all).
	Transports []string
	// CacheTTL is how long cached results stay valid.
	CacheTTL time.Duration
	// Timeout bounds the whole detection run.
	Timeout time.Duration
	// Mode selects descriptor-only or probing detection.
	Mode Mode
	// EnableCache reuses recent results.
	EnableCache bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector is a transport-specific device finder.
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	// ErrNoDevicesFound indicates no readers were detected.
	ErrNoDevicesFound = errors.New("no CS108 devices found")
	// ErrDetectionTimeout indicates detection timed out.
	ErrDetectionTimeout = errors.New("detection timeout")
)

var registry []Detector

// RegisterDetector adds a detector to the registry. Called from detector
// package init functions.
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}
	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs all registered (and requested) detectors in parallel.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}

	results := make(chan detectionResult, len(detectors))
	for _, detector := range detectors {
		go func(d Detector) {
			results <- runDetector(ctx, d, opts)
		}(detector)
	}

	var all []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			} else {
				all = append(all, res.devices...)
			}
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(all) > 0 {
		return all, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

func runDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, found := getCached(d.Transport(), opts.CacheTTL); found {
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(d.Transport(), devices)
		} else {
			// Stale entries for unplugged devices must not outlive the
			// detection run that noticed they are gone.
			clearCacheForTransport(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices applies IgnorePaths and Blocklist to cached results, which
// bypass the detector's own filtering.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// IsBlocked checks whether a VID:PID pair is blocklisted.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, blocked := range blocklist {
		if vidpid == strings.ToUpper(strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// IsPathIgnored checks whether a device path is explicitly ignored.
func IsPathIgnored(path string, ignorePaths []string) bool {
	for _, ignored := range ignorePaths {
		if strings.EqualFold(strings.TrimSpace(path), strings.TrimSpace(ignored)) {
			return true
		}
	}
	return false
}

// ClearDetectionCache removes all cached detection results.
func ClearDetectionCache() {
	clearCache()
}
