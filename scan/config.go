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

package scan

import "time"

// Config controls session behavior.
type Config struct {
	// RemovalTimeout is how long a tag must be absent from the read
	// stream before OnTagRemoved fires. A tag at the edge of the field
	// flickers in and out of reads; this keeps presence stable.
	RemovalTimeout time.Duration

	// SweepInterval is how often the session scans for expired tags.
	SweepInterval time.Duration
}

// DefaultConfig returns the defaults used by NewSession.
func DefaultConfig() *Config {
	return &Config{
		RemovalTimeout: 1 * time.Second,
		SweepInterval:  250 * time.Millisecond,
	}
}

func (c *Config) removalTimeout() time.Duration {
	if c.RemovalTimeout > 0 {
		return c.RemovalTimeout
	}
	return 1 * time.Second
}

func (c *Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	return 250 * time.Millisecond
}
