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

import "time"

// Connection retry constants control transport connection behavior.
const (
	// DefaultConnectionRetries is the number of attempts to connect to a device.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0) to prevent thundering herd.
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Command timeout defaults observed against production firmware. Replies to
// module commands normally arrive within tens of milliseconds; these bounds
// catch a wedged radio without declaring failure on a busy one.
const (
	// DefaultCommandTimeout applies to commands without a documented figure.
	DefaultCommandTimeout = 2 * time.Second
	// BatteryCommandTimeout bounds battery voltage queries and report toggles.
	BatteryCommandTimeout = 2 * time.Second
	// TriggerCommandTimeout bounds trigger state queries and report toggles.
	TriggerCommandTimeout = 1 * time.Second
	// ScanStartTimeout bounds the wait for the Command-Begin that confirms
	// an inventory actually started.
	ScanStartTimeout = 3 * time.Second
	// ScanStopTimeout bounds the wait for the Command-End after an abort.
	// The firmware frequently never sends it; see Command.OmitReplyOK.
	ScanStopTimeout = 2 * time.Second
	// TagAccessTimeout bounds tag read/write/lock operations, which need a
	// full singulation round trip before the access result comes back.
	TagAccessTimeout = 3 * time.Second
)

// Command retry constants. A timed-out retryable command is requeued on a
// fixed escalating schedule before the timeout is surfaced.
const (
	// CommandMaxAttempts is the total number of tries for a retryable command.
	CommandMaxAttempts = 3
	// CommandRetryDelay1 is the delay before the first resend.
	CommandRetryDelay1 = 500 * time.Millisecond
	// CommandRetryDelay2 is the delay before the second resend.
	CommandRetryDelay2 = 1500 * time.Millisecond
	// CommandRetryDelay3 caps the schedule; it is only reached when the
	// attempt cap is raised above the default.
	CommandRetryDelay3 = 5 * time.Second
)

// Firmware pacing constants.
const (
	// CommandSpacing is the minimum gap between consecutive downlink
	// commands. The radio firmware drops or garbles commands sent
	// back-to-back even when the previous reply has already arrived.
	CommandSpacing = 50 * time.Millisecond
	// ScanRestartDwell is the minimum gap between stopping an inventory and
	// starting the next one, per the firmware's settle-time requirement.
	ScanRestartDwell = 1000 * time.Millisecond
	// TriggerDebounce is the window within which flapping trigger
	// notifications are coalesced before acting on them.
	TriggerDebounce = 100 * time.Millisecond
)
