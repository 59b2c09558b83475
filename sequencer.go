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
	"fmt"
	"time"
)

// queueDepth bounds the number of commands waiting behind the in-flight
// exchange. The protocol is strictly request/response, so a deep backlog
// only signals a stuck caller; reject instead of buffering.
const queueDepth = 5

// exchange is one command waiting for, or undergoing, its wire round trip.
// done runs on the engine goroutine; it may submit follow-up commands.
type exchange struct {
	cmd       *Command
	done      func(CommandResult)
	deadline  time.Time // zero until dispatched
	notBefore time.Time // retry hold-down; zero for fresh commands
	attempt   int
}

// sequencer serializes command exchanges: exactly one command is on the
// wire at a time, followers queue behind it. It is a passive state machine
// owned and driven solely by the engine goroutine; it does no locking and
// starts no timers. The loop calls pump after every state change and arms
// its wake-up timer from the returned deadline.
type sequencer struct {
	write    func(*Command) error
	now      func() time.Time
	inflight *exchange
	queue    []*exchange
	lastSend time.Time
}

func newSequencer(write func(*Command) error, now func() time.Time) *sequencer {
	if now == nil {
		now = time.Now
	}
	return &sequencer{write: write, now: now}
}

// submit accepts a command for eventual dispatch. done is invoked exactly
// once with the terminal result. Returns ErrQueueFull at depth.
func (s *sequencer) submit(cmd *Command, done func(CommandResult)) error {
	if len(s.queue) >= queueDepth {
		return fmt.Errorf("%w: %s rejected at depth %d", ErrQueueFull, cmd.name(), len(s.queue))
	}
	s.queue = append(s.queue, &exchange{cmd: cmd, done: done})
	return nil
}

// pump dispatches the next eligible command and returns the next time the
// loop must call back: the in-flight deadline, the send-spacing gate, or a
// retry hold-down. Zero means nothing is pending.
func (s *sequencer) pump() time.Time {
	now := s.now()
	for s.inflight == nil && len(s.queue) > 0 {
		head := s.queue[0]

		if wait := s.gate(head, now); !wait.IsZero() {
			return wait
		}

		s.queue = s.queue[1:]
		head.attempt++
		if err := s.write(head.cmd); err != nil {
			head.done(CommandResult{Err: fmt.Errorf("%s: %w", head.cmd.name(), err)})
			continue
		}
		s.lastSend = now
		head.deadline = now.Add(head.cmd.timeout())
		s.inflight = head
	}

	if s.inflight != nil {
		return s.inflight.deadline
	}
	return time.Time{}
}

// gate returns the time the head command becomes eligible, or zero if it
// may go now. Spacing applies between consecutive sends regardless of how
// fast replies arrive.
func (s *sequencer) gate(head *exchange, now time.Time) time.Time {
	eligible := s.lastSend.Add(CommandSpacing)
	if head.notBefore.After(eligible) {
		eligible = head.notBefore
	}
	if eligible.After(now) {
		return eligible
	}
	return time.Time{}
}

// current returns the in-flight command, or nil.
func (s *sequencer) current() *Command {
	if s.inflight == nil {
		return nil
	}
	return s.inflight.cmd
}

// resolve completes the in-flight exchange with res. No-op when nothing is
// in flight; late replies after a timeout land here harmlessly.
func (s *sequencer) resolve(res CommandResult) {
	ex := s.inflight
	if ex == nil {
		return
	}
	s.inflight = nil
	ex.done(res)
}

// expire handles the in-flight deadline passing. Commands marked
// OmitReplyOK resolve as success: their terminal reply is known to be
// dropped by production firmware. Retryable commands requeue at the front
// on an escalating hold-down until the attempt cap.
func (s *sequencer) expire() {
	ex := s.inflight
	if ex == nil || s.now().Before(ex.deadline) {
		return
	}
	s.inflight = nil

	if ex.cmd.OmitReplyOK {
		Debugf("sequencer: %s reply omitted, treating as success", ex.cmd.name())
		ex.done(CommandResult{})
		return
	}
	if ex.cmd.Retryable && ex.attempt < CommandMaxAttempts {
		delay := retryDelay(ex.attempt)
		Debugf("sequencer: %s attempt %d timed out, retrying in %v", ex.cmd.name(), ex.attempt, delay)
		ex.deadline = time.Time{}
		ex.notBefore = s.now().Add(delay)
		s.queue = append([]*exchange{ex}, s.queue...)
		return
	}
	ex.done(CommandResult{Err: fmt.Errorf("%s after %d attempts: %w", ex.cmd.name(), ex.attempt, ErrCommandTimeout)})
}

// retryDelay returns the hold-down before resend number attempt+1.
func retryDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return CommandRetryDelay1
	case 2:
		return CommandRetryDelay2
	default:
		return CommandRetryDelay3
	}
}

// flush fails the in-flight exchange and the whole backlog with err. Used
// on disconnect and close.
func (s *sequencer) flush(err error) {
	if s.inflight != nil {
		ex := s.inflight
		s.inflight = nil
		ex.done(CommandResult{Err: err})
	}
	pending := s.queue
	s.queue = nil
	for _, ex := range pending {
		ex.done(CommandResult{Err: err})
	}
}

// idle reports whether nothing is in flight or queued.
func (s *sequencer) idle() bool {
	return s.inflight == nil && len(s.queue) == 0
}
