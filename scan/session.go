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

// Package scan provides continuous tag monitoring on top of a reader:
// dedup, presence tracking with removal timeouts, and callback delivery.
package scan

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cs108 "github.com/trakrf/go-cs108"
	"github.com/trakrf/go-cs108/internal/syncutil"
)

// Session consumes a reader's event stream and maintains the set of tags
// currently in the field. Callbacks run on the session goroutine; a slow
// callback delays presence bookkeeping, not the reader engine.
type Session struct {
	// OnTagDetected fires when a tag first enters the field.
	OnTagDetected func(tag *TagState) error
	// OnTagRemoved fires when a tag has been absent for RemovalTimeout.
	OnTagRemoved func(epc string)
	// OnTagUpdated fires on every subsequent read of a present tag.
	OnTagUpdated func(tag *TagState) error
	// OnBarcode fires for each decoded barcode.
	OnBarcode func(data []byte)
	// OnBattery fires for each battery report.
	OnBattery func(millivolts uint16)
	// OnError fires for non-fatal reader errors.
	OnError func(err error)

	reader *cs108.Reader
	config *Config

	mu   syncutil.RWMutex
	tags map[string]*TagState

	paused atomic.Bool
	closed atomic.Bool
}

// NewSession creates a session over reader. The reader must already be
// connected; the session owns inventory start/stop but not the connection.
func NewSession(reader *cs108.Reader, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		reader: reader,
		config: config,
		tags:   make(map[string]*TagState),
	}
}

// Start begins inventory and blocks consuming events until ctx is done or
// the reader closes. Always returns after stopping the inventory.
func (s *Session) Start(ctx context.Context) error {
	if err := s.reader.StartInventory(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.reader.StopInventory(stopCtx)
	}()

	sweep := time.NewTicker(s.config.sweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.reader.Events():
			if !ok {
				return cs108.ErrReaderClosed
			}
			s.handleEvent(ev)
		case now := <-sweep.C:
			s.expireTags(now)
		}
	}
}

// Pause stops the inventory but keeps consuming presence state. Used to
// free the radio for tag access operations.
func (s *Session) Pause(ctx context.Context) error {
	if !s.paused.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.reader.StopInventory(ctx); err != nil {
		s.paused.Store(false)
		return fmt.Errorf("pause session: %w", err)
	}
	return nil
}

// Resume restarts the inventory after Pause.
func (s *Session) Resume(ctx context.Context) error {
	if !s.paused.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.reader.StartInventory(ctx); err != nil {
		s.paused.Store(true)
		return fmt.Errorf("resume session: %w", err)
	}
	return nil
}

// WithPaused runs fn with the inventory paused, resuming afterwards even
// when fn fails. The usual wrapper for tag access mid-session.
func (s *Session) WithPaused(ctx context.Context, fn func(context.Context) error) error {
	if err := s.Pause(ctx); err != nil {
		return err
	}
	defer func() {
		resumeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Resume(resumeCtx)
	}()
	return fn(ctx)
}

// Snapshot returns a copy of all tags currently considered present.
func (s *Session) Snapshot() []TagState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TagState, 0, len(s.tags))
	for _, t := range s.tags {
		out = append(out, *t)
	}
	return out
}

// Present reports whether a tag (hex EPC) is currently in the field.
func (s *Session) Present(epc string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tags[epc]
	return ok
}

// Close marks the session closed. The reader is left to its owner.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Session) handleEvent(ev cs108.Event) {
	if s.closed.Load() {
		return
	}
	switch e := ev.(type) {
	case cs108.TagReadEvent:
		s.handleTagRead(&e.Tag)
	case cs108.BarcodeEvent:
		if s.OnBarcode != nil {
			s.OnBarcode(e.Data)
		}
	case cs108.BatteryEvent:
		if s.OnBattery != nil {
			s.OnBattery(e.Millivolts)
		}
	case cs108.ErrorEvent:
		if s.OnError != nil {
			s.OnError(e.Err)
		}
	case cs108.StateChangeEvent, cs108.TriggerEvent:
		// Presence tracking does not care; the application can watch the
		// reader's event stream directly for these.
	}
}

func (s *Session) handleTagRead(rec *cs108.TagRecord) {
	now := time.Now()
	epc := newTagState(rec, now).EPC

	s.mu.Lock()
	existing, ok := s.tags[epc]
	if ok {
		existing.update(rec, now)
		snapshot := *existing
		s.mu.Unlock()
		if s.OnTagUpdated != nil {
			_ = s.OnTagUpdated(&snapshot)
		}
		return
	}
	fresh := newTagState(rec, now)
	s.tags[epc] = fresh
	snapshot := *fresh
	s.mu.Unlock()

	if s.OnTagDetected != nil {
		_ = s.OnTagDetected(&snapshot)
	}
}

// expireTags removes tags not seen within the removal timeout.
func (s *Session) expireTags(now time.Time) {
	timeout := s.config.removalTimeout()

	s.mu.Lock()
	var removed []string
	for epc, t := range s.tags {
		if now.Sub(t.LastSeen) > timeout {
			delete(s.tags, epc)
			removed = append(removed, epc)
		}
	}
	s.mu.Unlock()

	if s.OnTagRemoved != nil {
		for _, epc := range removed {
			s.OnTagRemoved(epc)
		}
	}
}
